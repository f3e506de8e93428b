/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"embed"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/blnkfinance/tillsync/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn   *sql.DB
	Driver string
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Driver, configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Driver: configuration.DataSource.Driver}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens the order store and brings its schema up to date.
func ConnectDB(driver, dns string) (*sql.DB, error) {
	db, err := Open(driver, dns)
	if err != nil {
		return nil, err
	}
	n, err := Migrate(db, driver, migrate.Up)
	if err != nil {
		log.Printf("database migration error ❌: %v", err)
		return nil, err
	}
	if n > 0 {
		log.Printf("applied %d order store migrations", n)
	}
	return db, nil
}

// Open connects to the store without touching the schema.
func Open(driver, dns string) (*sql.DB, error) {
	db, err := sql.Open(driver, dns)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// a till has one writer; a single connection also keeps :memory: databases whole
		db.SetMaxOpenConns(1)
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded migrations in the given direction.
func Migrate(db *sql.DB, driver string, direction migrate.MigrationDirection) (int, error) {
	migrations := migrate.EmbedFileSystemMigrationSource{
		FileSystem: SQLFiles,
		Root:       "sql",
	}
	return migrate.Exec(db, driver, migrations, direction)
}

// rebind rewrites ? placeholders into the driver's bind style.
func (d Datasource) rebind(query string) string {
	if d.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []string) []interface{} {
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}

func inClause(column string, n int) string {
	return fmt.Sprintf("%s IN (%s)", column, placeholders(n))
}

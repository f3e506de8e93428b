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

package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Ledger: LedgerConfig{Url: "http://ledger.local"},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "orders.db"},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "ledger URL is required" {
		t.Errorf("Expected ledger URL required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "orders.db", Driver: "oracle"},
		Ledger:     LedgerConfig{Url: "http://ledger.local"},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil {
		t.Errorf("Expected unsupported driver error")
	}

	cnf = Configuration{
		ProjectName: "Test Till",
		DataSource:  DataSourceConfig{Dns: " orders.db "},
		Ledger:      LedgerConfig{Url: "http://ledger.local/"},
	}
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.DataSource.Driver != DEFAULT_DRIVER {
		t.Errorf("Expected default driver %s, got %s", DEFAULT_DRIVER, cnf.DataSource.Driver)
	}
	if cnf.DataSource.Dns != "orders.db" {
		t.Errorf("Expected trimmed DNS, got %q", cnf.DataSource.Dns)
	}
	if cnf.Ledger.Url != "http://ledger.local" {
		t.Errorf("Expected trailing slash trimmed, got %q", cnf.Ledger.Url)
	}
	if cnf.Sync.MaxAttempts != DEFAULT_MAX_ATTEMPTS {
		t.Errorf("Expected default max attempts, got %d", cnf.Sync.MaxAttempts)
	}
	if cnf.Queue.WebhookQueue != DEFAULT_WEBHOOK_QUEUE {
		t.Errorf("Expected default webhook queue, got %s", cnf.Queue.WebhookQueue)
	}
}

func TestProbeTimeoutShorterThanSubmit(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "orders.db"},
		Ledger:     LedgerConfig{Url: "http://ledger.local", ProbeTimeout: 60, SubmitTimeout: 10},
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.Ledger.ProbeTimeoutDuration() >= cnf.Ledger.SubmitTimeoutDuration() {
		t.Errorf("Expected probe timeout %v to be shorter than submit timeout %v",
			cnf.Ledger.ProbeTimeoutDuration(), cnf.Ledger.SubmitTimeoutDuration())
	}
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "orders.db"},
		Ledger:     LedgerConfig{Url: "http://ledger.local"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.RateLimit.Burst == nil || *cnf.RateLimit.Burst != 20 {
		t.Errorf("Expected burst 20, got %v", cnf.RateLimit.Burst)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tillsync.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp.db"},
		Ledger:      LedgerConfig{Url: "http://ledger.local"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("TILLSYNC_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("TILLSYNC_PROJECT_NAME")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "temp.db" {
		t.Errorf("Expected DataSource.Dns to be 'temp.db', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tillsync.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource:  DataSourceConfig{Dns: "init.db"},
		Ledger:      LedgerConfig{Url: "http://ledger.local"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loadedConfig.ProjectName != "InitConfig Test" {
		t.Errorf("Expected ProjectName to be 'InitConfig Test', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.Sync.Interval().Seconds() != DEFAULT_SYNC_INTERVAL {
		t.Errorf("Expected default sync interval, got %v", loadedConfig.Sync.Interval())
	}
}

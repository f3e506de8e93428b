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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/tillsync"
	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/internal/notification"
)

// TillSyncCLI represents the CLI application, encapsulating the root Cobra command.
type TillSyncCLI struct {
	cmd *cobra.Command
}

// tillsyncInstance holds the engine and its configuration for the commands.
type tillsyncInstance struct {
	tillsync   *tillsync.TillSync
	cnf        *config.Configuration
	configFile string
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command runs.
func preRun(app *tillsyncInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(app.configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newTillSync, err := tillsync.NewFromConfig(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.tillsync = newTillSync
		app.cnf = cnf
		return nil
	}
}

// postRun releases the engine once the command is done.
func postRun(app *tillsyncInstance) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if app.tillsync == nil {
			return
		}
		if err := app.tillsync.Close(); err != nil {
			logrus.WithError(err).Warn("error closing tillsync")
		}
	}
}

// NewCLI creates the command-line interface with the start, workers, sync
// and migrate commands.
func NewCLI() *TillSyncCLI {
	app := &tillsyncInstance{}

	var rootCmd = &cobra.Command{
		Use:   "tillsync",
		Short: "Offline order queue and ledger sync for point-of-sale tills",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&app.configFile, "config", "./tillsync.json", "Configuration file for tillsync")
	rootCmd.PersistentPreRunE = preRun(app)
	rootCmd.PersistentPostRun = postRun(app)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(syncCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &TillSyncCLI{cmd: rootCmd}
}

func (w TillSyncCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}

/*
Copyright 2025 NBA Stats Scraper Authors.

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

	orchestrator "github.com/najicham/nba-stats-scraper-sub004"
	"github.com/najicham/nba-stats-scraper-sub004/config"
	"github.com/najicham/nba-stats-scraper-sub004/database"
	"github.com/najicham/nba-stats-scraper-sub004/internal/notification"
)

// Orch wraps the root Cobra command for the CLI application.
type Orch struct {
	cmd *cobra.Command
}

// orchInstance holds the orchestrator instance and its configuration, shared
// by every subcommand after preRun.
type orchInstance struct {
	orchestrator *orchestrator.Orchestrator
	cnf          *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the orchestrator before any
// command runs.
func preRun(app *orchInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newOrchestrator, err := setupOrchestrator(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.orchestrator = newOrchestrator
		app.cnf = cnf

		return nil
	}
}

func setupOrchestrator(cfg *config.Configuration) (*orchestrator.Orchestrator, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newOrchestrator, err := orchestrator.New(db)
	if err != nil {
		return nil, fmt.Errorf("error creating orchestrator: %v", err)
	}
	return newOrchestrator, nil
}

// NewCLI assembles the command-line interface: server, workers, migrations
// and the operational commands.
func NewCLI() *Orch {
	var configFile string
	b := &orchInstance{}

	var rootCmd = &cobra.Command{
		Use:   "orchestrator",
		Short: "NBA stats pipeline orchestration",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./orchestrator.json", "Configuration file for the orchestrator")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(statusCommands(b))
	rootCmd.AddCommand(forceTriggerCommands(b))
	rootCmd.AddCommand(reconcileCommands(b))

	return &Orch{cmd: rootCmd}
}

func (w Orch) executeCLI() {
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

/*
Copyright 2025 Paintbox Authors.

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

	"github.com/paintbox-ai/paintbox"
	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/database"
	"github.com/paintbox-ai/paintbox/internal/notification"
)

// Cli encapsulates the root Cobra command.
type Cli struct {
	cmd *cobra.Command
}

// paintboxInstance holds the runtime service instance and configuration,
// shared by the subcommands.
type paintboxInstance struct {
	paintbox *paintbox.Paintbox
	cnf      *config.Configuration
}

// recoverPanic handles any panic during execution and logs it before
// exiting.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the service instance before
// any subcommand runs.
func preRun(app *paintboxInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("paintbox.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPaintbox, err := setupPaintbox(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.paintbox = newPaintbox
		app.cnf = cnf

		return nil
	}
}

// setupPaintbox connects the datasource and builds the service instance.
func setupPaintbox(cfg *config.Configuration) (*paintbox.Paintbox, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newPaintbox, err := paintbox.NewPaintbox(db)
	if err != nil {
		return nil, fmt.Errorf("error creating paintbox: %v", err)
	}
	return newPaintbox, nil
}

// NewCLI assembles the root command and its subcommands.
func NewCLI() *Cli {
	var configFile string
	b := &paintboxInstance{}

	var rootCmd = &cobra.Command{
		Use:   "paintbox",
		Short: "AI generation pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./paintbox.json", "Configuration file for paintbox")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Cli{cmd: rootCmd}
}

// executeCLI runs the root command.
func (w Cli) executeCLI() {
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

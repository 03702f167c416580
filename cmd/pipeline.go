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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	orchestrator "github.com/najicham/nba-stats-scraper-sub004"
	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

func parsePhaseArg(raw string) (model.Phase, error) {
	phase := model.Phase(raw)
	if !phase.Valid() {
		return "", apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("unknown phase: %s", raw), nil)
	}
	return phase, nil
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(apierror.MapErrorToExitCode(err))
	}
}

// statusCommands defines "status <phase> <run_date>": it prints the phase
// completion document, latest processor history and breaker states as JSON.
func statusCommands(b *orchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <phase> <run_date>",
		Short: "show completion status for a phase and run date",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			phase, err := parsePhaseArg(args[0])
			exitOnError(err)

			runDate, err := model.ParseRunDate(args[1])
			exitOnError(err)

			status, err := b.orchestrator.GetPhaseStatus(context.Background(), phase, runDate)
			exitOnError(err)

			printJSON(status)
		},
	}

	return cmd
}

// forceTriggerCommands defines "force-trigger <phase> <run_date>": it
// publishes the downstream trigger regardless of the completion fraction and
// records who asked for it.
func forceTriggerCommands(b *orchInstance) *cobra.Command {
	var actor, reason string

	cmd := &cobra.Command{
		Use:   "force-trigger <phase> <run_date>",
		Short: "trigger the downstream phase regardless of threshold",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			phase, err := parsePhaseArg(args[0])
			exitOnError(err)

			runDate, err := model.ParseRunDate(args[1])
			exitOnError(err)

			err = b.orchestrator.ForceTrigger(context.Background(), phase, runDate, actor, reason)
			exitOnError(err)

			fmt.Printf("Forced trigger for %s %s\n", phase, runDate)
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "cli", "who is forcing the trigger")
	cmd.Flags().StringVar(&reason, "reason", "", "why the trigger is being forced")

	return cmd
}

// reconcileCommands defines "reconcile": a one-shot sweep over the
// reconciliation window. With --dry-run the report lists what would be
// repaired without writing anything.
func reconcileCommands(b *orchInstance) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "sweep recent run dates and repair lost completions",
		Run: func(cmd *cobra.Command, args []string) {
			reconciler := orchestrator.NewReconciler(b.orchestrator)
			report, err := reconciler.Sweep(context.Background(), dryRun)
			exitOnError(err)

			printJSON(report)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing corrections or triggers")

	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	conflictsJSON   bool
	conflictsNotify bool
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Detect conflicts in the current graph",
	Long: `Runs all conflict checks: file contention between in-progress agents,
overlapping features, circular dependencies, and stale work-in-progress.`,
	RunE: runConflicts,
}

func init() {
	conflictsCmd.Flags().BoolVar(&conflictsJSON, "json", false, "Output reports as JSON")
	conflictsCmd.Flags().BoolVar(&conflictsNotify, "notify", false, "Also deliver reports to the configured notification channels")
	rootCmd.AddCommand(conflictsCmd)
}

func runConflicts(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	reports, err := eng.detector.DetectAll(ctx)
	if err != nil {
		return err
	}

	if conflictsNotify {
		eng.notifier.Notify(ctx, reports)
	}

	if conflictsJSON {
		return json.NewEncoder(os.Stdout).Encode(reports)
	}

	if len(reports) == 0 {
		fmt.Println("No conflicts detected.")
		return nil
	}
	fmt.Printf("%d conflict(s) detected:\n", len(reports))
	for _, r := range reports {
		fmt.Printf("  [%-7s] %-20s %s\n", r.Severity, r.Type, r.Message)
	}
	return nil
}

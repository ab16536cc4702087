package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graph statistics",
	Long:  "Display entity and relationship counts and the last indexing time",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.store.Stats()
	if err != nil {
		return err
	}

	lastIndexed, err := eng.store.LastIndexedAt()
	if err != nil {
		return err
	}
	if !lastIndexed.IsZero() {
		stats["lastIndexedAt"] = lastIndexed.Format("2006-01-02 15:04:05 MST")
	}
	stats["database"] = eng.db.Path()

	if statusJSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	fmt.Printf("Database:      %s\n", stats["database"])
	fmt.Printf("Entities:      %d\n", stats["entities"])
	fmt.Printf("Relationships: %d\n", stats["relationships"])
	if byType, ok := stats["entitiesByType"].(map[string]int); ok && len(byType) > 0 {
		fmt.Println("By type:")
		for _, t := range []string{"plan", "agent", "feature", "file", "tag", "concept"} {
			if n := byType[t]; n > 0 {
				fmt.Printf("  %-8s %d\n", t, n)
			}
		}
	}
	if !lastIndexed.IsZero() {
		fmt.Printf("Last indexed:  %s\n", stats["lastIndexedAt"])
	} else {
		fmt.Println("Last indexed:  never")
	}
	return nil
}

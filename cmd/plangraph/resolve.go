package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var resolveJSON bool

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run entity resolution across the whole graph",
	Long: `Compares entities pairwise within each type, classifies duplicates and
similar pairs, and regenerates SIMILAR_TO edges to match.`,
	RunE: runResolve,
}

var (
	checkTitle       string
	checkDescription string
)

var resolveCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a proposed feature against existing ones",
	Long:  "Scores a feature title and description against every feature in the graph and reports near matches, without writing anything.",
	RunE:  runResolveCheck,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Output the resolution result as JSON")
	resolveCheckCmd.Flags().StringVar(&checkTitle, "title", "", "Proposed feature title (required)")
	resolveCheckCmd.Flags().StringVar(&checkDescription, "description", "", "Proposed feature description")
	resolveCheckCmd.MarkFlagRequired("title")
	resolveCmd.AddCommand(resolveCheckCmd)
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.resolver.ResolveAll(context.Background())
	if err != nil {
		return err
	}

	if resolveJSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Printf("Duplicates: %d, similar pairs: %d\n", len(result.Duplicates), len(result.Similar))
	for _, p := range result.Duplicates {
		fmt.Printf("  DUPLICATE  %s <-> %s  (%.3f)\n", p.A.CanonicalID, p.B.CanonicalID, p.Score.Combined)
	}
	for _, p := range result.Similar {
		fmt.Printf("  SIMILAR    %s <-> %s  (%.3f)\n", p.A.CanonicalID, p.B.CanonicalID, p.Score.Combined)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("  -> %s\n", s)
	}
	return nil
}

func runResolveCheck(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	matches, err := eng.resolver.CheckNewFeature(context.Background(), checkTitle, checkDescription)
	if err != nil {
		return err
	}

	if len(matches) == 0 {
		fmt.Println("No similar features found.")
		return nil
	}
	fmt.Printf("Found %d similar feature(s):\n", len(matches))
	for _, m := range matches {
		fmt.Printf("  %s  (%s)\n", m.CanonicalID, m.Name)
	}
	return nil
}

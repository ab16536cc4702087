package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/planwell/plangraph/internal/retrieval"
)

var recipesJSON bool

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "List the available retrieval recipes",
	RunE:  runRecipes,
}

func init() {
	recipesCmd.Flags().BoolVar(&recipesJSON, "json", false, "Output recipes as JSON")
	rootCmd.AddCommand(recipesCmd)
}

func runRecipes(cmd *cobra.Command, args []string) error {
	recipes := retrieval.NewRegistry().List()

	if recipesJSON {
		return json.NewEncoder(os.Stdout).Encode(recipes)
	}

	for _, r := range recipes {
		fmt.Printf("%-17s lex %.2f  sem %.2f  graph %.2f", r.Name,
			r.Weights.Lexical, r.Weights.Semantic, r.Weights.Graph)
		if r.GraphConfig != nil {
			fmt.Printf("  (depth %d, decay %.1f)", r.GraphConfig.MaxDepth, r.GraphConfig.HopDecay)
		}
		fmt.Println()
		fmt.Printf("    %s\n", r.Description)
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planwell/plangraph/internal/retrieval"
)

var (
	searchRecipe string
	searchTopK   int
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the graph with hybrid ranked retrieval",
	Long: `Runs a query through the retrieval router and rank fusion. The router
picks a recipe from the query shape; --recipe overrides it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchRecipe, "recipe", "", "Force a retrieval recipe instead of routing")
	searchCmd.Flags().IntVarP(&searchTopK, "limit", "n", 0, "Number of results (default: from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	query := strings.Join(args, " ")

	var override *retrieval.Recipe
	if searchRecipe != "" {
		recipe, err := eng.registry.Get(searchRecipe)
		if err != nil {
			return err
		}
		override = &recipe
	}

	topK := searchTopK
	if topK <= 0 {
		topK = eng.cfg.Retrieval.TopK
	}

	results, err := eng.retriever.Search(context.Background(), query, topK, override)
	if err != nil {
		return err
	}

	if searchJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%-7s] %s  (score %.4f, via %s)\n",
			i+1, r.Entity.Type, r.Entity.CanonicalID, r.Score, strings.Join(r.Sources, "+"))
		if r.Entity.Name != "" && r.Entity.Name != r.Entity.CanonicalID {
			fmt.Printf("    %s\n", r.Entity.Name)
		}
	}
	return nil
}

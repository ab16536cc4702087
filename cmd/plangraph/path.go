package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planwell/plangraph/internal/storage"
)

var (
	pathMaxDepth int
	pathMaxPaths int
	pathType     string
)

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Find paths between two entities",
	Long: `Finds undirected paths between two entities named by canonical id.
Use --type to disambiguate when the same canonical id exists for more
than one entity type.`,
	Args: cobra.ExactArgs(2),
	RunE: runPath,
}

func init() {
	pathCmd.Flags().IntVar(&pathMaxDepth, "max-depth", 4, "Maximum path length in hops")
	pathCmd.Flags().IntVar(&pathMaxPaths, "max-paths", 5, "Maximum number of paths to return")
	pathCmd.Flags().StringVar(&pathType, "type", "", "Entity type of both endpoints (plan, agent, feature, file, tag, concept)")
	rootCmd.AddCommand(pathCmd)
}

func runPath(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	et := storage.EntityType(pathType)
	if et != "" && !et.IsValid() {
		return fmt.Errorf("invalid entity type %q", pathType)
	}

	from, err := eng.store.GetEntity(args[0], et)
	if err != nil {
		return fmt.Errorf("from entity: %w", err)
	}
	to, err := eng.store.GetEntity(args[1], et)
	if err != nil {
		return fmt.Errorf("to entity: %w", err)
	}

	paths, err := eng.store.GetPath(from.ID, to.ID, pathMaxDepth, pathMaxPaths)
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		fmt.Printf("No path between %s and %s within %d hops.\n", from.CanonicalID, to.CanonicalID, pathMaxDepth)
		return nil
	}
	for i, path := range paths {
		steps := make([]string, len(path))
		for j, e := range path {
			steps[j] = fmt.Sprintf("%s:%s", e.Type, e.CanonicalID)
		}
		fmt.Printf("%2d. %s\n", i+1, strings.Join(steps, " -> "))
	}
	return nil
}

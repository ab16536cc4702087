package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planwell/plangraph/internal/extract"
	"github.com/planwell/plangraph/internal/storage"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index [dir...]",
	Short: "Scan plan roots and rebuild the graph",
	Long: `Walks the given directories (default: the configured watcher roots),
extracts entities and edges from each plan directory, and commits them to
the graph. Unchanged files are skipped unless --force is given.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "Re-extract even when file content hashes are unchanged")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	root, err := resolveRoot()
	if err != nil {
		return err
	}

	roots := args
	if len(roots) == 0 {
		roots = eng.cfg.Watcher.Roots
	}

	var dirs []string
	for _, r := range roots {
		if !filepath.IsAbs(r) {
			r = filepath.Join(root, r)
		}
		found, err := findPlanDirs(r)
		if err != nil {
			eng.logger.Warn("Failed to scan root", "root", r, "error", err)
			continue
		}
		dirs = append(dirs, found...)
	}

	if len(dirs) == 0 {
		fmt.Println("No plan directories found.")
		return nil
	}

	var indexed, skipped, failed int
	var entChanged, relChanged int
	for _, dir := range dirs {
		fresh, files, err := dirChanged(eng.store, dir)
		if err != nil {
			eng.logger.Warn("Failed to read plan directory", "dir", dir, "error", err)
			failed++
			continue
		}
		if !fresh && !indexForce {
			skipped++
			continue
		}

		result, err := eng.extractor.ExtractPlan(dir)
		if err != nil {
			eng.logger.Warn("Extraction failed", "dir", dir, "error", err)
			failed++
			continue
		}
		ec, rc, err := extract.Commit(eng.store, eng.logger, result)
		if err != nil {
			eng.logger.Warn("Failed to store extraction result", "dir", dir, "error", err)
			failed++
			continue
		}
		for path, hash := range files {
			if err := eng.store.MarkSeen(path, hash); err != nil {
				eng.logger.Warn("Failed to record content hash", "path", path, "error", err)
			}
		}
		entChanged += ec
		relChanged += rc
		indexed++
	}

	fmt.Printf("Indexed %d plan directories (%d unchanged, %d failed).\n", indexed, skipped, failed)
	fmt.Printf("Entities changed: %d, relationships changed: %d\n", entChanged, relChanged)
	return nil
}

// findPlanDirs returns every directory under root whose name follows the
// plan folder naming convention.
func findPlanDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if extract.IsPlanDir(filepath.Base(path)) {
			dirs = append(dirs, path)
			return filepath.SkipDir
		}
		return nil
	})
	return dirs, err
}

// dirChanged hashes every markdown file in dir and reports whether any of
// them differs from the stored hash. The hash map is returned so callers
// can mark the files seen after a successful commit.
func dirChanged(store *storage.Store, dir string) (bool, map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, nil, err
	}

	changed := false
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return false, nil, err
		}
		hash := storage.ComputeContentHash(content)
		files[path] = hash
		fresh, err := store.HasChanged(path, hash)
		if err != nil {
			return false, nil, err
		}
		if fresh {
			changed = true
		}
	}
	return changed, files, nil
}

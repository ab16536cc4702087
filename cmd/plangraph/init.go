package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/planwell/plangraph/internal/config"
	"github.com/planwell/plangraph/internal/slogutil"
	"github.com/planwell/plangraph/internal/storage"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize plangraph in the current project",
	Long:  "Creates a .plangraph/ directory with default configuration and an empty graph database",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Reinitialize, removing any existing .plangraph directory")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	dir := filepath.Join(root, ".plangraph")
	if _, statErr := os.Stat(dir); statErr == nil {
		if !initForce {
			// Already initialized is success, so init is safe to re-run.
			fmt.Println("plangraph already initialized.")
			fmt.Printf("Configuration at: %s\n", filepath.Join(dir, "config.json"))
			return nil
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove existing .plangraph directory: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(root); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	logger := slogutil.NewLogger(os.Stderr, slogutil.LevelFromString(cfg.Logging.Level))
	db, err := storage.Open(root, logger)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	fmt.Println("plangraph initialized.")
	fmt.Printf("Configuration: %s\n", filepath.Join(dir, "config.json"))
	fmt.Printf("Database:      %s\n", db.Path())
	fmt.Println("\nNext: put plan directories under plans/ and run 'plangraph index'.")
	return nil
}

package main

import (
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	rootFlag     string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "plangraph",
	Short: "plangraph - knowledge graph for planning documents",
	Long: `plangraph maintains a durable knowledge graph over a tree of planning
documents (plans, agents, features, files, tags) and answers relationship,
duplicate, conflict, and ranked-retrieval queries over it.`,
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate("plangraph version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "",
		"Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, error (default: from config)")
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/planwell/plangraph/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [root...]",
	Short: "Watch plan roots and keep the graph in sync",
	Long: `Watches the given roots (default: the configured watcher roots) for plan
document changes. Edits are debounced per file, extraction runs when a file
goes quiet, and conflict detection runs once after each burst of changes
settles.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	root, err := resolveRoot()
	if err != nil {
		return err
	}

	wcfg := watcher.Config{
		Debounce:       time.Duration(eng.cfg.Watcher.DebounceMs) * time.Millisecond,
		Settle:         time.Duration(eng.cfg.Watcher.SettleMs) * time.Millisecond,
		PollInterval:   time.Duration(eng.cfg.Watcher.PollIntervalMs) * time.Millisecond,
		IgnorePatterns: eng.cfg.Watcher.Ignore,
	}
	w := watcher.New(wcfg, eng.store, eng.extractor, eng.detector, eng.notifier, eng.logger)

	roots := args
	if len(roots) == 0 {
		roots = eng.cfg.Watcher.Roots
	}
	for _, r := range roots {
		if !filepath.IsAbs(r) {
			r = filepath.Join(root, r)
		}
		if _, err := os.Stat(r); err != nil {
			eng.logger.Warn("Skipping missing watch root", "root", r)
			continue
		}
		if err := w.WatchRoot(r); err != nil {
			return err
		}
	}

	if err := w.Start(); err != nil {
		return err
	}

	fmt.Println("Watching for plan changes. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	w.Stop()
	return nil
}

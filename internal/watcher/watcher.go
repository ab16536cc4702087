// Package watcher keeps the graph in sync with plan directories on disk.
// Events are debounced per file and settled per root: extraction runs after
// a file goes quiet, conflict detection runs once per settled burst.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/planwell/plangraph/internal/conflict"
	"github.com/planwell/plangraph/internal/extract"
	"github.com/planwell/plangraph/internal/notify"
	"github.com/planwell/plangraph/internal/storage"
)

// EventType represents the type of file system event
type EventType int

const (
	EventAdd EventType = iota
	EventChange
	EventUnlink
)

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventAdd:
		return "add"
	case EventChange:
		return "change"
	case EventUnlink:
		return "unlink"
	default:
		return "unknown"
	}
}

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// State of a watched root.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateDebouncing:
		return "debouncing"
	case StateProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Config contains watcher configuration
type Config struct {
	Debounce       time.Duration
	Settle         time.Duration
	PollInterval   time.Duration
	IgnorePatterns []string
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		Debounce:     500 * time.Millisecond,
		Settle:       2 * time.Second,
		PollInterval: time.Second,
		IgnorePatterns: []string{
			".git/**",
			".plangraph/**",
			"node_modules/**",
			"*.tmp",
			"*.swp",
		},
	}
}

// Watcher watches plan roots and feeds changes into the store. Conflict
// detection and notification are optional; when absent, settle passes only
// flush pending work.
type Watcher struct {
	config    Config
	store     *storage.Store
	extractor *extract.Extractor
	detector  *conflict.Detector
	notifier  *notify.Notifier
	logger    *slog.Logger

	roots map[string]*rootWatcher

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// rootWatcher tracks one watched root. The pending set and the two timer
// kinds are the whole debounce/settle state: per-file debouncers reset only
// on repeat events to that file, the settle debouncer resets on every event.
type rootWatcher struct {
	root     string
	state    State
	pending  map[string]*Debouncer
	settle   *Debouncer
	modTimes map[string]time.Time
	stopCh   chan struct{}
	dirty    bool
	mu       sync.Mutex
}

// markDirty records that the current burst changed the graph, so the next
// settle pass has something to detect against.
func (rw *rootWatcher) markDirty() {
	rw.mu.Lock()
	rw.dirty = true
	rw.mu.Unlock()
}

// New creates a watcher. detector and notifier may be nil.
func New(config Config, store *storage.Store, extractor *extract.Extractor, detector *conflict.Detector, notifier *notify.Notifier, logger *slog.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		config:    config,
		store:     store,
		extractor: extractor,
		detector:  detector,
		notifier:  notifier,
		logger:    logger,
		roots:     make(map[string]*rootWatcher),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins polling every registered root.
func (w *Watcher) Start() error {
	w.logger.Info("Starting watcher",
		"debounce", w.config.Debounce.String(),
		"settle", w.config.Settle.String(),
		"roots", len(w.roots))
	return nil
}

// Stop stops all watching and waits for poll loops to exit. Pending
// debounced work is flushed first so no observed change is lost.
func (w *Watcher) Stop() {
	w.logger.Info("Stopping watcher")
	w.cancel()

	w.mu.Lock()
	for _, rw := range w.roots {
		close(rw.stopCh)
		rw.flush()
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("Watcher stopped")
}

// WatchRoot registers a root directory and starts its poll loop.
func (w *Watcher) WatchRoot(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	root = filepath.Clean(root)
	if _, exists := w.roots[root]; exists {
		return nil
	}

	rw := &rootWatcher{
		root:     root,
		pending:  make(map[string]*Debouncer),
		settle:   NewDebouncer(w.config.Settle),
		modTimes: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
	w.snapshot(rw)
	w.roots[root] = rw

	w.wg.Add(1)
	go w.pollRoot(rw)

	w.logger.Info("Watching root", "path", root)
	return nil
}

// RootState returns the current state of a watched root.
func (w *Watcher) RootState(root string) State {
	w.mu.RLock()
	rw := w.roots[filepath.Clean(root)]
	w.mu.RUnlock()
	if rw == nil {
		return StateIdle
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.state
}

// HandleEvent injects a single filesystem event for a watched root. It is
// the entry point used both by the poll loop and by embedders that bring
// their own change feed.
func (w *Watcher) HandleEvent(root string, ev Event) {
	if w.isIgnored(ev.Path) {
		return
	}

	w.mu.RLock()
	rw := w.roots[filepath.Clean(root)]
	w.mu.RUnlock()
	if rw == nil {
		w.logger.Warn("Event for unwatched root dropped", "root", root, "path", ev.Path)
		return
	}

	w.logger.Debug("File event", "type", ev.Type.String(), "path", ev.Path)

	switch ev.Type {
	case EventUnlink:
		// Deletes skip the debounce entirely; there is nothing to coalesce.
		if w.removeSource(ev.Path) {
			rw.markDirty()
		}
	case EventAdd, EventChange:
		rw.mu.Lock()
		rw.state = StateDebouncing
		deb, ok := rw.pending[ev.Path]
		if !ok {
			deb = NewDebouncer(w.config.Debounce)
			rw.pending[ev.Path] = deb
		}
		rw.mu.Unlock()

		path := ev.Path
		deb.Trigger(func() {
			rw.mu.Lock()
			delete(rw.pending, path)
			rw.mu.Unlock()
			w.processFile(path, rw)
		})
	}

	// The settle timer resets on every event, delete or not.
	rw.settle.Trigger(func() {
		w.settlePass(rw)
	})
}

// processFile re-extracts the plan directory owning path, if any. Failures
// are logged and never escalate.
func (w *Watcher) processFile(path string, rw *rootWatcher) {
	planDir := extract.ResolvePlanDir(path, rw.root)
	if planDir == "" {
		w.logger.Debug("No plan directory owns path, ignoring", "path", path)
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("Failed to read changed file", "path", path, "error", err)
		return
	}

	hash := storage.ComputeContentHash(content)
	changed, err := w.store.HasChanged(path, hash)
	if err != nil {
		w.logger.Warn("Hash lookup failed", "path", path, "error", err)
		return
	}
	if !changed {
		w.logger.Debug("Content unchanged, skipping extraction", "path", path)
		return
	}

	result, err := w.extractor.ExtractPlan(planDir)
	if err != nil {
		w.logger.Warn("Extraction failed", "dir", planDir, "error", err)
		return
	}

	if err := w.commit(result); err != nil {
		w.logger.Warn("Failed to store extraction result", "dir", planDir, "error", err)
		return
	}
	rw.markDirty()

	if err := w.store.MarkSeen(path, hash); err != nil {
		w.logger.Warn("Failed to record content hash", "path", path, "error", err)
	}
}

// commit stores an extraction result and logs what changed.
func (w *Watcher) commit(result *extract.Result) error {
	changed, relChanged, err := extract.Commit(w.store, w.logger, result)
	if err != nil {
		return err
	}
	w.logger.Info("Extraction committed",
		"entities", len(result.Entities),
		"entitiesChanged", changed,
		"edges", len(result.Edges),
		"edgesChanged", relChanged)
	return nil
}

// removeSource deletes everything extracted from a path, immediately. It
// reports whether any entity was actually removed.
func (w *Watcher) removeSource(path string) bool {
	deleted, err := w.store.DeleteEntitiesBySource(path)
	if err != nil {
		w.logger.Warn("Failed to delete entities for removed file", "path", path, "error", err)
		return false
	}
	if deleted > 0 {
		w.logger.Info("Removed entities for deleted file", "path", path, "entities", deleted)
	}
	return deleted > 0
}

// settlePass runs after a burst of events goes quiet: flush any file
// debouncers still pending, then run conflict detection once. Detection is
// skipped when the burst changed nothing in the store, so events for
// unchanged or non-plan files do not trigger a full detect cycle.
func (w *Watcher) settlePass(rw *rootWatcher) {
	rw.mu.Lock()
	rw.state = StateProcessing
	pending := make([]*Debouncer, 0, len(rw.pending))
	for _, d := range rw.pending {
		pending = append(pending, d)
	}
	rw.mu.Unlock()

	// Flushing runs processFile synchronously, so the dirty flag is final
	// once the pending set is drained.
	for _, d := range pending {
		d.Flush()
	}

	rw.mu.Lock()
	dirty := rw.dirty
	rw.dirty = false
	rw.mu.Unlock()

	if dirty && w.detector != nil {
		reports, err := w.detector.DetectAll(w.ctx)
		if err != nil {
			w.logger.Warn("Conflict detection failed after settle", "error", err)
		} else if w.notifier != nil {
			w.notifier.Notify(w.ctx, reports)
		}
	}

	rw.mu.Lock()
	rw.state = StateIdle
	rw.mu.Unlock()
}

// flush drains all pending work for shutdown.
func (rw *rootWatcher) flush() {
	rw.mu.Lock()
	pending := make([]*Debouncer, 0, len(rw.pending))
	for _, d := range rw.pending {
		pending = append(pending, d)
	}
	rw.pending = make(map[string]*Debouncer)
	rw.mu.Unlock()

	for _, d := range pending {
		d.Flush()
	}
	rw.settle.Cancel()
}

// pollRoot is the polling fallback for environments without a native
// change feed: scan the tree and diff modification times.
func (w *Watcher) pollRoot(rw *rootWatcher) {
	defer w.wg.Done()

	interval := w.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, ev := range w.diff(rw) {
				w.HandleEvent(rw.root, ev)
			}
		case <-rw.stopCh:
			return
		case <-w.ctx.Done():
			return
		}
	}
}

// snapshot records the current modification times under a root.
func (w *Watcher) snapshot(rw *rootWatcher) {
	filepath.Walk(rw.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || w.isIgnored(path) {
			return nil
		}
		rw.modTimes[path] = info.ModTime()
		return nil
	})
}

// diff walks the root and synthesizes events for added, changed, and
// removed files since the last scan.
func (w *Watcher) diff(rw *rootWatcher) []Event {
	now := time.Now()
	seen := make(map[string]time.Time)

	filepath.Walk(rw.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || w.isIgnored(path) {
			return nil
		}
		seen[path] = info.ModTime()
		return nil
	})

	rw.mu.Lock()
	defer rw.mu.Unlock()

	var events []Event
	for path, mod := range seen {
		prev, existed := rw.modTimes[path]
		switch {
		case !existed:
			events = append(events, Event{Type: EventAdd, Path: path, Timestamp: now})
		case mod.After(prev):
			events = append(events, Event{Type: EventChange, Path: path, Timestamp: now})
		}
	}
	for path := range rw.modTimes {
		if _, ok := seen[path]; !ok {
			events = append(events, Event{Type: EventUnlink, Path: path, Timestamp: now})
		}
	}
	rw.modTimes = seen
	return events
}

// isIgnored checks if a path matches ignore patterns. A pattern without
// "**" is matched against every path component, so a bare directory name
// like ".git" covers everything nested under it.
func (w *Watcher) isIgnored(path string) bool {
	components := strings.Split(filepath.ToSlash(path), "/")
	for _, pattern := range w.config.IgnorePatterns {
		if strings.Contains(pattern, "**") {
			parts := strings.SplitN(pattern, "**", 2)
			prefix := strings.TrimSuffix(parts[0], "/")
			if prefix != "" && strings.Contains(path, prefix) {
				return true
			}
			continue
		}
		for _, component := range components {
			if matched, _ := filepath.Match(pattern, component); matched {
				return true
			}
		}
	}
	return false
}

// Stats returns watcher statistics
func (w *Watcher) Stats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"roots":      len(w.roots),
		"debounceMs": w.config.Debounce.Milliseconds(),
		"settleMs":   w.config.Settle.Milliseconds(),
	}
}

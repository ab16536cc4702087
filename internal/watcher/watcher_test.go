package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/planwell/plangraph/internal/conflict"
	"github.com/planwell/plangraph/internal/extract"
	"github.com/planwell/plangraph/internal/notify"
	"github.com/planwell/plangraph/internal/resolver"
	"github.com/planwell/plangraph/internal/similarity"
	"github.com/planwell/plangraph/internal/slogutil"
	"github.com/planwell/plangraph/internal/storage"
)

const testPlanDoc = `---
title: Auth Rework
status: active
tags: [auth]
---

# Auth Rework

## Features

- Session token rotation
`

type countingChannel struct {
	mu      sync.Mutex
	batches int
	reports int
}

func (c *countingChannel) Name() string { return "counting" }

func (c *countingChannel) Send(_ context.Context, reports []conflict.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	c.reports += len(reports)
	return nil
}

func (c *countingChannel) Batches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

type testEnv struct {
	watcher *Watcher
	store   *storage.Store
	channel *countingChannel
	root    string
}

func setupTestWatcher(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	db, err := storage.Open(root, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slogutil.NewDiscardLogger()
	store := storage.NewStore(db, logger)
	res := resolver.New(store, nil, similarity.DefaultThresholds(), logger)
	det := conflict.New(store, res, 48*time.Hour, logger)
	channel := &countingChannel{}
	notifier := notify.New(logger, channel)

	cfg := Config{
		Debounce: 30 * time.Millisecond,
		Settle:   120 * time.Millisecond,
		// Long poll interval: these tests drive events through HandleEvent.
		PollInterval:   time.Hour,
		IgnorePatterns: DefaultConfig().IgnorePatterns,
	}
	w := New(cfg, store, extract.New(logger), det, notifier, logger)
	if err := w.WatchRoot(root); err != nil {
		t.Fatalf("WatchRoot failed: %v", err)
	}
	t.Cleanup(w.Stop)

	return &testEnv{watcher: w, store: store, channel: channel, root: root}
}

func (env *testEnv) writePlan(t *testing.T, dirName, doc string) string {
	t.Helper()
	dir := filepath.Join(env.root, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "plan.md")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func (env *testEnv) planExists(id string) bool {
	_, err := env.store.GetEntity(id, storage.EntityPlan)
	return err == nil
}

func TestWatcherExtractsOnChange(t *testing.T) {
	env := setupTestWatcher(t)
	path := env.writePlan(t, "0042-auth-rework", testPlanDoc)

	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: path, Timestamp: time.Now()})

	if !waitFor(t, 2*time.Second, func() bool { return env.planExists("0042-auth-rework") }) {
		t.Fatal("plan entity never appeared after add event")
	}

	// The feature from the plan body landed too, with its edge.
	feat, err := env.store.GetEntity("0042-auth-rework/session-token-rotation", storage.EntityFeature)
	if err != nil {
		t.Fatalf("feature entity missing: %v", err)
	}
	plan, _ := env.store.GetEntity("0042-auth-rework", storage.EntityPlan)
	neighbors, err := env.store.GetNeighbors(plan.ID, storage.RelationContains)
	if err != nil {
		t.Fatalf("GetNeighbors failed: %v", err)
	}
	found := false
	for _, n := range neighbors {
		if n.ID == feat.ID {
			found = true
		}
	}
	if !found {
		t.Error("CONTAINS edge from plan to feature missing")
	}
}

func TestWatcherIgnoresPathsOutsidePlanDirs(t *testing.T) {
	env := setupTestWatcher(t)

	stray := filepath.Join(env.root, "notes.md")
	if err := os.WriteFile(stray, []byte("# Notes\n"), 0644); err != nil {
		t.Fatal(err)
	}
	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: stray, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)
	stats, err := env.store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if n := stats["entities"].(int); n != 0 {
		t.Errorf("stray file produced %d entities", n)
	}
}

func TestIsIgnoredMatchesNestedComponents(t *testing.T) {
	logger := slogutil.NewDiscardLogger()
	// Bare directory names, as the config file ships them.
	cfg := Config{IgnorePatterns: []string{".git", ".plangraph", "node_modules", "*.tmp"}}
	w := New(cfg, nil, nil, nil, nil, logger)
	t.Cleanup(w.Stop)

	tests := []struct {
		path    string
		ignored bool
	}{
		{"/repo/.plangraph/plangraph.db-wal", true},
		{"/repo/.git/objects/ab/cdef", true},
		{"/repo/plans/node_modules/pkg/index.js", true},
		{"/repo/plans/0042-auth/draft.tmp", true},
		{"/repo/plans/0042-auth/plan.md", false},
		{"/repo/plans/gitlab/plan.md", false},
	}
	for _, tt := range tests {
		if got := w.isIgnored(tt.path); got != tt.ignored {
			t.Errorf("isIgnored(%q) = %v, want %v", tt.path, got, tt.ignored)
		}
	}
}

func TestWatcherIgnoresFilesUnderIgnoredDirs(t *testing.T) {
	env := setupTestWatcher(t)
	// Bare names as loaded from the config file, not the "dir/**" form.
	env.watcher.config.IgnorePatterns = []string{".git", ".plangraph"}

	dir := filepath.Join(env.root, ".plangraph")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	wal := filepath.Join(dir, "plangraph.db-wal")
	if err := os.WriteFile(wal, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	env.watcher.HandleEvent(env.root, Event{Type: EventChange, Path: wal, Timestamp: time.Now()})

	// An accepted event flips the root to debouncing before HandleEvent
	// returns; an ignored one must leave it untouched.
	if env.watcher.RootState(env.root) != StateIdle {
		t.Error("database write-ahead file triggered the watcher")
	}
}

func TestWatcherUnlinkBypassesDebounce(t *testing.T) {
	env := setupTestWatcher(t)
	path := env.writePlan(t, "0042-auth-rework", testPlanDoc)

	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: path, Timestamp: time.Now()})
	if !waitFor(t, 2*time.Second, func() bool { return env.planExists("0042-auth-rework") }) {
		t.Fatal("plan never indexed")
	}

	env.watcher.HandleEvent(env.root, Event{Type: EventUnlink, Path: path, Timestamp: time.Now()})

	// Unlink is synchronous: the entity is gone before any timer fires.
	if env.planExists("0042-auth-rework") {
		t.Error("plan entity survived unlink")
	}
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	env := setupTestWatcher(t)
	path := env.writePlan(t, "0042-auth-rework", testPlanDoc)

	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: path, Timestamp: time.Now()})
	if !waitFor(t, 2*time.Second, func() bool { return env.planExists("0042-auth-rework") }) {
		t.Fatal("plan never indexed")
	}
	plan, _ := env.store.GetEntity("0042-auth-rework", storage.EntityPlan)
	firstSeen := plan.UpdatedAt

	// Same content again: the hash gate must skip re-extraction.
	env.watcher.HandleEvent(env.root, Event{Type: EventChange, Path: path, Timestamp: time.Now()})
	time.Sleep(300 * time.Millisecond)

	plan, _ = env.store.GetEntity("0042-auth-rework", storage.EntityPlan)
	if !plan.UpdatedAt.Equal(firstSeen) {
		t.Error("unchanged content still re-extracted")
	}
}

func TestWatcherSettleRunsDetectionOncePerBurst(t *testing.T) {
	env := setupTestWatcher(t)

	// Two agents contending on one file guarantees a conflict report.
	agentA := `---
agent: agent-001
title: builder
status: WIP
modifies: [src/auth.go]
---
`
	agentB := `---
agent: agent-002
title: refactorer
status: WIP
modifies: [src/auth.go]
---
`
	env.writePlan(t, "0042-auth-rework", testPlanDoc)
	dir := filepath.Join(env.root, "0042-auth-rework")
	pathA := filepath.Join(dir, "builder.md")
	pathB := filepath.Join(dir, "refactorer.md")
	if err := os.WriteFile(pathA, []byte(agentA), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathB, []byte(agentB), 0644); err != nil {
		t.Fatal(err)
	}

	// A burst of events across both files.
	now := time.Now()
	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: pathA, Timestamp: now})
	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: pathB, Timestamp: now})
	env.watcher.HandleEvent(env.root, Event{Type: EventChange, Path: pathA, Timestamp: now})

	if !waitFor(t, 3*time.Second, func() bool { return env.channel.Batches() >= 1 }) {
		t.Fatal("settle pass never notified")
	}

	// Give any extra (incorrect) settle passes a chance to fire.
	time.Sleep(400 * time.Millisecond)
	if got := env.channel.Batches(); got != 1 {
		t.Errorf("detection notified %d times for one burst, want 1", got)
	}

	if env.watcher.RootState(env.root) != StateIdle {
		t.Errorf("root not back to idle, state = %s", env.watcher.RootState(env.root))
	}
}

func TestWatcherSettleSkipsDetectionWithoutChanges(t *testing.T) {
	env := setupTestWatcher(t)
	path := env.writePlan(t, "0042-auth-rework", testPlanDoc)

	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: path, Timestamp: time.Now()})
	if !waitFor(t, 3*time.Second, func() bool { return env.channel.Batches() >= 1 }) {
		t.Fatal("settle pass never notified after indexing")
	}
	before := env.channel.Batches()

	// Same content again: the hash gate skips extraction, so the settle
	// pass that follows has nothing new to detect against.
	env.watcher.HandleEvent(env.root, Event{Type: EventChange, Path: path, Timestamp: time.Now()})

	if !waitFor(t, 2*time.Second, func() bool {
		return env.watcher.RootState(env.root) == StateIdle
	}) {
		t.Fatal("root never settled back to idle")
	}
	time.Sleep(200 * time.Millisecond)

	if got := env.channel.Batches(); got != before {
		t.Errorf("no-op burst ran detection, batches %d -> %d", before, got)
	}
}

func TestWatcherPerItemFailureRecovery(t *testing.T) {
	env := setupTestWatcher(t)

	// A plan directory without plan.md makes extraction fail for this path.
	brokenDir := filepath.Join(env.root, "0001-broken")
	if err := os.MkdirAll(brokenDir, 0755); err != nil {
		t.Fatal(err)
	}
	brokenPath := filepath.Join(brokenDir, "stray.md")
	if err := os.WriteFile(brokenPath, []byte("# stray\n"), 0644); err != nil {
		t.Fatal(err)
	}

	goodPath := env.writePlan(t, "0042-auth-rework", testPlanDoc)

	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: brokenPath, Timestamp: time.Now()})
	env.watcher.HandleEvent(env.root, Event{Type: EventAdd, Path: goodPath, Timestamp: time.Now()})

	if !waitFor(t, 2*time.Second, func() bool { return env.planExists("0042-auth-rework") }) {
		t.Fatal("failure on one file stopped processing of the other")
	}
}

func TestWatcherPollingDetectsNewFile(t *testing.T) {
	root := t.TempDir()
	db, err := storage.Open(root, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slogutil.NewDiscardLogger()
	store := storage.NewStore(db, logger)
	cfg := Config{
		Debounce:       20 * time.Millisecond,
		Settle:         80 * time.Millisecond,
		PollInterval:   30 * time.Millisecond,
		IgnorePatterns: DefaultConfig().IgnorePatterns,
	}
	w := New(cfg, store, extract.New(logger), nil, nil, logger)
	if err := w.WatchRoot(root); err != nil {
		t.Fatalf("WatchRoot failed: %v", err)
	}
	t.Cleanup(w.Stop)

	dir := filepath.Join(root, "0042-auth-rework")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plan.md"), []byte(testPlanDoc), 0644); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		_, err := store.GetEntity("0042-auth-rework", storage.EntityPlan)
		return err == nil
	})
	if !ok {
		t.Fatal("polling never picked up the new plan")
	}
}

package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/planwell/plangraph/internal/resolver"
	"github.com/planwell/plangraph/internal/similarity"
	"github.com/planwell/plangraph/internal/slogutil"
	"github.com/planwell/plangraph/internal/storage"
)

func setupTestDetector(t *testing.T) (*Detector, *storage.Store) {
	t.Helper()

	db, err := storage.Open(t.TempDir(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewStore(db, slogutil.NewDiscardLogger())
	embeddings := &similarity.EmbeddingStore{
		Get: func(string) []float64 { return []float64{1, 0} },
	}
	res := resolver.New(store, embeddings, similarity.DefaultThresholds(), slogutil.NewDiscardLogger())
	d := New(store, res, 48*time.Hour, slogutil.NewDiscardLogger())
	return d, store
}

func upsert(t *testing.T, s *storage.Store, e *storage.Entity) *storage.Entity {
	t.Helper()
	stored, err := s.UpsertEntity(e)
	if err != nil {
		t.Fatalf("UpsertEntity failed: %v", err)
	}
	return stored
}

func link(t *testing.T, s *storage.Store, src, dst int64, rt storage.RelationType) {
	t.Helper()
	if _, err := s.UpsertRelationship(&storage.Relationship{SourceID: src, TargetID: dst, Type: rt, Confidence: 1}); err != nil {
		t.Fatalf("UpsertRelationship failed: %v", err)
	}
}

func agentWithStatus(t *testing.T, s *storage.Store, id, name, status string) *storage.Entity {
	t.Helper()
	return upsert(t, s, &storage.Entity{
		Type:        storage.EntityAgent,
		CanonicalID: id,
		Name:        name,
		Metadata:    map[string]interface{}{"status": status},
	})
}

func TestDetectFileContention(t *testing.T) {
	d, s := setupTestDetector(t)

	a1 := agentWithStatus(t, s, "agent-001", "builder", "WIP")
	a2 := agentWithStatus(t, s, "agent-002", "refactorer", "WIP")
	passed := agentWithStatus(t, s, "agent-003", "done", "PASS")

	contested := upsert(t, s, &storage.Entity{Type: storage.EntityFile, CanonicalID: "src/auth.go", Name: "auth.go"})
	quiet := upsert(t, s, &storage.Entity{Type: storage.EntityFile, CanonicalID: "src/util.go", Name: "util.go"})

	link(t, s, a1.ID, contested.ID, storage.RelationModifies)
	link(t, s, a2.ID, contested.ID, storage.RelationModifies)
	link(t, s, a1.ID, quiet.ID, storage.RelationModifies)
	link(t, s, passed.ID, quiet.ID, storage.RelationModifies)

	reports, err := d.DetectFileContention(context.Background())
	if err != nil {
		t.Fatalf("DetectFileContention failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 contention report, got %d", len(reports))
	}
	r := reports[0]
	if r.Severity != SeverityError {
		t.Errorf("severity = %s, want error", r.Severity)
	}
	if r.Entities[0] != "src/auth.go" {
		t.Errorf("expected the contested file first, got %v", r.Entities)
	}
	if r.ID == "" {
		t.Error("report id must be set")
	}
}

func TestDetectFileContentionSharedFile(t *testing.T) {
	d, s := setupTestDetector(t)

	a1 := agentWithStatus(t, s, "agent-001", "builder", "WIP")
	a2 := agentWithStatus(t, s, "agent-002", "refactorer", "WIP")
	shared := upsert(t, s, &storage.Entity{
		Type:        storage.EntityFile,
		CanonicalID: "src/types.go",
		Name:        "types.go",
		Metadata:    map[string]interface{}{"shared": true},
	})

	link(t, s, a1.ID, shared.ID, storage.RelationModifies)
	link(t, s, a2.ID, shared.ID, storage.RelationModifies)

	reports, err := d.DetectFileContention(context.Background())
	if err != nil {
		t.Fatalf("DetectFileContention failed: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("shared file should not be flagged, got %d reports", len(reports))
	}
}

func TestDetectFeatureOverlap(t *testing.T) {
	d, s := setupTestDetector(t)

	f1 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	f2 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "user login flow"})
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-3", Name: "csv export"})

	// Shared neighbors lift the structural signal over the similar threshold.
	file := upsert(t, s, &storage.Entity{Type: storage.EntityFile, CanonicalID: "src/auth.go", Name: "auth.go"})
	link(t, s, f1.ID, file.ID, storage.RelationModifies)
	link(t, s, f2.ID, file.ID, storage.RelationModifies)

	reports, err := d.DetectFeatureOverlap(context.Background())
	if err != nil {
		t.Fatalf("DetectFeatureOverlap failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 overlap report, got %d", len(reports))
	}
	if reports[0].Severity != SeverityWarning {
		t.Errorf("severity = %s, want warning", reports[0].Severity)
	}
}

func TestDetectFeatureOverlapLeavesEdgesAlone(t *testing.T) {
	d, s := setupTestDetector(t)

	f1 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	f2 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "user login flow"})
	file := upsert(t, s, &storage.Entity{Type: storage.EntityFile, CanonicalID: "src/auth.go", Name: "auth.go"})
	link(t, s, f1.ID, file.ID, storage.RelationModifies)
	link(t, s, f2.ID, file.ID, storage.RelationModifies)

	reports, err := d.DetectFeatureOverlap(context.Background())
	if err != nil {
		t.Fatalf("DetectFeatureOverlap failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 overlap report, got %d", len(reports))
	}

	// Detection reads the graph; materializing SIMILAR_TO edges belongs to
	// an explicit resolution pass.
	similar, err := s.GetNeighbors(f1.ID, storage.RelationSimilarTo)
	if err != nil {
		t.Fatalf("GetNeighbors failed: %v", err)
	}
	if len(similar) != 0 {
		t.Errorf("detection wrote %d SIMILAR_TO edges", len(similar))
	}
}

func TestDetectCircularDependencies(t *testing.T) {
	d, s := setupTestDetector(t)

	a := agentWithStatus(t, s, "agent-a", "a", "WIP")
	b := agentWithStatus(t, s, "agent-b", "b", "WIP")
	c := agentWithStatus(t, s, "agent-c", "c", "WIP")
	loner := agentWithStatus(t, s, "agent-d", "d", "WIP")

	link(t, s, a.ID, b.ID, storage.RelationDependsOn)
	link(t, s, b.ID, c.ID, storage.RelationDependsOn)
	link(t, s, c.ID, a.ID, storage.RelationDependsOn)
	link(t, s, loner.ID, a.ID, storage.RelationDependsOn)

	reports, err := d.DetectCircularDependencies(context.Background())
	if err != nil {
		t.Fatalf("DetectCircularDependencies failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected exactly 1 cycle report, got %d", len(reports))
	}
	if reports[0].Severity != SeverityError {
		t.Errorf("severity = %s, want error", reports[0].Severity)
	}
	if len(reports[0].Entities) != 3 {
		t.Errorf("cycle should name 3 agents, got %v", reports[0].Entities)
	}
}

func TestDetectCircularDependenciesNoCycle(t *testing.T) {
	d, s := setupTestDetector(t)

	a := agentWithStatus(t, s, "agent-a", "a", "WIP")
	b := agentWithStatus(t, s, "agent-b", "b", "WIP")
	link(t, s, a.ID, b.ID, storage.RelationDependsOn)

	reports, err := d.DetectCircularDependencies(context.Background())
	if err != nil {
		t.Fatalf("DetectCircularDependencies failed: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("acyclic graph flagged: %d reports", len(reports))
	}
}

func TestDetectStaleWip(t *testing.T) {
	d, s := setupTestDetector(t)

	stale := agentWithStatus(t, s, "agent-001", "old work", "WIP")
	agentWithStatus(t, s, "agent-002", "fresh work", "WIP")
	agentWithStatus(t, s, "agent-003", "finished", "PASS")

	// Age the first agent past the 48h threshold.
	old := time.Now().UTC().Add(-72 * time.Hour).Format(time.RFC3339)
	if _, err := s.DB().Conn().Exec("UPDATE entities SET updated_at = ? WHERE id = ?", old, stale.ID); err != nil {
		t.Fatalf("failed to age agent: %v", err)
	}

	reports, err := d.DetectStaleWip(context.Background())
	if err != nil {
		t.Fatalf("DetectStaleWip failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 stale report, got %d", len(reports))
	}
	if reports[0].Entities[0] != "agent-001" {
		t.Errorf("wrong agent flagged: %v", reports[0].Entities)
	}
}

func TestDetectAllOrder(t *testing.T) {
	d, s := setupTestDetector(t)

	a1 := agentWithStatus(t, s, "agent-001", "builder", "WIP")
	a2 := agentWithStatus(t, s, "agent-002", "refactorer", "WIP")
	file := upsert(t, s, &storage.Entity{Type: storage.EntityFile, CanonicalID: "src/auth.go", Name: "auth.go"})
	link(t, s, a1.ID, file.ID, storage.RelationModifies)
	link(t, s, a2.ID, file.ID, storage.RelationModifies)
	link(t, s, a1.ID, a2.ID, storage.RelationDependsOn)
	link(t, s, a2.ID, a1.ID, storage.RelationDependsOn)

	reports, err := d.DetectAll(context.Background())
	if err != nil {
		t.Fatalf("DetectAll failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected contention + cycle, got %d reports", len(reports))
	}
	if reports[0].Type != TypeFileContention || reports[1].Type != TypeCircularDependency {
		t.Errorf("unexpected report order: %s, %s", reports[0].Type, reports[1].Type)
	}
}

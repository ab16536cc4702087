package resolver

import (
	"context"
	"strings"
	"testing"

	"github.com/planwell/plangraph/internal/similarity"
	"github.com/planwell/plangraph/internal/slogutil"
	"github.com/planwell/plangraph/internal/storage"
)

func setupTestResolver(t *testing.T, embeddings *similarity.EmbeddingStore) (*Resolver, *storage.Store) {
	t.Helper()

	db, err := storage.Open(t.TempDir(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewStore(db, slogutil.NewDiscardLogger())
	r := New(store, embeddings, similarity.DefaultThresholds(), slogutil.NewDiscardLogger())
	return r, store
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

// identityEmbeddings returns the same vector for every canonical id, so the
// semantic signal is always 1 between stored entities.
func identityEmbeddings() *similarity.EmbeddingStore {
	return &similarity.EmbeddingStore{
		Get: func(string) []float64 { return []float64{1, 0} },
	}
}

func TestResolveAllFlagsSimilarFeatures(t *testing.T) {
	r, s := setupTestResolver(t, identityEmbeddings())

	f1 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	f2 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "user login flow"})
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-3", Name: "csv export"})

	// Overlapping touched files push the structural signal up.
	file := upsert(t, s, &storage.Entity{Type: storage.EntityFile, CanonicalID: "src/auth.go", Name: "auth.go"})
	link(t, s, f1.ID, file.ID, storage.RelationModifies)
	link(t, s, f2.ID, file.ID, storage.RelationModifies)

	result, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}

	flagged := len(result.Duplicates) + len(result.Similar)
	if flagged != 1 {
		t.Fatalf("expected exactly one flagged pair, got %d duplicates + %d similar",
			len(result.Duplicates), len(result.Similar))
	}
	if len(result.Suggestions) != 1 {
		t.Errorf("expected one suggestion, got %d", len(result.Suggestions))
	}

	rels, err := s.GetRelationships(f1.ID, storage.DirOutgoing)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	var similarEdges int
	for _, rel := range rels {
		if rel.Type == storage.RelationSimilarTo {
			similarEdges++
			if rel.Confidence < 0.8 {
				t.Errorf("SIMILAR_TO confidence = %v, want >= 0.8", rel.Confidence)
			}
		}
	}
	if similarEdges != 1 {
		t.Errorf("expected one SIMILAR_TO edge from feat-1, got %d", similarEdges)
	}
}

func TestResolveAllIdempotent(t *testing.T) {
	r, s := setupTestResolver(t, identityEmbeddings())

	f1 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "user login flow"})

	for i := 0; i < 2; i++ {
		if _, err := r.ResolveAll(context.Background()); err != nil {
			t.Fatalf("ResolveAll pass %d failed: %v", i+1, err)
		}
	}

	rels, err := s.GetRelationships(f1.ID, storage.DirBoth)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 1 {
		t.Errorf("re-running resolution duplicated edges: %d", len(rels))
	}
}

func TestResolveAllPrunesStaleEdges(t *testing.T) {
	r, s := setupTestResolver(t, identityEmbeddings())

	f1 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "user login flow"})

	if _, err := r.ResolveAll(context.Background()); err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}

	// Rename feat-2 so the pair falls below threshold, then resolve again.
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "billing reconciliation"})
	if _, err := r.ResolveAll(context.Background()); err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}

	rels, err := s.GetRelationships(f1.ID, storage.DirBoth)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("stale SIMILAR_TO edge survived re-resolution: %d edges", len(rels))
	}
}

func TestScoreTypeWritesNoEdges(t *testing.T) {
	r, s := setupTestResolver(t, identityEmbeddings())

	f1 := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "user login flow"})

	result, err := r.ScoreType(context.Background(), storage.EntityFeature)
	if err != nil {
		t.Fatalf("ScoreType failed: %v", err)
	}
	if len(result.Duplicates)+len(result.Similar) == 0 {
		t.Fatal("identical features not flagged")
	}

	rels, err := s.GetRelationships(f1.ID, storage.DirBoth)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("scoring pass wrote %d edges", len(rels))
	}

	// The same pairs materialize once an actual resolution pass runs.
	if _, err := r.ResolveType(context.Background(), storage.EntityFeature); err != nil {
		t.Fatalf("ResolveType failed: %v", err)
	}
	rels, err = s.GetRelationships(f1.ID, storage.DirBoth)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 1 {
		t.Errorf("resolution pass stored %d edges, want 1", len(rels))
	}
}

func TestResolveAllNeverComparesAcrossTypes(t *testing.T) {
	r, s := setupTestResolver(t, identityEmbeddings())

	f := upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "auth", Name: "authentication"})
	upsert(t, s, &storage.Entity{Type: storage.EntityConcept, CanonicalID: "auth", Name: "authentication"})

	result, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(result.Duplicates)+len(result.Similar) != 0 {
		t.Error("cross-type pair was compared")
	}

	rels, err := s.GetRelationships(f.ID, storage.DirBoth)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("cross-type SIMILAR_TO edge created: %d", len(rels))
	}
}

func TestCheckNewFeature(t *testing.T) {
	r, s := setupTestResolver(t, nil)

	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "csv export pipeline"})

	matches, err := r.CheckNewFeature(context.Background(), "user login flow", "")
	if err != nil {
		t.Fatalf("CheckNewFeature failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one near match, got %d", len(matches))
	}
	if matches[0].CanonicalID != "feat-1" {
		t.Errorf("expected feat-1, got %s", matches[0].CanonicalID)
	}
}

func TestCheckNewFeatureEmptyGraph(t *testing.T) {
	r, _ := setupTestResolver(t, nil)

	matches, err := r.CheckNewFeature(context.Background(), "anything", "at all")
	if err != nil {
		t.Fatalf("CheckNewFeature failed: %v", err)
	}
	if matches != nil {
		t.Errorf("expected no matches on empty graph, got %v", matches)
	}
}

func TestSuggestionsNameTheEntities(t *testing.T) {
	r, s := setupTestResolver(t, identityEmbeddings())

	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-1", Name: "user login flow"})
	upsert(t, s, &storage.Entity{Type: storage.EntityFeature, CanonicalID: "feat-2", Name: "user login flow"})

	result, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(result.Suggestions) == 0 {
		t.Fatal("expected a suggestion")
	}
	if !strings.Contains(result.Suggestions[0], "user login flow") {
		t.Errorf("suggestion does not name the entities: %q", result.Suggestions[0])
	}
}

// Package resolver runs batch entity deduplication over the graph,
// classifying same-type entity pairs by similarity and materializing
// SIMILAR_TO edges for anything at or above the similar threshold.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/planwell/plangraph/internal/similarity"
	"github.com/planwell/plangraph/internal/storage"
)

// Pair is one flagged entity pair with its similarity breakdown.
type Pair struct {
	A     *storage.Entity  `json:"a"`
	B     *storage.Entity  `json:"b"`
	Score similarity.Score `json:"score"`
}

// Result is the outcome of a full resolution pass.
type Result struct {
	Duplicates  []Pair   `json:"duplicates"`
	Similar     []Pair   `json:"similar"`
	Suggestions []string `json:"suggestions"`
}

// Resolver compares entities pairwise within each type. Cross-type pairs
// are never compared. The pass is O(n²) per type and meant as an
// on-demand batch operation, not a per-event one.
type Resolver struct {
	store      *storage.Store
	embeddings *similarity.EmbeddingStore
	thresholds similarity.Thresholds
	logger     *slog.Logger
}

// New creates a Resolver. embeddings may be nil; semantic scoring then
// degrades to zero.
func New(store *storage.Store, embeddings *similarity.EmbeddingStore, thresholds similarity.Thresholds, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		embeddings: embeddings,
		thresholds: thresholds,
		logger:     logger,
	}
}

// ResolveAll compares every same-type entity pair across all entity types,
// regenerates each type's SIMILAR_TO edges, and returns the flagged pairs
// with one suggestion per pair.
func (r *Resolver) ResolveAll(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, et := range storage.EntityTypes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.resolveType(ctx, et, result); err != nil {
			return nil, err
		}
	}

	r.logger.Info("Resolution pass complete",
		"duplicates", len(result.Duplicates),
		"similar", len(result.Similar))
	return result, nil
}

// ResolveType runs a resolution pass restricted to one entity type.
func (r *Resolver) ResolveType(ctx context.Context, et storage.EntityType) (*Result, error) {
	result := &Result{}
	if err := r.resolveType(ctx, et, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ScoreType compares every same-type pair of one entity type and returns
// the flagged pairs without touching stored SIMILAR_TO edges. Callers that
// only inspect similarity (conflict detection) use this; ResolveType adds
// edge regeneration on top.
func (r *Resolver) ScoreType(ctx context.Context, et storage.EntityType) (*Result, error) {
	result := &Result{}
	if _, err := r.scoreType(ctx, et, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Resolver) resolveType(ctx context.Context, et storage.EntityType, result *Result) error {
	edges, err := r.scoreType(ctx, et, result)
	if err != nil {
		return err
	}

	// Replace the type's previous SIMILAR_TO edges in one transaction, so
	// pairs that fell below threshold since the last pass are pruned. A
	// type that shrank below two entities sheds all its edges.
	_, err = r.store.RegenerateSimilarEdges(et, edges)
	return err
}

// scoreType appends flagged pairs for one type to result and returns the
// SIMILAR_TO edges those pairs would materialize.
func (r *Resolver) scoreType(ctx context.Context, et storage.EntityType, result *Result) ([]*storage.Relationship, error) {
	entities, err := r.store.GetEntitiesByType(et)
	if err != nil {
		return nil, err
	}
	if len(entities) < 2 {
		return nil, nil
	}

	neighbors := make([][]string, len(entities))
	for i, e := range entities {
		neighbors[i], err = r.neighborIDs(e.ID)
		if err != nil {
			return nil, err
		}
	}

	var edges []*storage.Relationship
	for i := 0; i < len(entities); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(entities); j++ {
			structural := similarity.Structural(neighbors[i], neighbors[j])
			score := similarity.Compute(entities[i], entities[j], r.embeddings, structural)
			class := r.thresholds.Classify(score)
			if class < similarity.ClassSimilar {
				continue
			}

			pair := Pair{A: entities[i], B: entities[j], Score: score}
			edges = append(edges, &storage.Relationship{
				SourceID:   entities[i].ID,
				TargetID:   entities[j].ID,
				Type:       storage.RelationSimilarTo,
				Confidence: score.Combined,
			})

			switch class {
			case similarity.ClassDuplicate:
				result.Duplicates = append(result.Duplicates, pair)
				result.Suggestions = append(result.Suggestions,
					fmt.Sprintf("%s %q and %q look like duplicates (%.2f); consider merging them",
						et, entities[i].Name, entities[j].Name, score.Combined))
			case similarity.ClassSimilar:
				result.Similar = append(result.Similar, pair)
				result.Suggestions = append(result.Suggestions,
					fmt.Sprintf("%s %q and %q are similar (%.2f); check for overlapping scope",
						et, entities[i].Name, entities[j].Name, score.Combined))
			}
		}
	}

	return edges, nil
}

func (r *Resolver) neighborIDs(entityID int64) ([]string, error) {
	all, err := r.store.GetNeighbors(entityID, "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(all))
	for i, n := range all {
		ids[i] = n.CanonicalID
	}
	return ids, nil
}

// CheckNewFeature compares a not-yet-created feature against existing
// feature entities and returns those at or above the similar threshold.
// Used to warn before duplicate work items are created.
func (r *Resolver) CheckNewFeature(ctx context.Context, title, description string) ([]*storage.Entity, error) {
	features, err := r.store.GetEntitiesByType(storage.EntityFeature)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, nil
	}

	candidateTokens := similarity.Tokenize(title + " " + description)

	var candidateVec []float64
	if vec, err := r.embeddings.EmbedText(title + " " + description); err != nil {
		r.logger.Warn("Embedding failed for new-feature check, continuing without semantic signal", "error", err)
	} else {
		candidateVec = vec
	}

	var matches []*storage.Entity
	for _, f := range features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// The candidate has no graph presence yet, so only the lexical and
		// semantic signals apply; normalize over whichever are available.
		lexical := similarity.Jaccard(candidateTokens, similarity.Tokenize(f.Name))
		score := lexical
		if len(candidateVec) > 0 {
			if fv := r.embeddings.Vector(f.CanonicalID); len(fv) > 0 {
				semantic := similarity.Cosine(candidateVec, fv)
				score = (0.4*lexical + 0.6*semantic)
			}
		}
		if score >= r.thresholds.Similar {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

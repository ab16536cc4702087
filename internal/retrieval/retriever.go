// Package retrieval answers ranked queries over the graph by fusing
// lexical, semantic, and graph sub-searches with Reciprocal Rank Fusion.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/planwell/plangraph/internal/similarity"
	"github.com/planwell/plangraph/internal/storage"
)

// Result is one fused search hit.
type Result struct {
	Entity  *storage.Entity `json:"entity"`
	Score   float64         `json:"score"`
	Sources []string        `json:"sources"`
}

// Retriever runs recipe-driven hybrid search.
type Retriever struct {
	store      *storage.Store
	embeddings *similarity.EmbeddingStore
	router     *Router
	k          int
	logger     *slog.Logger
}

// candidateLimit is how deep each sub-search ranks before fusion.
const candidateLimit = 50

// graphSeedLimit caps how many lexical hits seed the graph expansion.
const graphSeedLimit = 3

// New creates a Retriever. embeddings may be nil; the semantic sub-search
// then contributes nothing.
func New(store *storage.Store, embeddings *similarity.EmbeddingStore, router *Router, rrfConstant int, logger *slog.Logger) *Retriever {
	if rrfConstant <= 0 {
		rrfConstant = DefaultRRFConstant
	}
	return &Retriever{
		store:      store,
		embeddings: embeddings,
		router:     router,
		k:          rrfConstant,
		logger:     logger,
	}
}

// Search routes the query to a recipe (unless one is supplied), runs the
// sub-searches, fuses them, and returns the top results. Sub-search
// failures degrade to an empty contribution, never an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int, recipeOverride *Recipe) ([]Result, error) {
	var recipe Recipe
	if recipeOverride != nil {
		if err := Validate(*recipeOverride); err != nil {
			return nil, err
		}
		recipe = *recipeOverride
	} else {
		recipe = r.router.Route(query)
	}

	lexical := r.lexicalSearch(query)

	var semantic []int64
	var graph []int64
	var wg sync.WaitGroup

	if recipe.Weights.Semantic > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semantic = r.semanticSearch(ctx, query, recipe.SimilarityThreshold)
		}()
	}
	if recipe.Weights.Graph > 0 && recipe.GraphConfig != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			graph = r.graphSearch(lexical, *recipe.GraphConfig)
		}()
	}
	wg.Wait()

	rankings := []Ranking{
		{Source: "lexical", Weight: recipe.Weights.Lexical, IDs: lexical},
		{Source: "semantic", Weight: recipe.Weights.Semantic, IDs: semantic},
		{Source: "graph", Weight: recipe.Weights.Graph, IDs: graph},
	}
	fused := FuseRRF(rankings, r.k)
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		entity, err := r.store.GetEntityByID(f.ID)
		if err != nil {
			r.logger.Warn("Fused hit vanished before materialization", "id", f.ID, "error", err)
			continue
		}
		results = append(results, Result{Entity: entity, Score: f.Score, Sources: f.Sources})
	}

	r.logger.Debug("Search complete",
		"query", query,
		"recipe", recipe.Name,
		"lexical", len(lexical),
		"semantic", len(semantic),
		"graph", len(graph),
		"results", len(results))
	return results, nil
}

// lexicalSearch ranks entities by the store's lexical index.
func (r *Retriever) lexicalSearch(query string) []int64 {
	hits, err := r.store.SearchEntities(query, candidateLimit)
	if err != nil {
		r.logger.Warn("Lexical search failed", "error", err)
		return nil
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Entity.ID
	}
	return ids
}

// semanticSearch embeds the query and ranks nearest stored vectors. Missing
// capability, embedding failure, or unknown canonical ids all degrade to an
// empty list.
func (r *Retriever) semanticSearch(ctx context.Context, query string, threshold *float64) []int64 {
	vec, err := r.embeddings.EmbedText(query)
	if err != nil {
		r.logger.Warn("Query embedding failed", "error", err)
		return nil
	}
	if len(vec) == 0 {
		return nil
	}

	matches, err := r.embeddings.Nearest(vec, candidateLimit)
	if err != nil {
		r.logger.Warn("Vector lookup failed", "error", err)
		return nil
	}

	var ids []int64
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return ids
		}
		if threshold != nil && m.Score < *threshold {
			continue
		}
		entity, err := r.store.GetEntity(m.CanonicalID, "")
		if err != nil {
			continue
		}
		ids = append(ids, entity.ID)
	}
	return ids
}

// graphSearch expands breadth-first from the top lexical seeds. A node
// found at depth d scores hopDecay^d; the ranked list orders by that score
// descending, ties by id ascending.
func (r *Retriever) graphSearch(seeds []int64, gc GraphConfig) []int64 {
	if len(seeds) > graphSeedLimit {
		seeds = seeds[:graphSeedLimit]
	}
	if len(seeds) == 0 {
		return nil
	}

	scores := make(map[int64]float64)
	frontier := make([]int64, 0, len(seeds))
	for _, id := range seeds {
		scores[id] = 1
		frontier = append(frontier, id)
	}

	decay := 1.0
	for depth := 1; depth <= gc.MaxDepth && len(frontier) > 0; depth++ {
		decay *= gc.HopDecay
		var next []int64
		for _, id := range frontier {
			neighbors, err := r.store.GetNeighbors(id, "")
			if err != nil {
				r.logger.Warn("Neighbor expansion failed", "id", id, "error", err)
				continue
			}
			for _, n := range neighbors {
				if _, visited := scores[n.ID]; visited {
					continue
				}
				scores[n.ID] = decay
				next = append(next, n.ID)
			}
		}
		frontier = next
	}

	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

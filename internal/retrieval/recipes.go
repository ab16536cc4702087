package retrieval

import (
	"math"
	"sort"

	pgerrors "github.com/planwell/plangraph/internal/errors"
)

// Weights splits the fusion weight across the three sub-searches. The
// components must sum to 1.0 within a small tolerance.
type Weights struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
	Graph    float64 `json:"graph"`
}

// GraphConfig bounds the graph expansion sub-search.
type GraphConfig struct {
	MaxDepth int     `json:"maxDepth"`
	HopDecay float64 `json:"hopDecay"`
}

// Recipe is a named fusion strategy.
type Recipe struct {
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	Weights             Weights      `json:"weights"`
	GraphConfig         *GraphConfig `json:"graphConfig,omitempty"`
	SimilarityThreshold *float64     `json:"similarityThreshold,omitempty"`
}

// Recipe names.
const (
	RecipeEdgeHybridRRF  = "EDGE_HYBRID_RRF"
	RecipeNodeHybridRRF  = "NODE_HYBRID_RRF"
	RecipeBFSExpansion   = "BFS_EXPANSION"
	RecipeLexicalFirst   = "LEXICAL_FIRST"
	RecipeSemanticFirst  = "SEMANTIC_FIRST"
	RecipeHybridBalanced = "HYBRID_BALANCED"
)

const weightSumTolerance = 0.001

func floatPtr(v float64) *float64 { return &v }

// Registry holds the recipe presets. It is constructed once and never
// mutated; lookups hand out copies.
type Registry struct {
	recipes map[string]Recipe
}

// NewRegistry builds the registry with the six standard presets.
func NewRegistry() *Registry {
	presets := []Recipe{
		{
			Name:        RecipeEdgeHybridRRF,
			Description: "Relationship-centric fusion for impact and dependency questions",
			Weights:     Weights{Lexical: 0.25, Semantic: 0.25, Graph: 0.5},
			GraphConfig: &GraphConfig{MaxDepth: 3, HopDecay: 0.6},
		},
		{
			Name:        RecipeNodeHybridRRF,
			Description: "Entity-centric fusion with mild graph support",
			Weights:     Weights{Lexical: 0.35, Semantic: 0.35, Graph: 0.3},
			GraphConfig: &GraphConfig{MaxDepth: 2, HopDecay: 0.5},
		},
		{
			Name:        RecipeBFSExpansion,
			Description: "Wide graph expansion from lexical seeds",
			Weights:     Weights{Lexical: 0.3, Semantic: 0.1, Graph: 0.6},
			GraphConfig: &GraphConfig{MaxDepth: 4, HopDecay: 0.7},
		},
		{
			Name:        RecipeLexicalFirst,
			Description: "Exact-term matching for explicit references",
			Weights:     Weights{Lexical: 0.7, Semantic: 0.2, Graph: 0.1},
			GraphConfig: &GraphConfig{MaxDepth: 1, HopDecay: 0.5},
		},
		{
			Name:                RecipeSemanticFirst,
			Description:         "Conceptual matching for explanatory questions",
			Weights:             Weights{Lexical: 0.2, Semantic: 0.7, Graph: 0.1},
			GraphConfig:         &GraphConfig{MaxDepth: 1, HopDecay: 0.5},
			SimilarityThreshold: floatPtr(0.5),
		},
		{
			Name:        RecipeHybridBalanced,
			Description: "Balanced default when nothing in the query stands out",
			Weights:     Weights{Lexical: 0.34, Semantic: 0.33, Graph: 0.33},
			GraphConfig: &GraphConfig{MaxDepth: 2, HopDecay: 0.5},
		},
	}

	recipes := make(map[string]Recipe, len(presets))
	for _, r := range presets {
		recipes[r.Name] = r
	}
	return &Registry{recipes: recipes}
}

// Get returns a defensive copy of a preset, so callers cannot mutate the
// shared definition.
func (r *Registry) Get(name string) (Recipe, error) {
	recipe, ok := r.recipes[name]
	if !ok {
		return Recipe{}, pgerrors.Newf(pgerrors.RecipeUnknown, "unknown recipe %q", name)
	}
	return copyRecipe(recipe), nil
}

// List returns copies of all presets, sorted by name.
func (r *Registry) List() []Recipe {
	out := make([]Recipe, 0, len(r.recipes))
	for _, recipe := range r.recipes {
		out = append(out, copyRecipe(recipe))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyRecipe(r Recipe) Recipe {
	out := r
	if r.GraphConfig != nil {
		gc := *r.GraphConfig
		out.GraphConfig = &gc
	}
	if r.SimilarityThreshold != nil {
		th := *r.SimilarityThreshold
		out.SimilarityThreshold = &th
	}
	return out
}

// Validate checks a recipe against the structural rules. Violations are
// fatal configuration errors.
func Validate(r Recipe) error {
	if r.Name == "" {
		return pgerrors.New(pgerrors.RecipeInvalid, "recipe name must not be empty")
	}
	sum := r.Weights.Lexical + r.Weights.Semantic + r.Weights.Graph
	if math.Abs(sum-1.0) > weightSumTolerance {
		return pgerrors.Newf(pgerrors.RecipeInvalid, "recipe %s weights sum to %g, want 1.0", r.Name, sum)
	}
	for _, w := range []float64{r.Weights.Lexical, r.Weights.Semantic, r.Weights.Graph} {
		if w < 0 {
			return pgerrors.Newf(pgerrors.RecipeInvalid, "recipe %s has a negative weight", r.Name)
		}
	}
	if gc := r.GraphConfig; gc != nil {
		if gc.MaxDepth < 1 || gc.MaxDepth > 10 {
			return pgerrors.Newf(pgerrors.RecipeInvalid, "recipe %s maxDepth %d outside [1,10]", r.Name, gc.MaxDepth)
		}
		if gc.HopDecay < 0.1 || gc.HopDecay > 1.0 {
			return pgerrors.Newf(pgerrors.RecipeInvalid, "recipe %s hopDecay %g outside [0.1,1.0]", r.Name, gc.HopDecay)
		}
	}
	if th := r.SimilarityThreshold; th != nil && (*th < 0 || *th > 1) {
		return pgerrors.Newf(pgerrors.RecipeInvalid, "recipe %s similarityThreshold %g outside [0,1]", r.Name, *th)
	}
	return nil
}

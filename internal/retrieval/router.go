package retrieval

import (
	"regexp"
	"strings"
)

// Router classifies a query string to a recipe. Classification is purely
// rule-based: identical input always routes identically.
type Router struct {
	registry *Registry
}

// NewRouter creates a Router over a recipe registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// numericRefPattern matches explicit entity references like "plan 0042"
// or "agent #003".
var numericRefPattern = regexp.MustCompile(`\b(plan|agent|feature)\s*#?\d+\b`)

// edgeVocabulary signals relationship and impact questions.
var edgeVocabulary = []string{
	"blocks", "blocked", "blocking",
	"depends", "dependency", "dependencies",
	"status of", "impact", "affects", "related to",
}

// semanticVocabulary signals explanatory questions.
var semanticVocabulary = []string{
	"explain", "how does", "how do", "why", "what is", "describe",
}

// Route picks the recipe for a query. Relationship vocabulary wins over an
// explicit numeric reference: "what blocks agent 003" is a graph question
// about agent 003, not a lookup of it.
func (r *Router) Route(query string) Recipe {
	q := strings.ToLower(strings.TrimSpace(query))

	name := RecipeHybridBalanced
	switch {
	case containsAny(q, edgeVocabulary):
		name = RecipeEdgeHybridRRF
	case numericRefPattern.MatchString(q):
		name = RecipeLexicalFirst
	case containsAny(q, semanticVocabulary):
		name = RecipeSemanticFirst
	}

	recipe, err := r.registry.Get(name)
	if err != nil {
		// Presets are registered at construction; this cannot happen.
		panic(err)
	}
	return recipe
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

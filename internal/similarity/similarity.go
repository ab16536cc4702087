// Package similarity scores pairs of graph entities on exact, lexical,
// semantic, and structural signals and combines them into a single
// weight-normalized score.
package similarity

import (
	"math"
	"strings"
	"unicode"

	"github.com/planwell/plangraph/internal/storage"
)

// Score holds the per-signal and combined similarity for one entity pair.
// All components are in [0,1].
type Score struct {
	Exact      float64 `json:"exact"`
	Lexical    float64 `json:"lexical"`
	Semantic   float64 `json:"semantic"`
	Structural float64 `json:"structural"`
	Combined   float64 `json:"combined"`
}

// Signal weights for the combined score. The exact weight only enters the
// normalization denominator when the exact signal fires, so two entities
// with distinct canonical ids are not penalized for it.
const (
	weightExact      = 0.4
	weightLexical    = 0.2
	weightSemantic   = 0.3
	weightStructural = 0.1
)

// Tokenize lowercases text and splits it on non-alphanumeric boundaries,
// keeping tokens longer than two characters as a set.
func Tokenize(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			tokens[f] = true
		}
	}
	return tokens
}

// Jaccard computes |A∩B| / |A∪B| over two token sets. Two empty sets
// score 0, not 1: no evidence is not a match.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Cosine computes cosine similarity over the shared prefix of two vectors.
// Returns 0 if either vector is missing or has zero magnitude.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Structural computes jaccard overlap over two neighbor canonical-id sets.
func Structural(neighborsA, neighborsB []string) float64 {
	setA := make(map[string]bool, len(neighborsA))
	for _, n := range neighborsA {
		setA[n] = true
	}
	setB := make(map[string]bool, len(neighborsB))
	for _, n := range neighborsB {
		setB[n] = true
	}
	return Jaccard(setA, setB)
}

// Compute scores an entity pair. The embedding store may be nil or
// partially populated; semantic scoring degrades to 0 without it.
// The structural score is supplied by the caller, which knows the graph.
func Compute(e1, e2 *storage.Entity, embeddings *EmbeddingStore, structural float64) Score {
	s := Score{Structural: structural}

	if e1.CanonicalID == e2.CanonicalID {
		s.Exact = 1
	}
	s.Lexical = Jaccard(Tokenize(e1.Name), Tokenize(e2.Name))
	s.Semantic = Cosine(embeddings.Vector(e1.CanonicalID), embeddings.Vector(e2.CanonicalID))

	sum := s.Lexical*weightLexical + s.Semantic*weightSemantic + s.Structural*weightStructural
	denom := weightLexical + weightSemantic + weightStructural
	if s.Exact == 1 {
		sum += weightExact
		denom += weightExact
	}
	s.Combined = math.Max(0, math.Min(1, sum/denom))
	return s
}

// Class is the threshold bucket a score falls into.
type Class int

const (
	ClassNone Class = iota
	ClassRelated
	ClassSimilar
	ClassDuplicate
)

func (c Class) String() string {
	switch c {
	case ClassDuplicate:
		return "duplicate"
	case ClassSimilar:
		return "similar"
	case ClassRelated:
		return "related"
	default:
		return "none"
	}
}

// Thresholds define the classification cut-offs. Duplicate requires every
// signal to agree, not just the combined score: a high combined score from
// one dominant signal is "similar", not "duplicate".
type Thresholds struct {
	Duplicate           float64
	DuplicateLexical    float64
	DuplicateSemantic   float64
	DuplicateStructural float64
	Similar             float64
	Related             float64
}

// DefaultThresholds returns the standard classification cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Duplicate:           0.95,
		DuplicateLexical:    0.98,
		DuplicateSemantic:   0.98,
		DuplicateStructural: 0.95,
		Similar:             0.8,
		Related:             0.6,
	}
}

// Classify buckets a score against the thresholds.
func (t Thresholds) Classify(s Score) Class {
	if s.Combined >= t.Duplicate &&
		s.Lexical >= t.DuplicateLexical &&
		s.Semantic >= t.DuplicateSemantic &&
		s.Structural >= t.DuplicateStructural {
		return ClassDuplicate
	}
	if s.Combined >= t.Similar {
		return ClassSimilar
	}
	if s.Combined >= t.Related {
		return ClassRelated
	}
	return ClassNone
}

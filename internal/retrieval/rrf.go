package retrieval

import "sort"

// DefaultRRFConstant is the standard k in the 1/(k+rank+1) formula.
const DefaultRRFConstant = 60

// Ranking is one ranked source list entering the fusion, with the weight
// its contributions carry.
type Ranking struct {
	Source string
	Weight float64
	IDs    []int64
}

// Fused is one item after fusion, with the sources that contributed to it.
type Fused struct {
	ID      int64
	Score   float64
	Sources []string
}

// FuseRRF combines ranked lists by Reciprocal Rank Fusion: an item at
// zero-based rank r in a list with weight w contributes w / (k + r + 1),
// and contributions for the same item sum across lists. Items confirmed by
// several sources therefore outrank single-source items regardless of raw
// scores. Output is sorted by score descending, ties broken by id
// ascending so identical input always produces identical output.
func FuseRRF(rankings []Ranking, k int) []Fused {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[int64]float64)
	sources := make(map[int64][]string)
	for _, ranking := range rankings {
		seen := make(map[int64]bool, len(ranking.IDs))
		for rank, id := range ranking.IDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			scores[id] += ranking.Weight / float64(k+rank+1)
			sources[id] = append(sources[id], ranking.Source)
		}
	}

	fused := make([]Fused, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, Fused{ID: id, Score: score, Sources: sources[id]})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

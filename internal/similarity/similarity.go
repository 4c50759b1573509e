// Package similarity scores embeddings against a query and ranks candidates.
//
// The same scoring serves two policies that differ only in their thresholds:
// search ranks memories for display, and versioning decides whether a new
// fact updates an existing one.
package similarity

import (
	"math"
	"sort"
)

// Cosine computes the cosine similarity of two vectors.
// Returns 0 if the lengths differ or either vector has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Scored pairs a ranked item with its similarity to the query.
type Scored[T any] struct {
	Item  T
	Score float64
}

// Options tunes a Rank call.
type Options struct {
	// MinScore drops candidates scoring strictly below it.
	MinScore float64

	// TopK truncates the result. Zero or negative keeps everything.
	TopK int

	// OnMismatch is called for every candidate whose embedding dimension
	// differs from the query's. Such candidates are skipped.
	OnMismatch func(index, got, want int)
}

// Rank scores items against query, keeps those at or above opts.MinScore,
// and returns them sorted by descending score. Ties keep input order.
func Rank[T any](query []float32, items []T, embedding func(T) []float32, opts Options) []Scored[T] {
	if len(query) == 0 || len(items) == 0 {
		return []Scored[T]{}
	}

	ranked := make([]Scored[T], 0, len(items))
	for i, item := range items {
		vec := embedding(item)
		if len(vec) != len(query) {
			if opts.OnMismatch != nil {
				opts.OnMismatch(i, len(vec), len(query))
			}
			continue
		}
		score := Cosine(query, vec)
		if score < opts.MinScore {
			continue
		}
		ranked = append(ranked, Scored[T]{Item: item, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if opts.TopK > 0 && len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}
	return ranked
}

// Scores extracts the scores of a ranked list, preserving order.
func Scores[T any](ranked []Scored[T]) []float64 {
	out := make([]float64, len(ranked))
	for i, r := range ranked {
		out[i] = r.Score
	}
	return out
}

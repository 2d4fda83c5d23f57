package rag

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// vector is an embedding widened to float64 with its norm precomputed.
type vector struct {
	values []float64
	norm   float64
}

func newVector(v []float32) vector {
	values := make([]float64, len(v))
	for i, f := range v {
		values[i] = float64(f)
	}
	return vector{values: values, norm: floats.Norm(values, 2)}
}

// cosine returns the cosine similarity of a and b, 0 when the lengths
// differ or either has zero magnitude.
func cosine(a, b vector) float64 {
	if len(a.values) != len(b.values) || len(a.values) == 0 || a.norm == 0 || b.norm == 0 {
		return 0
	}
	return floats.Dot(a.values, b.values) / (a.norm * b.norm)
}

// Match is a chunk scored against a query.
type Match struct {
	Content string
	Seq     int
	Score   float64
}

// rank sorts matches best first; ties keep insertion order.
func rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Seq < matches[j].Seq
	})
}

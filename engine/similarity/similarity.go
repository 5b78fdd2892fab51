// Package similarity computes the cosine-similarity score between two
// embedding vectors. It is pure computation with no external calls.
package similarity

import (
	"fmt"
	"math"

	"github.com/speechsim/speechsim/engine/domain"
)

// Score returns the cosine similarity of two embeddings, clamped to [0, 1].
// A zero-magnitude vector scores 0.0: similarity to nothing is no similarity.
//
// Mismatched dimensionality or model identifiers indicate a broken internal
// contract (mixed embedding models) and panic rather than returning an error.
func Score(a, b domain.EmbeddingVector) float64 {
	if a.Model != b.Model {
		panic(fmt.Sprintf("similarity: model mismatch: %q vs %q", a.Model, b.Model))
	}
	if len(a.Values) != len(b.Values) {
		panic(fmt.Sprintf("similarity: dimension mismatch: %d vs %d", len(a.Values), len(b.Values)))
	}
	return clamp(Cosine(a.Values, b.Values))
}

// Cosine returns the raw cosine of the angle between two equal-length
// vectors. Callers are expected to have checked lengths.
func Cosine(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	c := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// clamp guards against floating-point drift pushing a cosine of
// non-negative-component embeddings marginally outside [0, 1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Interpret maps a score in [0, 1] to a human-readable similarity level.
func Interpret(score float64) string {
	switch {
	case score >= 0.9:
		return "Very High Similarity"
	case score >= 0.8:
		return "High Similarity"
	case score >= 0.7:
		return "Moderate-High Similarity"
	case score >= 0.6:
		return "Moderate Similarity"
	case score >= 0.5:
		return "Low-Moderate Similarity"
	case score >= 0.3:
		return "Low Similarity"
	default:
		return "Very Low Similarity"
	}
}

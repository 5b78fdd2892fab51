// Package embed produces vector embeddings for texts through an embeddings
// provider. The pipeline caches results; this package only performs the
// actual provider calls.
package embed

import (
	"context"
	"errors"

	"github.com/speechsim/speechsim/engine/domain"
)

var (
	// ErrUnavailable marks connectivity failures, rate limiting, and
	// provider-side (5xx) errors.
	ErrUnavailable = errors.New("embed: provider unavailable")

	// ErrRejected marks inputs the provider refused (4xx).
	ErrRejected = errors.New("embed: input rejected")

	// ErrEmptyInput is returned for empty or whitespace-only texts.
	ErrEmptyInput = errors.New("embed: empty input")
)

// Provider is the embedding contract consumed by the pipeline.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) (domain.EmbeddingVector, error)
	// Model reports the model identifier vectors are produced by.
	Model() string
}

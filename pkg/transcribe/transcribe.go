// Package transcribe turns audio bytes into text through a speech-to-text
// provider. Provider failures are reported through two sentinel errors so
// callers can tell "the provider is down" from "the provider refused this
// input".
package transcribe

import (
	"context"
	"errors"

	"github.com/speechsim/speechsim/engine/domain"
)

var (
	// ErrUnavailable marks connectivity failures, rate limiting, and
	// provider-side (5xx) errors.
	ErrUnavailable = errors.New("transcribe: provider unavailable")

	// ErrRejected marks inputs the provider refused (4xx).
	ErrRejected = errors.New("transcribe: input rejected")
)

// Provider is the transcription contract consumed by the pipeline. At most
// one attempt is made per call; retries are the provider's own business.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, format domain.AudioFormat) (*domain.TranscriptionResult, error)
}

package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/speechsim/speechsim/engine/domain"
	"github.com/speechsim/speechsim/pkg/resilience"
)

// DefaultModel is the speech-to-text model used unless overridden.
const DefaultModel = "whisper-1"

type config struct {
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
}

// Option configures the OpenAI transcriber.
type Option func(*config)

// WithModel overrides the transcription model.
func WithModel(model string) Option { return func(c *config) { c.model = model } }

// WithBaseURL points the client at an OpenAI-compatible endpoint. Used by
// tests and self-hosted gateways.
func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *config) { c.httpClient = hc } }

// WithRateLimit caps outbound calls at rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option { return func(c *config) { c.breaker = b } }

// OpenAI implements Provider using the OpenAI audio transcription API.
type OpenAI struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-backed transcriber.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	cfg := config{model: DefaultModel, httpClient: http.DefaultClient}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		// Keep latency bounds predictable: one attempt per pipeline stage.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAI{
		client:  openai.NewClient(clientOpts...),
		model:   cfg.model,
		limiter: cfg.limiter,
		breaker: cfg.breaker,
	}
}

// Transcribe sends the audio to the provider and returns the transcript.
// Empty transcripts are returned as-is: silence is a valid result.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, format domain.AudioFormat) (*domain.TranscriptionResult, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrRejected)
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, waitErr(ctx, err)
		}
	}

	var text string
	call := func(ctx context.Context) error {
		resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
			Model: o.model,
			File:  openai.File(bytes.NewReader(audio), "audio."+string(format), mimeType(format)),
		})
		if err != nil {
			return classify(err)
		}
		text = strings.TrimSpace(resp.Text)
		return nil
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if errors.Is(err, resilience.ErrOpen) {
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	if err != nil {
		return nil, err
	}

	return &domain.TranscriptionResult{Text: text}, nil
}

// waitErr resolves a failed limiter wait. The limiter reports a plain error
// when the reservation cannot complete inside the context's deadline, so a
// budget-induced failure is surfaced as the context error it really is.
func waitErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("rate limit wait: %w", context.DeadlineExceeded)
	}
	return err
}

// classify maps SDK errors to the package sentinels. Context errors pass
// through untouched so deadline handling stays visible to the caller.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode >= 400 && apierr.StatusCode < 500 && apierr.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d", ErrRejected, apierr.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrUnavailable, apierr.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func mimeType(format domain.AudioFormat) string {
	switch format {
	case domain.FormatWAV:
		return "audio/wav"
	case domain.FormatMP3:
		return "audio/mpeg"
	case domain.FormatFLAC:
		return "audio/flac"
	case domain.FormatM4A:
		return "audio/mp4"
	case domain.FormatOGG:
		return "audio/ogg"
	case domain.FormatWebM:
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

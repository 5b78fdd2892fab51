package embed

import (
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

// OpenAI embedding models.
const (
	ModelTextEmbedding3Small = "text-embedding-3-small"
	ModelTextEmbedding3Large = "text-embedding-3-large"
	ModelAda002              = "text-embedding-ada-002"
)

// DefaultModel is used unless overridden.
const DefaultModel = ModelTextEmbedding3Small

// maxInputChars truncates pathological inputs before they hit the provider's
// token limit (~4 chars per token against an 8191-token window).
const maxInputChars = 8191 * 4

type config struct {
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
}

// Option configures the OpenAI embedder.
type Option func(*config)

// WithModel overrides the embedding model.
func WithModel(model string) Option { return func(c *config) { c.model = model } }

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *config) { c.httpClient = hc } }

// WithRateLimit caps outbound calls at rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option { return func(c *config) { c.breaker = b } }

// OpenAI implements Provider using the OpenAI embeddings API. It also works
// against any OpenAI-compatible endpoint via WithBaseURL.
type OpenAI struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-backed embedder.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	cfg := config{model: DefaultModel, httpClient: http.DefaultClient}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		// One attempt per pipeline stage; the orchestrator owns timeouts.
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

// Model reports the configured model identifier.
func (o *OpenAI) Model() string { return o.model }

// Embed returns the embedding for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) (domain.EmbeddingVector, error) {
	if strings.TrimSpace(text) == "" {
		return domain.EmbeddingVector{}, ErrEmptyInput
	}
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return domain.EmbeddingVector{}, waitErr(ctx, err)
		}
	}

	var vec domain.EmbeddingVector
	call := func(ctx context.Context) error {
		resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model:          o.model,
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("%w: response contained no embeddings", ErrUnavailable)
		}
		values := make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			values[i] = float32(v)
		}
		vec = domain.EmbeddingVector{
			Values: values,
			Text:   text,
			Model:  o.model,
			Tokens: resp.Usage.TotalTokens,
		}
		return nil
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if errors.Is(err, resilience.ErrOpen) {
		return domain.EmbeddingVector{}, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	if err != nil {
		return domain.EmbeddingVector{}, err
	}
	return vec, nil
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
// through untouched.
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

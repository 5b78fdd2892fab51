// Package pipeline orchestrates a similarity run. It accepts a session id
// and a reference text, fetches the stored session, decodes its audio,
// transcribes it, embeds transcript and reference, and scores the pair.
// Every failure leaving this package is a classified *domain.Error carrying
// the request id of the run that produced it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/speechsim/speechsim/engine/domain"
	"github.com/speechsim/speechsim/engine/embedcache"
	"github.com/speechsim/speechsim/engine/similarity"
	"github.com/speechsim/speechsim/engine/stats"
	"github.com/speechsim/speechsim/engine/store"
	"github.com/speechsim/speechsim/pkg/embed"
	"github.com/speechsim/speechsim/pkg/transcribe"
)

// Publisher emits run-completed events. Publishing is best effort: a failed
// publish is logged and never fails the run.
type Publisher interface {
	PublishRunCompleted(ctx context.Context, ev RunCompleted) error
}

// RunCompleted is the event emitted after every finished run, success or not.
type RunCompleted struct {
	SessionID  int64     `json:"session_id"`
	RequestID  string    `json:"request_id"`
	Outcome    string    `json:"outcome"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Score      float64   `json:"score,omitempty"`
	Model      string    `json:"model,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Options bounds a run. Zero values fall back to the defaults.
type Options struct {
	TranscribeTimeout time.Duration
	EmbedTimeout      time.Duration
	MaxAudioBytes     int
	MaxReferenceChars int
}

// DefaultOptions returns the production bounds.
func DefaultOptions() Options {
	return Options{
		TranscribeTimeout: 60 * time.Second,
		EmbedTimeout:      15 * time.Second,
		MaxAudioBytes:     domain.DefaultMaxAudioBytes,
		MaxReferenceChars: domain.DefaultMaxReferenceChars,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TranscribeTimeout <= 0 {
		o.TranscribeTimeout = d.TranscribeTimeout
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = d.EmbedTimeout
	}
	if o.MaxAudioBytes <= 0 {
		o.MaxAudioBytes = d.MaxAudioBytes
	}
	if o.MaxReferenceChars <= 0 {
		o.MaxReferenceChars = d.MaxReferenceChars
	}
	return o
}

// Service runs the similarity pipeline.
type Service struct {
	store       store.SessionStore
	transcriber transcribe.Provider
	embedder    embed.Provider
	cache       *embedcache.Cache
	stats       *stats.Registry
	bus         Publisher
	opts        Options
	logger      *slog.Logger
}

// New wires a Service. cache, registry and bus may be nil; a nil cache means
// every embedding call goes to the provider.
func New(st store.SessionStore, tr transcribe.Provider, em embed.Provider, cache *embedcache.Cache, registry *stats.Registry, bus Publisher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		transcriber: tr,
		embedder:    em,
		cache:       cache,
		stats:       registry,
		bus:         bus,
		opts:        opts.withDefaults(),
		logger:      logger,
	}
}

// Timings holds per-stage wall-clock durations in milliseconds.
type Timings struct {
	FetchMs      float64 `json:"fetch_ms"`
	DecodeMs     float64 `json:"decode_ms"`
	TranscribeMs float64 `json:"transcribe_ms"`
	EmbedMs      float64 `json:"embed_ms"`
	TotalMs      float64 `json:"total_ms"`
}

// Result is the outcome of one successful run.
type Result struct {
	SessionID      int64                       `json:"session_id"`
	RequestID      string                      `json:"request_id"`
	Score          float64                     `json:"score"`
	Interpretation string                      `json:"interpretation"`
	Transcription  *domain.TranscriptionResult `json:"transcription"`
	Model          string                      `json:"model"`
	Timings        Timings                     `json:"timings"`
}

// Run executes the full pipeline for one session against a reference text.
// The returned error, when non-nil, is always a *domain.Error.
func (s *Service) Run(ctx context.Context, sessionID int64, referenceText string) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID, "session_id", sessionID)

	// 1. Validate inputs before touching any dependency.
	if derr := domain.ValidateSessionID(sessionID); derr != nil {
		return nil, s.fail(ctx, logger, sessionID, requestID, start, derr)
	}
	reference, derr := domain.ValidateReferenceText(referenceText, s.opts.MaxReferenceChars)
	if derr != nil {
		return nil, s.fail(ctx, logger, sessionID, requestID, start, derr)
	}

	// 2. Fetch the session.
	fetchStart := time.Now()
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, s.fail(ctx, logger, sessionID, requestID, start, classifyStore(err, sessionID))
	}
	fetchMs := msSince(fetchStart)

	// 3. Decode and bound the stored audio.
	decodeStart := time.Now()
	if rec.Audio == "" {
		derr := domain.ErrValidation("session has no audio", map[string]any{"session_id": sessionID})
		return nil, s.fail(ctx, logger, sessionID, requestID, start, derr)
	}
	audio, derr := domain.DecodeAudio(rec.Audio, s.opts.MaxAudioBytes)
	if derr != nil {
		return nil, s.fail(ctx, logger, sessionID, requestID, start, derr)
	}
	decodeMs := msSince(decodeStart)
	logger.Info("audio decoded", "bytes", len(audio.Bytes), "format", audio.Format)

	// 4. Transcribe.
	transcribeStart := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.opts.TranscribeTimeout)
	tr, err := s.transcriber.Transcribe(tctx, audio.Bytes, audio.Format)
	cancel()
	if err != nil {
		return nil, s.fail(ctx, logger, sessionID, requestID, start, classifyProvider(err, "transcribe"))
	}
	transcribeMs := msSince(transcribeStart)
	logger.Info("transcription done", "chars", len(tr.Text), "duration_ms", transcribeMs)

	res := &Result{
		SessionID:     sessionID,
		RequestID:     requestID,
		Transcription: tr,
		Model:         s.embedder.Model(),
	}

	// Silent audio is a valid run with zero similarity; skip embedding.
	if tr.Text == "" {
		res.Score = 0
		res.Interpretation = similarity.Interpret(0)
		res.Timings = Timings{FetchMs: fetchMs, DecodeMs: decodeMs, TranscribeMs: transcribeMs, TotalMs: msSince(start)}
		s.finish(ctx, logger, res, start)
		return res, nil
	}

	// 5. Embed transcript and reference concurrently, then score.
	embedStart := time.Now()
	var refVec, hypVec domain.EmbeddingVector
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.embedText(gctx, reference)
		refVec = v
		return err
	})
	g.Go(func() error {
		v, err := s.embedText(gctx, tr.Text)
		hypVec = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, logger, sessionID, requestID, start, classifyProvider(err, "embed"))
	}
	embedMs := msSince(embedStart)

	res.Score = similarity.Score(refVec, hypVec)
	res.Interpretation = similarity.Interpret(res.Score)
	res.Timings = Timings{
		FetchMs:      fetchMs,
		DecodeMs:     decodeMs,
		TranscribeMs: transcribeMs,
		EmbedMs:      embedMs,
		TotalMs:      msSince(start),
	}

	s.finish(ctx, logger, res, start)
	return res, nil
}

// UpdateAudio validates and stores a new audio payload for a session.
func (s *Service) UpdateAudio(ctx context.Context, sessionID int64, audioB64 string) error {
	if derr := domain.ValidateSessionID(sessionID); derr != nil {
		return derr
	}
	if _, derr := domain.DecodeAudio(audioB64, s.opts.MaxAudioBytes); derr != nil {
		return derr
	}
	if err := s.store.UpdateAudio(ctx, sessionID, audioB64); err != nil {
		return classifyStore(err, sessionID)
	}
	return nil
}

// Stats exposes the run metrics registry. Nil when metrics are disabled.
func (s *Service) Stats() *stats.Registry { return s.stats }

func (s *Service) embedText(ctx context.Context, text string) (domain.EmbeddingVector, error) {
	fetch := func(ctx context.Context) (domain.EmbeddingVector, error) {
		ectx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
		defer cancel()
		return s.embedder.Embed(ectx, text)
	}
	if s.cache == nil {
		return fetch(ctx)
	}
	return s.cache.GetOrFetch(ctx, text, s.embedder.Model(), fetch)
}

// finish records a successful run and emits its event.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, res *Result, start time.Time) {
	dur := time.Since(start)
	if s.stats != nil {
		s.stats.RecordOutcome(stats.OutcomeSuccess, dur)
	}
	logger.Info("run complete", "score", res.Score, "duration_ms", msSince(start))
	s.publish(ctx, logger, RunCompleted{
		SessionID:  res.SessionID,
		RequestID:  res.RequestID,
		Outcome:    string(stats.OutcomeSuccess),
		Score:      res.Score,
		Model:      res.Model,
		DurationMs: msSince(start),
		At:         time.Now().UTC(),
	})
}

// fail classifies, records, logs and publishes a failed run, returning the
// error the caller should surface.
func (s *Service) fail(ctx context.Context, logger *slog.Logger, sessionID int64, requestID string, start time.Time, err error) *domain.Error {
	derr := domain.Classify(err).WithRequestID(requestID)
	dur := time.Since(start)
	if s.stats != nil {
		s.stats.RecordOutcome(stats.OutcomeFor(derr.Kind), dur)
		s.stats.RecordError(derr.Kind)
	}
	logger.Error("run failed", "code", derr.Code, "kind", derr.Kind, "err", derr)
	s.publish(ctx, logger, RunCompleted{
		SessionID:  sessionID,
		RequestID:  requestID,
		Outcome:    string(stats.OutcomeFor(derr.Kind)),
		ErrorCode:  derr.Code,
		DurationMs: msSince(start),
		At:         time.Now().UTC(),
	})
	return derr
}

func (s *Service) publish(ctx context.Context, logger *slog.Logger, ev RunCompleted) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishRunCompleted(ctx, ev); err != nil {
		logger.Warn("event publish failed, continuing", "err", err)
	}
}

// classifyStore maps session-store failures into the taxonomy.
func classifyStore(err error, sessionID int64) *domain.Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrNotFound(sessionID)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrTimeout("fetch", err)
	case errors.Is(err, context.Canceled):
		return domain.Classify(err)
	default:
		return domain.ErrUnavailable("session store unavailable", err)
	}
}

// classifyProvider maps transcription and embedding failures into the
// taxonomy. stage names the pipeline step for timeout attribution. Every
// provider failure is a ServiceError; ServiceUnavailable is reserved for
// the session store.
func classifyProvider(err error, stage string) *domain.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrTimeout(stage, err)
	case errors.Is(err, context.Canceled):
		return domain.Classify(err)
	case errors.Is(err, transcribe.ErrUnavailable), errors.Is(err, embed.ErrUnavailable):
		return domain.ErrService(stage+" provider unavailable", err)
	case errors.Is(err, transcribe.ErrRejected), errors.Is(err, embed.ErrRejected):
		return domain.ErrService(stage+" provider rejected the request", err)
	case errors.Is(err, embed.ErrEmptyInput):
		return domain.ErrInternal(err)
	default:
		return domain.ErrService(stage+" failed", err)
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

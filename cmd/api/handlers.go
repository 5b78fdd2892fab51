package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/speechsim/speechsim/engine/domain"
	"github.com/speechsim/speechsim/engine/pipeline"
	"github.com/speechsim/speechsim/engine/stats"
	"github.com/speechsim/speechsim/engine/store"
	"github.com/speechsim/speechsim/pkg/mid"
)

// runner is the slice of the pipeline service the handlers depend on.
type runner interface {
	Run(ctx context.Context, sessionID int64, referenceText string) (*pipeline.Result, error)
	UpdateAudio(ctx context.Context, sessionID int64, audioB64 string) error
}

type apiServer struct {
	pipeline runner
	sessions store.SessionStore
	stats    *stats.Registry
	health   func(ctx context.Context) error
	logger   *slog.Logger
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/similarity/{id}", s.handleSimilarity)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/audio", s.handleUpdateAudio)
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/v1/monitoring/metrics", s.handleMetricsSnapshot)
	mux.HandleFunc("POST /api/v1/monitoring/metrics/reset", s.handleMetricsReset)
	mux.Handle("GET /metrics", s.stats.Handler())
	return mux
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "err", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// SimilarityRequest is the JSON body for POST /api/v1/similarity/{id}.
type SimilarityRequest struct {
	ReferenceText string `json:"reference_text"`
}

func (s *apiServer) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	id, derr := pathID(r)
	if derr != nil {
		s.writeError(w, r, derr)
		return
	}
	var req SimilarityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrValidation("invalid request body", nil))
		return
	}
	res, err := s.pipeline.Run(r.Context(), id, req.ReferenceText)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AudioRequest is the JSON body for PUT /api/v1/sessions/{id}/audio.
type AudioRequest struct {
	Audio string `json:"audio"`
}

func (s *apiServer) handleUpdateAudio(w http.ResponseWriter, r *http.Request) {
	id, derr := pathID(r)
	if derr != nil {
		s.writeError(w, r, derr)
		return
	}
	var req AudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrValidation("invalid request body", nil))
		return
	}
	if err := s.pipeline.UpdateAudio(r.Context(), id, req.Audio); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "updated": true})
}

// CreateSessionRequest is the JSON body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Speech      string         `json:"speech"`
	Questions   map[string]any `json:"questions,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	GeneratedBy string         `json:"generated_by,omitempty"`
	Audio       string         `json:"audio,omitempty"`
}

func (s *apiServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrValidation("invalid request body", nil))
		return
	}
	rec, err := s.sessions.Create(r.Context(), &domain.SessionRecord{
		Speech:      req.Speech,
		Questions:   req.Questions,
		CreatedBy:   req.CreatedBy,
		GeneratedBy: req.GeneratedBy,
		Audio:       req.Audio,
	})
	if err != nil {
		s.writeError(w, r, classifySessionStore(err, 0))
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, derr := pathID(r)
	if derr != nil {
		s.writeError(w, r, derr)
		return
	}
	rec, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, classifySessionStore(err, id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	recs, err := s.sessions.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, classifySessionStore(err, 0))
		return
	}
	if recs == nil {
		recs = []domain.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": recs, "count": len(recs)})
}

func (s *apiServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, derr := pathID(r)
	if derr != nil {
		s.writeError(w, r, derr)
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, classifySessionStore(err, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reset") == "true" {
		writeJSON(w, http.StatusOK, s.stats.Reset())
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *apiServer) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Reset())
}

// --- Helpers ---

func pathID(r *http.Request) (int64, *domain.Error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.ErrValidation("session id must be an integer", map[string]any{"id": raw})
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func classifySessionStore(err error, id int64) *domain.Error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrNotFound(id)
	}
	return domain.ErrUnavailable("session store unavailable", err)
}

// errorBody is the JSON error envelope every failure response uses.
type errorBody struct {
	Error *domain.Error `json:"error"`
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	derr := domain.Classify(err)
	if derr.RequestID == "" {
		derr = derr.WithRequestID(mid.RequestIDFrom(r.Context()))
	}
	writeJSON(w, domain.HTTPStatus(derr.Kind), errorBody{Error: derr})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

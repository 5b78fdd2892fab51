// Package stats is the process-wide metrics registry for pipeline runs:
// outcome counters, a response-time aggregate, and error counts by taxonomy
// kind. All operations are safe under arbitrary concurrent callers, and
// snapshot/reset never observe a torn intermediate state.
package stats

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/speechsim/speechsim/engine/domain"
)

// Outcome is the caller-visible category of a completed run.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeClientError     Outcome = "client_error"
	OutcomeDependencyError Outcome = "dependency_error"
	OutcomeServerError     Outcome = "server_error"
)

// OutcomeFor maps an error kind to its outcome category.
func OutcomeFor(k domain.Kind) Outcome {
	switch k {
	case domain.KindNotFound, domain.KindValidation:
		return OutcomeClientError
	case domain.KindUnavailable, domain.KindService, domain.KindTimeout:
		return OutcomeDependencyError
	default:
		return OutcomeServerError
	}
}

// DurationStats aggregates successful-run response times.
type DurationStats struct {
	Count int64   `json:"count"`
	SumMs float64 `json:"sum_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
}

// Snapshot is a consistent copy of the registry at one instant.
type Snapshot struct {
	TakenAt       time.Time               `json:"taken_at"`
	Total         int64                   `json:"total"`
	Outcomes      map[Outcome]int64       `json:"outcomes"`
	ResponseTimes DurationStats           `json:"response_times"`
	Errors        map[domain.Kind]int64   `json:"errors"`
}

// SuccessCount is a convenience accessor.
func (s Snapshot) SuccessCount() int64 { return s.Outcomes[OutcomeSuccess] }

// ErrorCount sums errors across all kinds.
func (s Snapshot) ErrorCount() int64 {
	var n int64
	for _, v := range s.Errors {
		n += v
	}
	return n
}

// Registry holds the mutable counters. The single mutex keeps outcome
// counters, the duration aggregate, and error counters mutually consistent:
// an event is recorded strictly before or strictly after any reset boundary.
type Registry struct {
	mu        sync.Mutex
	total     int64
	outcomes  map[Outcome]int64
	durations DurationStats
	errors    map[domain.Kind]int64
	now       func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		outcomes: make(map[Outcome]int64),
		errors:   make(map[domain.Kind]int64),
		now:      time.Now,
	}
}

// RecordOutcome counts one completed run. Successful runs also feed the
// response-time aggregate; failures are counted per category only (their
// kinds arrive separately via RecordError).
func (r *Registry) RecordOutcome(o Outcome, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	r.outcomes[o]++
	if o != OutcomeSuccess {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	dur := &r.durations
	dur.Count++
	dur.SumMs += ms
	if dur.Count == 1 || ms < dur.MinMs {
		dur.MinMs = ms
	}
	if ms > dur.MaxMs {
		dur.MaxMs = ms
	}
	dur.AvgMs = dur.SumMs / float64(dur.Count)
}

// RecordError counts one failure by taxonomy kind.
func (r *Registry) RecordError(k domain.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[k]++
}

// Snapshot returns a consistent copy of all counters.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Reset zeroes the registry and returns the pre-reset snapshot atomically.
func (r *Registry) Reset() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.snapshotLocked()
	r.total = 0
	r.outcomes = make(map[Outcome]int64)
	r.durations = DurationStats{}
	r.errors = make(map[domain.Kind]int64)
	return prev
}

func (r *Registry) snapshotLocked() Snapshot {
	out := make(map[Outcome]int64, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}
	errs := make(map[domain.Kind]int64, len(r.errors))
	for k, v := range r.errors {
		errs[k] = v
	}
	return Snapshot{
		TakenAt:       r.now().UTC(),
		Total:         r.total,
		Outcomes:      out,
		ResponseTimes: r.durations,
		Errors:        errs,
	}
}

// Render emits the registry in Prometheus text exposition format.
func (r *Registry) Render() string {
	s := r.Snapshot()

	var b strings.Builder
	b.WriteString("# HELP pipeline_runs_total Completed pipeline runs by outcome.\n")
	b.WriteString("# TYPE pipeline_runs_total counter\n")
	for _, o := range sortedKeys(s.Outcomes) {
		fmt.Fprintf(&b, "pipeline_runs_total{outcome=%q} %d\n", o, s.Outcomes[Outcome(o)])
	}

	b.WriteString("# HELP pipeline_errors_total Pipeline failures by error kind.\n")
	b.WriteString("# TYPE pipeline_errors_total counter\n")
	errKeys := make([]string, 0, len(s.Errors))
	for k := range s.Errors {
		errKeys = append(errKeys, string(k))
	}
	sort.Strings(errKeys)
	for _, k := range errKeys {
		fmt.Fprintf(&b, "pipeline_errors_total{kind=%q} %d\n", k, s.Errors[domain.Kind(k)])
	}

	b.WriteString("# HELP pipeline_duration_ms Successful run duration in milliseconds.\n")
	b.WriteString("# TYPE pipeline_duration_ms summary\n")
	fmt.Fprintf(&b, "pipeline_duration_ms_count %d\n", s.ResponseTimes.Count)
	fmt.Fprintf(&b, "pipeline_duration_ms_sum %g\n", s.ResponseTimes.SumMs)
	fmt.Fprintf(&b, "pipeline_duration_ms_min %g\n", s.ResponseTimes.MinMs)
	fmt.Fprintf(&b, "pipeline_duration_ms_max %g\n", s.ResponseTimes.MaxMs)
	return b.String()
}

// Handler serves Render at an HTTP endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func sortedKeys(m map[Outcome]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

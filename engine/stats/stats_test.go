package stats

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/speechsim/speechsim/engine/domain"
)

func TestRecordAndSnapshot(t *testing.T) {
	r := New()
	const k, m = 5, 3

	for i := 0; i < k; i++ {
		r.RecordOutcome(OutcomeSuccess, 100*time.Millisecond)
	}
	for i := 0; i < m; i++ {
		r.RecordError(domain.KindNotFound)
		r.RecordOutcome(OutcomeClientError, 5*time.Millisecond)
	}

	s := r.Snapshot()
	if s.Total != k+m {
		t.Fatalf("total = %d, want %d", s.Total, k+m)
	}
	if s.SuccessCount() != k {
		t.Fatalf("success = %d, want %d", s.SuccessCount(), k)
	}
	if s.ErrorCount() != m {
		t.Fatalf("errors = %d, want %d", s.ErrorCount(), m)
	}
	if s.Errors[domain.KindNotFound] != m {
		t.Fatalf("not_found errors = %d, want %d", s.Errors[domain.KindNotFound], m)
	}
	if s.ResponseTimes.Count != k {
		t.Fatalf("duration count = %d, want %d (failures must not feed timings)", s.ResponseTimes.Count, k)
	}
	if s.ResponseTimes.MinMs != 100 || s.ResponseTimes.MaxMs != 100 {
		t.Fatalf("min/max = %v/%v, want 100/100", s.ResponseTimes.MinMs, s.ResponseTimes.MaxMs)
	}
	if s.ResponseTimes.AvgMs != 100 {
		t.Fatalf("avg = %v, want 100", s.ResponseTimes.AvgMs)
	}
}

func TestDurationAggregate(t *testing.T) {
	r := New()
	for _, d := range []time.Duration{50 * time.Millisecond, 250 * time.Millisecond, 100 * time.Millisecond} {
		r.RecordOutcome(OutcomeSuccess, d)
	}
	s := r.Snapshot()
	if s.ResponseTimes.MinMs != 50 {
		t.Fatalf("min = %v, want 50", s.ResponseTimes.MinMs)
	}
	if s.ResponseTimes.MaxMs != 250 {
		t.Fatalf("max = %v, want 250", s.ResponseTimes.MaxMs)
	}
	if s.ResponseTimes.SumMs != 400 {
		t.Fatalf("sum = %v, want 400", s.ResponseTimes.SumMs)
	}
}

func TestReset(t *testing.T) {
	r := New()
	r.RecordOutcome(OutcomeSuccess, time.Millisecond)
	r.RecordError(domain.KindTimeout)
	r.RecordOutcome(OutcomeDependencyError, time.Millisecond)

	prev := r.Reset()
	if prev.Total != 2 || prev.ErrorCount() != 1 {
		t.Fatalf("pre-reset snapshot total=%d errors=%d", prev.Total, prev.ErrorCount())
	}

	s := r.Snapshot()
	if s.Total != 0 || s.SuccessCount() != 0 || s.ErrorCount() != 0 || s.ResponseTimes.Count != 0 {
		t.Fatalf("registry not zeroed: %+v", s)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	r.RecordOutcome(OutcomeSuccess, time.Millisecond)
	s := r.Snapshot()
	s.Outcomes[OutcomeSuccess] = 999
	if r.Snapshot().SuccessCount() != 1 {
		t.Fatal("mutating a snapshot leaked into the registry")
	}
}

func TestConcurrentRecording(t *testing.T) {
	r := New()
	const perWorker = 200
	const workers = 8

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.RecordOutcome(OutcomeSuccess, time.Millisecond)
				r.RecordError(domain.KindService)
			}
		}()
	}
	wg.Wait()

	s := r.Snapshot()
	if s.SuccessCount() != workers*perWorker {
		t.Fatalf("success = %d, want %d", s.SuccessCount(), workers*perWorker)
	}
	if s.Errors[domain.KindService] != workers*perWorker {
		t.Fatalf("errors = %d, want %d", s.Errors[domain.KindService], workers*perWorker)
	}
}

func TestConcurrentResetLosesNothing(t *testing.T) {
	r := New()
	const total = 500

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			r.RecordOutcome(OutcomeSuccess, time.Millisecond)
		}
	}()
	var drained int64
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			drained += r.Reset().SuccessCount()
		}
	}()
	wg.Wait()

	if got := drained + r.Snapshot().SuccessCount(); got != total {
		t.Fatalf("events lost across reset boundary: drained+remaining = %d, want %d", got, total)
	}
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		kind domain.Kind
		want Outcome
	}{
		{domain.KindNotFound, OutcomeClientError},
		{domain.KindValidation, OutcomeClientError},
		{domain.KindUnavailable, OutcomeDependencyError},
		{domain.KindService, OutcomeDependencyError},
		{domain.KindTimeout, OutcomeDependencyError},
		{domain.KindInternal, OutcomeServerError},
	}
	for _, tt := range tests {
		if got := OutcomeFor(tt.kind); got != tt.want {
			t.Fatalf("OutcomeFor(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	r := New()
	r.RecordOutcome(OutcomeSuccess, 10*time.Millisecond)
	r.RecordError(domain.KindNotFound)
	r.RecordOutcome(OutcomeClientError, time.Millisecond)

	out := r.Render()
	for _, want := range []string{
		`pipeline_runs_total{outcome="success"} 1`,
		`pipeline_runs_total{outcome="client_error"} 1`,
		`pipeline_errors_total{kind="not_found"} 1`,
		"pipeline_duration_ms_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render output missing %q:\n%s", want, out)
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	r := New()
	r.RecordOutcome(OutcomeSuccess, time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
}

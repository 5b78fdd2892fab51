package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func newTestBreaker(threshold, probes int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(Options{Threshold: threshold, Cooldown: cooldown, Probes: probes})
	clock := time.Now()
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 1, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: got %v, want boom", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("open breaker: got %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 1, time.Minute)
	ctx := context.Background()

	b.Do(ctx, failing)
	b.Do(ctx, failing)
	b.Do(ctx, succeeding)
	b.Do(ctx, failing)
	b.Do(ctx, failing)

	if b.State() != Closed {
		t.Fatalf("state = %v, want closed (failures not consecutive)", b.State())
	}
}

func TestBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	b, clock := newTestBreaker(1, 1, time.Minute)
	ctx := context.Background()

	b.Do(ctx, failing)
	if b.State() != Open {
		t.Fatal("expected open after threshold=1 failure")
	}

	*clock = clock.Add(2 * time.Minute)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}
	if err := b.Do(ctx, succeeding); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after probe success", b.State())
	}
}

func TestBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	b, clock := newTestBreaker(1, 1, time.Minute)
	ctx := context.Background()

	b.Do(ctx, failing)
	*clock = clock.Add(2 * time.Minute)

	if err := b.Do(ctx, failing); !errors.Is(err, errBoom) {
		t.Fatalf("probe call: %v", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open after probe failure", b.State())
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, clock := newTestBreaker(1, 1, time.Minute)
	ctx := context.Background()

	b.Do(ctx, failing)
	*clock = clock.Add(2 * time.Minute)

	block := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			<-block
			return nil
		})
	}()

	// Give the probe a moment to claim its slot, then a second caller
	// must be rejected.
	time.Sleep(10 * time.Millisecond)
	if err := b.Do(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("second probe: got %v, want ErrOpen", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

// Package resilience provides a circuit breaker for unreliable provider
// calls. It fails fast while a dependency is known to be down instead of
// burning the pipeline's latency budget on doomed requests.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker is rejecting calls.
var ErrOpen = errors.New("resilience: circuit open")

// State of the breaker.
type State int

const (
	Closed   State = iota // normal operation
	Open                  // rejecting calls
	HalfOpen              // allowing probe calls
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Options configures a Breaker. Zero values fall back to the defaults.
type Options struct {
	// Threshold is the consecutive-failure count that trips the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is how many calls may pass while half-open.
	Probes int
}

var defaults = Options{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}

// Breaker is a closed/open/half-open circuit breaker, safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	opts     Options
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker creates a Breaker.
func NewBreaker(opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = defaults.Threshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaults.Cooldown
	}
	if opts.Probes <= 0 {
		opts.Probes = defaults.Probes
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the current state, applying the open→half-open transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick()
}

// tick advances open→half-open once the cooldown elapses. Must hold mu.
func (b *Breaker) tick() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = HalfOpen
		b.probes = 0
	}
	return b.state
}

// Do runs f unless the breaker is open. A failure while half-open, or the
// Threshold-th consecutive failure while closed, trips the breaker; a
// half-open success closes it again.
func (b *Breaker) Do(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	switch b.tick() {
	case Open:
		b.mu.Unlock()
		return ErrOpen
	case HalfOpen:
		if b.probes >= b.opts.Probes {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probes++
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.opts.Threshold {
			b.trip()
		}
		return err
	}
	if b.state == HalfOpen {
		b.state = Closed
	}
	b.failures = 0
	return nil
}

// trip opens the breaker. Must hold mu.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.failures = 0
	b.probes = 0
}

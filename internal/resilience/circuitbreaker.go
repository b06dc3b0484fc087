// Package resilience runs a capability call against an ordered list of
// providers and returns the first success.
//
// A [Chain] holds the providers of one capability in preference order.
// [Invoke] tries each provider exactly once, bounded by a per-provider
// timeout, and records every failure it meets on the way. When no provider
// succeeds the caller receives a [*FallbackError] that lists each provider
// together with the reason it failed.
//
// Each chain entry may carry a [Breaker]. An open breaker short-circuits the
// provider and its [ErrCircuitOpen] becomes that provider's failure reason.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Allow] while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the reset timeout has elapsed.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through. A failed
	// probe re-opens the breaker; enough successful probes close it.
	BreakerHalfOpen
)

// String returns the wire name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of probe calls admitted, and the number of
	// successes needed to close again. Default: 1.
	HalfOpenProbes int

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker is a three-state circuit breaker guarding one provider.
//
// Callers pair every successful [Breaker.Allow] with exactly one
// [Breaker.Record] or [Breaker.Abandon].
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewBreaker returns a closed breaker. name labels log records.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults()}
}

// Allow reports whether a call may proceed. It returns [ErrCircuitOpen] when
// the breaker is open or the half-open probe budget is used up.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.successes = 0
		slog.Info("circuit breaker half-open", "provider", b.name)
	}
	if b.state == BreakerHalfOpen {
		if b.probes >= b.cfg.HalfOpenProbes {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

// Record feeds the outcome of an admitted call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		if err != nil {
			b.trip()
			slog.Warn("circuit breaker re-opened", "provider", b.name, "err", err)
			return
		}
		b.successes++
		if b.successes >= b.cfg.HalfOpenProbes {
			b.state = BreakerClosed
			b.failures = 0
			slog.Info("circuit breaker closed", "provider", b.name)
		}
	case BreakerClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
			slog.Warn("circuit breaker opened", "provider", b.name, "consecutive_failures", b.failures)
		}
	}
}

// Abandon returns an admitted call without an outcome, for calls cut short
// by the caller. A half-open probe slot is handed back.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen && b.probes > 0 {
		b.probes--
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.cfg.Now()
	b.probes = 0
	b.successes = 0
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [BreakerHalfOpen]; the transition itself happens on the
// next Allow.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probes = 0
	b.successes = 0
}

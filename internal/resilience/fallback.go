package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/inchoate/argument-clinic/internal/resilience"

// ErrAllFailed matches every [*FallbackError] via errors.Is.
var ErrAllFailed = errors.New("all providers failed")

// Capability tags the kind of work a chain performs.
type Capability string

const (
	CapabilityTranscribe Capability = "transcribe"
	CapabilitySynthesize Capability = "synthesize"
)

// DefaultProviderTimeout bounds a single provider attempt when
// [Config.ProviderTimeout] is zero.
const DefaultProviderTimeout = 10 * time.Second

// Attempt is the outcome of one provider call.
type Attempt struct {
	Provider string
	Err      error
	Duration time.Duration
}

// FallbackError is returned by [Invoke] when no provider in the chain
// succeeded. Attempts lists every provider in chain order.
type FallbackError struct {
	Capability Capability
	Attempts   []Attempt
}

// Error implements error.
func (e *FallbackError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("resilience: no %s providers configured", e.Capability)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Provider+": "+a.Err.Error())
	}
	return fmt.Sprintf("resilience: all %s providers failed: %s", e.Capability, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrAllFailed) hold.
func (e *FallbackError) Is(target error) bool { return target == ErrAllFailed }

// Unwrap exposes the individual provider errors.
func (e *FallbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Observer receives one callback per provider attempt. observe.Metrics
// implements it.
type Observer interface {
	ObserveProvider(ctx context.Context, capability, provider string, elapsed time.Duration, err error)
}

// Config configures a [Chain].
type Config struct {
	// ProviderTimeout bounds each attempt. Default: [DefaultProviderTimeout].
	ProviderTimeout time.Duration

	// Breaker, when non-nil, gives every provider its own [Breaker].
	Breaker *BreakerConfig

	// Observer, when non-nil, is notified of every attempt.
	Observer Observer
}

type entry[T any] struct {
	name     string
	provider T
	breaker  *Breaker
}

// Chain is an ordered list of providers for one capability. Providers are
// added during start-up; the chain is read-only afterwards.
type Chain[T any] struct {
	capability Capability
	cfg        Config
	entries    []entry[T]
}

// NewChain returns an empty chain for capability.
func NewChain[T any](capability Capability, cfg Config) *Chain[T] {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	return &Chain[T]{capability: capability, cfg: cfg}
}

// Add appends a provider. Providers are tried in the order they are added.
func (c *Chain[T]) Add(name string, provider T) {
	e := entry[T]{name: name, provider: provider}
	if c.cfg.Breaker != nil {
		e.breaker = NewBreaker(string(c.capability)+"/"+name, *c.cfg.Breaker)
	}
	c.entries = append(c.entries, e)
}

// Capability returns the chain's capability tag.
func (c *Chain[T]) Capability() Capability { return c.capability }

// Len returns the number of providers.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Names returns provider names in preference order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Primary returns the first provider, if any.
func (c *Chain[T]) Primary() (T, bool) {
	if len(c.entries) == 0 {
		var zero T
		return zero, false
	}
	return c.entries[0].provider, true
}

// BreakerState returns the breaker state of the named provider. Providers
// without a breaker report [BreakerClosed].
func (c *Chain[T]) BreakerState(name string) BreakerState {
	for _, e := range c.entries {
		if e.name == name && e.breaker != nil {
			return e.breaker.State()
		}
	}
	return BreakerClosed
}

// Result is a successful [Invoke] outcome.
type Result[R any] struct {
	Value R

	// Provider is the name of the provider that produced Value.
	Provider string

	// Failures holds the attempts that failed before Provider succeeded.
	Failures []Attempt
}

// Invoke calls fn against each provider of c in order and returns the first
// success. Each provider is attempted once with its own timeout. If ctx is
// cancelled part-way, the providers that were not reached are recorded with
// ctx's error.
//
// The returned error is always a [*FallbackError].
func Invoke[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (Result[R], error) {
	var failures []Attempt

	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			failures = append(failures, Attempt{Provider: e.name, Err: err})
			continue
		}

		start := time.Now()
		value, err := attempt(ctx, c, e, fn)
		elapsed := time.Since(start)

		if c.cfg.Observer != nil {
			c.cfg.Observer.ObserveProvider(ctx, string(c.capability), e.name, elapsed, err)
		}
		if err == nil {
			return Result[R]{Value: value, Provider: e.name, Failures: failures}, nil
		}

		failures = append(failures, Attempt{Provider: e.name, Err: err, Duration: elapsed})
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "capability", c.capability, "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "capability", c.capability, "provider", e.name, "err", err)
		}
	}

	return Result[R]{}, &FallbackError{Capability: c.capability, Attempts: failures}
}

func attempt[T, R any](ctx context.Context, c *Chain[T], e entry[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return zero, err
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "provider."+string(c.capability),
		trace.WithAttributes(attribute.String("provider", e.name)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	value, err := fn(callCtx, e.provider)
	switch {
	case err != nil && ctx.Err() != nil:
		// The caller gave up; the provider is not to blame.
		if e.breaker != nil {
			e.breaker.Abandon()
		}
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("timed out after %s: %w", c.cfg.ProviderTimeout, err)
		fallthrough
	default:
		if e.breaker != nil {
			e.breaker.Record(err)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	return value, nil
}

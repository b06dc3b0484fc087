package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/inchoate/argument-clinic/internal/resilience"
)

// SessionCounter reports how full the session table is.
type SessionCounter interface {
	Count() int
	MaxConcurrent() int
}

// CapacityCheck fails while the session table is full. A zero limit never
// fails.
func CapacityCheck(sessions SessionCounter) Checker {
	return Checker{
		Name: "sessions",
		Check: func(context.Context) error {
			limit := sessions.MaxConcurrent()
			if n := sessions.Count(); limit > 0 && n >= limit {
				return fmt.Errorf("at capacity (%d/%d)", n, limit)
			}
			return nil
		},
	}
}

// BreakerReporter exposes the provider names of a fallback chain and the
// state of their circuit breakers.
type BreakerReporter interface {
	Names() []string
	BreakerState(name string) resilience.BreakerState
}

// ChainCheck fails when the chain has no providers or every provider's
// breaker is open.
func ChainCheck(name string, chain BreakerReporter) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			names := chain.Names()
			if len(names) == 0 {
				return errors.New("no providers configured")
			}
			var open []string
			for _, n := range names {
				if chain.BreakerState(n) == resilience.BreakerOpen {
					open = append(open, n)
				}
			}
			if len(open) == len(names) {
				return fmt.Errorf("all circuit breakers open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}

// Pinger is a dependency that can be probed, such as a database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p.Ping fails.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

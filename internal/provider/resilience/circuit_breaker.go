// Package resilience wraps upstream provider calls (station feeds, weather,
// fire counts, the model service) in a circuit breaker with retries, and
// tracks each provider's health for the ops endpoint.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Breaker defaults.
const (
	DefaultTripAfter    = 5
	DefaultTripRatio    = 0.5
	DefaultBreakerSleep = 60 * time.Second
)

// CircuitBreakerConfig holds configuration for a provider's circuit breaker.
type CircuitBreakerConfig struct {
	// Name is the provider name the breaker reports under.
	Name string

	// MaxRequests is how many trial calls pass while half-open (default: 1).
	MaxRequests uint32

	// Interval clears the closed-state counts periodically; 0 never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open (default: 60s).
	Timeout time.Duration

	// ReadyToTrip decides when to open. Defaults to DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called on every transition, after the transition is
	// logged.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)

	// Logger receives a warning when the breaker opens and info otherwise.
	Logger zerolog.Logger
}

// DefaultCircuitBreakerConfig returns the breaker used for every provider
// unless a client overrides it.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     DefaultBreakerSleep,
		ReadyToTrip: DefaultReadyToTrip,
		Logger:      zerolog.Nop(),
	}
}

// DefaultReadyToTrip opens the breaker once DefaultTripAfter calls have been
// made and at least half of them failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < DefaultTripAfter {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= DefaultTripRatio
}

// countsAsSuccess keeps caller cancellation from counting against a
// provider. A snapshot fan-out that gives up early says nothing about the
// upstream.
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// NewCircuitBreaker creates a circuit breaker from cfg, filling defaults.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerSleep
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}

	log := cfg.Logger
	notify := cfg.OnStateChange
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		ReadyToTrip:  cfg.ReadyToTrip,
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			ev := log.Info()
			if to == gobreaker.StateOpen {
				ev = log.Warn()
			}
			ev.Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit changed state")
			if notify != nil {
				notify(name, from, to)
			}
		},
	})
}

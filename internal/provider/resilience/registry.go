package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Failure reasons reported in ProviderHealth.Failures. HTTP statuses are
// reported as "status_<code>".
const (
	FailureCircuitOpen = "circuit_open"
	FailureTimeout     = "timeout"
	FailureCanceled    = "canceled"
	FailureTransport   = "transport"
)

// FailureReason classifies a failed provider call.
func FailureReason(err error) string {
	var (
		se  *ServerError
		ste *StatusError
		ne  net.Error
	)
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return FailureCircuitOpen
	case errors.As(err, &se):
		return fmt.Sprintf("status_%d", se.StatusCode)
	case errors.As(err, &ste):
		return fmt.Sprintf("status_%d", ste.StatusCode)
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.As(err, &ne) && ne.Timeout():
		return FailureTimeout
	default:
		return FailureTransport
	}
}

// ProviderHealth is a point-in-time view of one upstream provider.
type ProviderHealth struct {
	Name   string
	State  gobreaker.State
	Counts gobreaker.Counts

	LastSuccessAt *time.Time
	LastFailureAt *time.Time

	// OpenedAt is when the breaker last opened, nil if it never has.
	OpenedAt *time.Time

	LastError string

	// Failures counts failed calls by reason since startup.
	Failures map[string]int
}

// Open reports whether calls to the provider are being rejected.
func (h ProviderHealth) Open() bool {
	return h.State == gobreaker.StateOpen
}

// HalfOpen reports whether the breaker is letting trial calls through.
func (h ProviderHealth) HalfOpen() bool {
	return h.State == gobreaker.StateHalfOpen
}

// RegistryConfig holds configuration for a Registry.
type RegistryConfig struct {
	// Logger receives circuit breaker transitions of registered clients.
	Logger zerolog.Logger

	// Clock stamps successes, failures and transitions.
	Clock clockwork.Clock
}

// Registry tracks the health of every provider client created with it.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	logger    zerolog.Logger
	clock     clockwork.Clock
}

type providerState struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	openedAt      *time.Time
	lastError     string
	failures      map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Registry{
		providers: make(map[string]*providerState),
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}
}

// Register tracks client under name, replacing any earlier client.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &providerState{client: client, failures: map[string]int{}}
}

// RecordSuccess stamps a successful call.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.clock.Now()
		p.lastSuccessAt = &now
	}
}

// RecordFailure stamps a failed call and counts it under its reason.
func (r *Registry) RecordFailure(name string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.clock.Now()
		p.lastFailureAt = &now
		p.lastError = err.Error()
		p.failures[FailureReason(err)]++
	}
}

// recordTransition stamps the breaker opening. It may be called before the
// client is registered, in which case it is ignored.
func (r *Registry) recordTransition(name string, to gobreaker.State) {
	if to != gobreaker.StateOpen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.clock.Now()
		p.openedAt = &now
	}
}

// Health returns the health of one provider.
func (r *Registry) Health(name string) (ProviderHealth, bool) {
	r.mu.RLock()
	p, ok := r.providers[name]
	var h ProviderHealth
	if ok {
		h = p.record(name)
	}
	r.mu.RUnlock()
	if !ok {
		return ProviderHealth{}, false
	}
	return withBreaker(h, p.client), true
}

// All returns the health of every provider, sorted by name.
func (r *Registry) All() []ProviderHealth {
	r.mu.RLock()
	out := make([]ProviderHealth, 0, len(r.providers))
	clients := make(map[string]*Client, len(r.providers))
	for name, p := range r.providers {
		out = append(out, p.record(name))
		clients[name] = p.client
	}
	r.mu.RUnlock()

	// Breaker state is read without holding r.mu: the breaker calls back
	// into recordTransition while holding its own lock.
	for i := range out {
		out[i] = withBreaker(out[i], clients[out[i].Name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// record copies the tracked fields. The caller holds r.mu.
func (p *providerState) record(name string) ProviderHealth {
	failures := make(map[string]int, len(p.failures))
	for k, v := range p.failures {
		failures[k] = v
	}
	return ProviderHealth{
		Name:          name,
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		OpenedAt:      p.openedAt,
		LastError:     p.lastError,
		Failures:      failures,
	}
}

func withBreaker(h ProviderHealth, c *Client) ProviderHealth {
	h.State = c.CircuitBreakerState()
	h.Counts = c.CircuitBreakerCounts()
	return h
}

package resilience

import (
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// CircuitBreakerRegistry lazily creates one breaker per provider name, all
// sharing one configuration.
type CircuitBreakerRegistry struct {
	cfg    CircuitBreakerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// RegistryOption configures a CircuitBreakerRegistry.
type RegistryOption func(*CircuitBreakerRegistry)

// WithRegistryLogger logs every circuit transition.
func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(r *CircuitBreakerRegistry) {
		r.logger = logger.With().Str("component", "circuit").Logger()
	}
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(cfg CircuitBreakerConfig, opts ...RegistryOption) *CircuitBreakerRegistry {
	r := &CircuitBreakerRegistry{
		cfg:      cfg,
		logger:   zerolog.Nop(),
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.cfg)
		cb.onChange = r.logTransition
		r.breakers[name] = cb
	}
	return cb
}

func (r *CircuitBreakerRegistry) logTransition(name string, from, to CircuitState) {
	event := r.logger.Info()
	if to == CircuitOpen {
		event = r.logger.Warn()
	}
	event.
		Str("provider", name).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Circuit state changed")
}

// AllStats returns statistics for every breaker, sorted by name.
func (r *CircuitBreakerRegistry) AllStats() []CircuitBreakerStats {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	stats := make([]CircuitBreakerStats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.Stats())
	}
	slices.SortFunc(stats, func(a, b CircuitBreakerStats) int { return strings.Compare(a.Name, b.Name) })
	return stats
}

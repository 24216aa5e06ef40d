package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN" // not running, excluded from the overall status
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency"`
}

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the result of one round of checks.
type SystemHealth struct {
	Status          HealthStatus      `json:"status"`
	Uptime          time.Duration     `json:"uptime"`
	Components      []ComponentHealth `json:"components"`
	TotalChecks     int64             `json:"total_checks"`
	FailedChecks    int64             `json:"failed_checks"`
	PanicRecoveries int64             `json:"panic_recoveries"`
}

// Component returns the named component's health.
func (h SystemHealth) Component(name string) (ComponentHealth, bool) {
	for _, c := range h.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentHealth{}, false
}

// HealthMonitor runs registered checks on demand or on an interval and
// logs status transitions.
type HealthMonitor struct {
	mu sync.RWMutex

	timeout   time.Duration
	logger    zerolog.Logger
	startTime time.Time

	checks map[string]HealthCheck
	last   map[string]ComponentHealth

	totalChecks     int64
	failedChecks    int64
	panicRecoveries int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor creates a monitor whose checks are bounded by timeout.
func NewHealthMonitor(timeout time.Duration, logger zerolog.Logger) *HealthMonitor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthMonitor{
		timeout:   timeout,
		logger:    logger.With().Str("component", "health").Logger(),
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
		last:      make(map[string]ComponentHealth),
	}
}

// Register adds or replaces a component check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check concurrently and records the results.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.run(ctx, name, check)
		}()
	}
	wg.Wait()
	close(results)

	m.mu.Lock()
	m.totalChecks++
	for h := range results {
		prev, seen := m.last[h.Name]
		m.last[h.Name] = h
		if h.Status == HealthStatusUnhealthy {
			m.failedChecks++
		}
		if !seen || prev.Status != h.Status {
			m.logTransition(prev.Status, h)
		}
	}
	m.mu.Unlock()

	return m.Health()
}

func (m *HealthMonitor) run(ctx context.Context, name string, check HealthCheck) (health ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.panicRecoveries++
			m.mu.Unlock()
			health = ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("check panicked: %v", r),
			}
		}
		health.Name = name
		health.LastCheck = time.Now()
		if health.Latency == 0 {
			health.Latency = time.Since(start)
		}
	}()
	return check(ctx)
}

func (m *HealthMonitor) logTransition(from HealthStatus, h ComponentHealth) {
	var event *zerolog.Event
	switch h.Status {
	case HealthStatusUnhealthy:
		event = m.logger.Error()
	case HealthStatusDegraded:
		event = m.logger.Warn()
	default:
		event = m.logger.Info()
	}
	event.
		Str("check", h.Name).
		Str("from", string(from)).
		Str("to", string(h.Status)).
		Msg(h.Message)
}

// Health returns the results of the most recent round.
func (m *HealthMonitor) Health() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make([]ComponentHealth, 0, len(m.last))
	status := HealthStatusHealthy
	for _, h := range m.last {
		components = append(components, h)
		switch h.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if status != HealthStatusUnhealthy {
				status = HealthStatusDegraded
			}
		}
	}
	if len(components) == 0 {
		status = HealthStatusUnknown
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return SystemHealth{
		Status:          status,
		Uptime:          time.Since(m.startTime),
		Components:      components,
		TotalChecks:     m.totalChecks,
		FailedChecks:    m.failedChecks,
		PanicRecoveries: m.panicRecoveries,
	}
}

// Start runs checks immediately and then every interval until Stop.
func (m *HealthMonitor) Start(interval time.Duration) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop halts the check loop. It is safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// StreamHealthCheck reports the live stream. A stopped stream is UNKNOWN; a
// running one that is not connected is UNHEALTHY; a connected one with no
// frames for staleAfter is DEGRADED.
func StreamHealthCheck(running, connected func() bool, lastMessage func() time.Time, staleAfter time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		switch {
		case !running():
			return ComponentHealth{Status: HealthStatusUnknown, Message: "Stream not running"}
		case !connected():
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "Stream disconnected"}
		}

		last := lastMessage()
		if last.IsZero() {
			return ComponentHealth{Status: HealthStatusHealthy, Message: "Stream connected, awaiting data"}
		}
		if idle := time.Since(last); idle > staleAfter {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("No messages for %v", idle.Round(time.Second)),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "Stream connected and receiving data"}
	}
}

// DatabaseHealthCheck pings the database. Pings slower than slow degrade.
func DatabaseHealthCheck(ping func(ctx context.Context) error, slow time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start)

		switch {
		case err != nil:
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Database ping failed: %v", err),
				Latency: latency,
			}
		case latency > slow:
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("Database slow: %v", latency),
				Latency: latency,
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "Database reachable", Latency: latency}
	}
}

// ProvidersHealthCheck degrades while any provider circuit is not closed.
func ProvidersHealthCheck(registry *CircuitBreakerRegistry) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		var tripped []string
		for _, s := range registry.AllStats() {
			if s.State != CircuitClosed {
				tripped = append(tripped, fmt.Sprintf("%s=%s", s.Name, s.State))
			}
		}
		if len(tripped) > 0 {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("Provider circuits tripped: %v", tripped),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "All provider circuits closed"}
	}
}

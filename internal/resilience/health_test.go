package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCheck(status HealthStatus) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: status, Message: string(status)}
	}
}

func TestHealthMonitor_WorstStatusWins(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthStatus
		want   HealthStatus
	}{
		{"no checks", nil, HealthStatusUnknown},
		{"all healthy", map[string]HealthStatus{"a": HealthStatusHealthy, "b": HealthStatusHealthy}, HealthStatusHealthy},
		{"unknown ignored", map[string]HealthStatus{"a": HealthStatusHealthy, "b": HealthStatusUnknown}, HealthStatusHealthy},
		{"degraded", map[string]HealthStatus{"a": HealthStatusHealthy, "b": HealthStatusDegraded}, HealthStatusDegraded},
		{"unhealthy beats degraded", map[string]HealthStatus{"a": HealthStatusUnhealthy, "b": HealthStatusDegraded}, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewHealthMonitor(time.Second, zerolog.Nop())
			for name, status := range tt.checks {
				m.Register(name, staticCheck(status))
			}

			got := m.Check(context.Background())

			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.Components, len(tt.checks))
		})
	}
}

func TestHealthMonitor_RecoversPanickingCheck(t *testing.T) {
	m := NewHealthMonitor(time.Second, zerolog.Nop())
	m.Register("bad", func(ctx context.Context) ComponentHealth { panic("boom") })
	m.Register("good", staticCheck(HealthStatusHealthy))

	got := m.Check(context.Background())

	bad, ok := got.Component("bad")
	require.True(t, ok)
	assert.Equal(t, HealthStatusUnhealthy, bad.Status)
	assert.Contains(t, bad.Message, "boom")
	assert.Equal(t, int64(1), got.PanicRecoveries)
	assert.Equal(t, int64(1), got.FailedChecks)
}

func TestHealthMonitor_StartStop(t *testing.T) {
	m := NewHealthMonitor(time.Second, zerolog.Nop())
	m.Register("a", staticCheck(HealthStatusHealthy))

	m.Start(5 * time.Millisecond)
	m.Start(5 * time.Millisecond)
	require.Eventually(t, func() bool {
		return m.Health().TotalChecks >= 2
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	after := m.Health().TotalChecks
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, m.Health().TotalChecks)
}

func TestStreamHealthCheck(t *testing.T) {
	yes := func() bool { return true }
	no := func() bool { return false }
	at := func(ts time.Time) func() time.Time { return func() time.Time { return ts } }

	tests := []struct {
		name      string
		running   func() bool
		connected func() bool
		last      func() time.Time
		want      HealthStatus
	}{
		{"stopped", no, no, at(time.Time{}), HealthStatusUnknown},
		{"disconnected", yes, no, at(time.Now()), HealthStatusUnhealthy},
		{"awaiting data", yes, yes, at(time.Time{}), HealthStatusHealthy},
		{"receiving", yes, yes, at(time.Now()), HealthStatusHealthy},
		{"silent", yes, yes, at(time.Now().Add(-time.Hour)), HealthStatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := StreamHealthCheck(tt.running, tt.connected, tt.last, time.Minute)
			assert.Equal(t, tt.want, check(context.Background()).Status)
		})
	}
}

func TestDatabaseHealthCheck(t *testing.T) {
	ok := DatabaseHealthCheck(func(ctx context.Context) error { return nil }, time.Second)
	assert.Equal(t, HealthStatusHealthy, ok(context.Background()).Status)

	failing := DatabaseHealthCheck(func(ctx context.Context) error { return errBoom }, time.Second)
	got := failing(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, got.Status)
	assert.Contains(t, got.Message, "boom")

	slow := DatabaseHealthCheck(func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}, time.Millisecond)
	assert.Equal(t, HealthStatusDegraded, slow(context.Background()).Status)
}

func TestProvidersHealthCheck(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	check := ProvidersHealthCheck(registry)

	_ = registry.Get("coingecko").Execute(func() error { return nil })
	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	_ = registry.Get("binance").Execute(func() error { return errBoom })
	got := check(context.Background())
	assert.Equal(t, HealthStatusDegraded, got.Status)
	assert.Contains(t, got.Message, "binance=OPEN")
}

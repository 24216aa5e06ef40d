// Package alert manages user price alerts and evaluates them against
// inbound prices.
//
// A fired alert is marked triggered with a single conditional update before
// the owner is notified, so an alert is delivered at most once even when
// prices for the same symbol are evaluated concurrently. Delivery is best
// effort and never retried.
package alert

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"marketpulse/internal/errors"
	"marketpulse/internal/logging"
	"marketpulse/internal/models"
	"marketpulse/internal/notify"
	"marketpulse/internal/store"
)

// DefaultRetention is how long triggered alerts are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Deliverer sends a triggered-alert notification to its owner.
//
//go:generate mockgen -package=alert -destination=mock_deliverer_test.go -source=service.go Deliverer
type Deliverer interface {
	Deliver(ctx context.Context, n notify.Notification) error
}

// Service creates, lists, removes and evaluates alerts.
type Service struct {
	store     store.AlertStore
	deliverer Deliverer
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetention sets how long triggered alerts are kept before Sweep
// deletes them.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logging.WithComponent(logger, "alerts")
	}
}

// NewService creates an alert service.
func NewService(st store.AlertStore, deliverer Deliverer, opts ...Option) *Service {
	s := &Service{
		store:     st,
		deliverer: deliverer,
		retention: DefaultRetention,
		logger:    zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAlert validates and stores a new armed alert.
func (s *Service) CreateAlert(ctx context.Context, ownerID, symbol string, condition models.Condition, target float64) (*models.Alert, error) {
	sym := models.NormalizeSymbol(symbol)
	switch {
	case ownerID == "":
		return nil, errors.NewValidationError("owner", ownerID, "owner is required")
	case sym == "":
		return nil, errors.NewValidationError("symbol", symbol, "symbol is required")
	case condition != models.ConditionAbove && condition != models.ConditionBelow:
		return nil, errors.NewValidationError("condition", condition, "must be above or below")
	case math.IsNaN(target) || math.IsInf(target, 0) || target <= 0:
		return nil, errors.NewValidationError("target_price", target, "must be a positive number")
	}

	now := s.now()
	a := &models.Alert{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Symbol:      sym,
		Condition:   condition,
		TargetPrice: target,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, errors.Wrap(err, "create alert")
	}

	s.logger.Info().
		Str("alert_id", a.ID).
		Str("owner", ownerID).
		Str("symbol", sym).
		Str("condition", string(condition)).
		Float64("target", target).
		Msg("Alert created")
	return a, nil
}

// ListActiveAlerts returns the owner's armed alerts, newest first.
func (s *Service) ListActiveAlerts(ctx context.Context, ownerID string) ([]models.Alert, error) {
	alerts, err := s.store.ListActiveAlerts(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	return alerts, nil
}

// RemoveAlert deletes the owner's alert, addressed by full id or by the
// short id shown to users. It reports false when nothing matched.
func (s *Service) RemoveAlert(ctx context.Context, ownerID, alertID string) (bool, error) {
	removed, err := s.store.RemoveAlert(ctx, ownerID, alertID)
	if err != nil {
		return false, errors.Wrap(err, "remove alert")
	}
	if removed {
		s.logger.Info().Str("owner", ownerID).Str("alert_id", alertID).Msg("Alert removed")
	}
	return removed, nil
}

// ActiveCount returns the number of armed alerts across all owners.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	return s.store.CountActiveAlerts(ctx)
}

// Evaluate fires every armed alert for symbol that price satisfies.
// Failures are logged; nothing is returned to the ingestion path.
func (s *Service) Evaluate(ctx context.Context, symbol string, price float64) {
	if _, err := s.Check(ctx, symbol, price); err != nil {
		logger := logging.WithSymbol(s.logger, symbol)
		logger.Error().Err(err).Msg("Alert evaluation failed")
	}
}

// Check is Evaluate returning how many alerts fired. A store failure on one
// alert does not stop the others from being evaluated; all such failures are
// returned joined.
func (s *Service) Check(ctx context.Context, symbol string, price float64) (int, error) {
	sym := models.NormalizeSymbol(symbol)
	alerts, err := s.store.ListArmedAlerts(ctx, sym)
	if err != nil {
		return 0, errors.Wrap(err, "load armed alerts")
	}

	fired := 0
	var errs []error
	for i := range alerts {
		a := &alerts[i]
		if !a.Condition.Crossed(price, a.TargetPrice) {
			continue
		}

		at := s.now()
		won, err := s.store.MarkTriggered(ctx, a.ID, at)
		if err != nil {
			s.logger.Warn().Err(err).Str("alert_id", a.ID).Str("symbol", sym).Msg("Failed to mark alert triggered")
			errs = append(errs, errors.Wrapf(err, "mark alert %s", a.ID))
			continue
		}
		if !won {
			// Another evaluation already fired it.
			continue
		}
		fired++

		logging.LogAlert(s.logger, a.ID, a.Symbol, string(a.Condition), a.TargetPrice, price)
		s.deliver(ctx, notify.NewNotification(a, price, at))
	}
	return fired, errors.Join(errs...)
}

func (s *Service) deliver(ctx context.Context, n notify.Notification) {
	if s.deliverer == nil {
		return
	}
	if err := s.deliverer.Deliver(ctx, n); err != nil {
		s.logger.Warn().
			Err(err).
			Str("alert_id", n.AlertID).
			Str("owner", n.OwnerID).
			Msg("Alert delivery failed")
	}
}

// Sweep deletes triggered alerts older than the retention period.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.DeleteTriggeredBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "sweep triggered alerts")
	}
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Swept triggered alerts")
	return n, nil
}

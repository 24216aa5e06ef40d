// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"marketpulse/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	MarketDataStore
	AlertStore

	Ping(ctx context.Context) error
	Close() error
}

// MarketDataStore persists the latest snapshot per symbol and the
// append-only price history.
type MarketDataStore interface {
	// GetSnapshot returns the cached snapshot, or ErrNotFound.
	GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error)
	// PutSnapshot stores snap unless an equal-or-newer observation is
	// already cached. An accepted put appends one history record.
	PutSnapshot(ctx context.Context, snap models.Snapshot) (bool, error)
	GetHistory(ctx context.Context, symbol string, since time.Time) ([]models.HistoryPoint, error)
}

// AlertStore persists user alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	// ListArmedAlerts returns active, untriggered alerts for a symbol.
	ListArmedAlerts(ctx context.Context, symbol string) ([]models.Alert, error)
	ListActiveAlerts(ctx context.Context, ownerID string) ([]models.Alert, error)
	// MarkTriggered flips an armed alert to triggered. It reports false when
	// the alert was already triggered or is inactive.
	MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error)
	// RemoveAlert deletes an owner's alert by full id or short id suffix.
	RemoveAlert(ctx context.Context, ownerID, idOrSuffix string) (bool, error)
	CountActiveAlerts(ctx context.Context) (int, error)
	DeleteTriggeredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

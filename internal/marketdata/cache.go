// Package marketdata holds the shared snapshot cache and the aggregator
// that fills it from upstream sources.
package marketdata

import (
	"context"
	"time"

	"marketpulse/internal/errors"
	"marketpulse/internal/models"
	"marketpulse/internal/store"
)

// Cache is the single point of access to cached snapshots. Writes are
// ordered per symbol by observedAt.
type Cache struct {
	store store.MarketDataStore
	now   func() time.Time
}

// NewCache creates a cache over a snapshot store.
func NewCache(s store.MarketDataStore) *Cache {
	return &Cache{store: s, now: time.Now}
}

// Get returns the cached snapshot, or nil if the symbol was never populated.
func (c *Cache) Get(ctx context.Context, symbol string) (*models.Snapshot, error) {
	snap, err := c.store.GetSnapshot(ctx, models.NormalizeSymbol(symbol))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Put stores snap if it is strictly newer than the cached snapshot.
// It reports whether the snapshot was accepted.
func (c *Cache) Put(ctx context.Context, snap models.Snapshot) (bool, error) {
	snap.Symbol = models.NormalizeSymbol(snap.Symbol)
	return c.store.PutSnapshot(ctx, snap)
}

// IsFresh reports whether the cached snapshot is younger than maxAge.
func (c *Cache) IsFresh(ctx context.Context, symbol string, maxAge time.Duration) bool {
	snap, err := c.Get(ctx, symbol)
	if err != nil || snap == nil {
		return false
	}
	return snap.Age(c.now()) < maxAge
}

// History returns the last days of price history, oldest first.
func (c *Cache) History(ctx context.Context, symbol string, days int) ([]models.HistoryPoint, error) {
	if days < 1 {
		days = 1
	}
	since := c.now().Add(-time.Duration(days) * 24 * time.Hour)
	return c.store.GetHistory(ctx, models.NormalizeSymbol(symbol), since)
}

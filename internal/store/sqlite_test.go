package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketpulse/internal/errors"
	"marketpulse/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newAlert(id, owner, symbol string, created time.Time) *models.Alert {
	return &models.Alert{
		ID:          id,
		OwnerID:     owner,
		Symbol:      symbol,
		Condition:   models.ConditionAbove,
		TargetPrice: 50000,
		IsActive:    true,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestGetSnapshot_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSnapshot(context.Background(), "BTC")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPutSnapshot_RejectsOlderAndEqual(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.PutSnapshot(ctx, models.Snapshot{
		Symbol: "BTC", Price: 50000, AssetType: models.AssetCrypto, Source: "stream",
		MarketCap: models.Float64Ptr(1e12), ObservedAt: t0,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// slow REST response observed earlier
	ok, err = s.PutSnapshot(ctx, models.Snapshot{Symbol: "BTC", Price: 49000, AssetType: models.AssetCrypto, ObservedAt: t0.Add(-2 * time.Second)})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.PutSnapshot(ctx, models.Snapshot{Symbol: "BTC", Price: 48000, AssetType: models.AssetCrypto, ObservedAt: t0})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetSnapshot(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, got.Price)
	assert.Equal(t, "stream", got.Source)
	require.NotNil(t, got.MarketCap)
	assert.Equal(t, 1e12, *got.MarketCap)
	assert.True(t, got.ObservedAt.Equal(t0))

	history, err := s.GetHistory(ctx, "BTC", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGetHistory_OrderedAndBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.PutSnapshot(ctx, models.Snapshot{
			Symbol: "ETH", Price: float64(3000 + i), Volume24h: float64(i),
			AssetType: models.AssetCrypto, ObservedAt: t0.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	history, err := s.GetHistory(ctx, "ETH", t0.Add(2*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3002.0, history[0].Price)
	assert.Equal(t, 3004.0, history[2].Price)
	assert.True(t, history[0].Timestamp.Before(history[1].Timestamp))
}

func TestMarkTriggered_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAlert(ctx, newAlert("a1", "u1", "BTC", time.Now())))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkTriggered(ctx, "a1", time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	a, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.Triggered)
	assert.NotNil(t, a.TriggeredAt)

	armed, err := s.ListArmedAlerts(ctx, "BTC")
	require.NoError(t, err)
	assert.Empty(t, armed)
}

func TestListActiveAlerts_NewestFirstPerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now()

	require.NoError(t, s.CreateAlert(ctx, newAlert("a1", "u1", "BTC", t0)))
	require.NoError(t, s.CreateAlert(ctx, newAlert("a2", "u1", "ETH", t0.Add(time.Minute))))
	require.NoError(t, s.CreateAlert(ctx, newAlert("a3", "u2", "BTC", t0)))

	alerts, err := s.ListActiveAlerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a2", alerts[0].ID)

	n, err := s.CountActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRemoveAlert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAlert(ctx, newAlert("0000-aaaa-11112222", "u1", "BTC", time.Now())))
	require.NoError(t, s.CreateAlert(ctx, newAlert("0000-bbbb-33334444", "u1", "BTC", time.Now())))

	ok, err := s.RemoveAlert(ctx, "u2", "11112222")
	require.NoError(t, err)
	assert.False(t, ok, "other owners cannot remove")

	ok, err = s.RemoveAlert(ctx, "u1", "11112222")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RemoveAlert(ctx, "u1", "0000-bbbb-33334444")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RemoveAlert(ctx, "u1", "0000-bbbb-33334444")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteTriggeredBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateAlert(ctx, newAlert("old", "u1", "BTC", now.Add(-10*24*time.Hour))))
	require.NoError(t, s.CreateAlert(ctx, newAlert("recent", "u1", "BTC", now)))
	require.NoError(t, s.CreateAlert(ctx, newAlert("armed", "u1", "BTC", now.Add(-10*24*time.Hour))))

	_, err := s.MarkTriggered(ctx, "old", now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = s.MarkTriggered(ctx, "recent", now)
	require.NoError(t, err)

	n, err := s.DeleteTriggeredBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetAlert(ctx, "old")
	assert.ErrorIs(t, err, errors.ErrAlertNotFound)
	_, err = s.GetAlert(ctx, "armed")
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

package alert

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
	"marketpulse/internal/notify"
	"marketpulse/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// countingDeliverer records deliveries and optionally fails them.
type countingDeliverer struct {
	mu    sync.Mutex
	got   []notify.Notification
	fail  bool
	calls atomic.Int32
}

func (d *countingDeliverer) Deliver(_ context.Context, n notify.Notification) error {
	d.calls.Add(1)
	d.mu.Lock()
	d.got = append(d.got, n)
	d.mu.Unlock()
	if d.fail {
		return apperrors.ErrDeliveryFailed
	}
	return nil
}

// ============================================================================
// Management
// ============================================================================

func TestCreateAlert(t *testing.T) {
	t.Parallel()

	// Arrange
	st := newTestStore(t)
	svc := NewService(st, nil, WithLogger(zerolog.Nop()))

	// Act
	a, err := svc.CreateAlert(t.Context(), "owner-1", " btc ", models.ConditionAbove, 50000)

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "BTC", a.Symbol)
	assert.True(t, a.Armed())

	stored, err := st.GetAlert(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", stored.OwnerID)
	assert.Equal(t, 50000.0, stored.TargetPrice)
}

func TestCreateAlert_Validation(t *testing.T) {
	t.Parallel()

	svc := NewService(newTestStore(t), nil)
	tests := []struct {
		name      string
		owner     string
		symbol    string
		condition models.Condition
		target    float64
	}{
		{"no owner", "", "BTC", models.ConditionAbove, 1},
		{"no symbol", "o", "  ", models.ConditionAbove, 1},
		{"bad condition", "o", "BTC", models.Condition("sideways"), 1},
		{"zero target", "o", "BTC", models.ConditionBelow, 0},
		{"negative target", "o", "BTC", models.ConditionBelow, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateAlert(context.Background(), tt.owner, tt.symbol, tt.condition, tt.target)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidAlert))
		})
	}
}

func TestListAndRemoveAlerts(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	svc := NewService(st, nil)
	ctx := t.Context()

	base := time.Now().UTC()
	clock := base
	svc.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	first, err := svc.CreateAlert(ctx, "alice", "BTC", models.ConditionAbove, 70000)
	require.NoError(t, err)
	second, err := svc.CreateAlert(ctx, "alice", "ETH", models.ConditionBelow, 2000)
	require.NoError(t, err)
	_, err = svc.CreateAlert(ctx, "bob", "BTC", models.ConditionBelow, 30000)
	require.NoError(t, err)

	alerts, err := svc.ListActiveAlerts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, second.ID, alerts[0].ID)
	assert.Equal(t, first.ID, alerts[1].ID)

	count, err := svc.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Another owner cannot remove it.
	removed, err := svc.RemoveAlert(ctx, "bob", first.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = svc.RemoveAlert(ctx, "alice", first.ShortID())
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.RemoveAlert(ctx, "alice", first.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	alerts, err = svc.ListActiveAlerts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, second.ID, alerts[0].ID)
}

// ============================================================================
// Evaluation
// ============================================================================

func TestEvaluate_BoundaryFiresBothDirections(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	d := &countingDeliverer{}
	svc := NewService(st, d)
	ctx := t.Context()

	above, err := svc.CreateAlert(ctx, "o", "BTC", models.ConditionAbove, 50000)
	require.NoError(t, err)
	below, err := svc.CreateAlert(ctx, "o", "BTC", models.ConditionBelow, 50000)
	require.NoError(t, err)

	fired, err := svc.Check(ctx, "btc", 50000)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
	assert.Equal(t, int32(2), d.calls.Load())

	for _, id := range []string{above.ID, below.ID} {
		a, err := st.GetAlert(ctx, id)
		require.NoError(t, err)
		assert.True(t, a.Triggered)
		require.NotNil(t, a.TriggeredAt)
	}
}

func TestEvaluate_NotCrossedDoesNothing(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)

	st := newTestStore(t)
	svc := NewService(st, deliverer)
	_, err := svc.CreateAlert(t.Context(), "o", "BTC", models.ConditionAbove, 50000)
	require.NoError(t, err)

	svc.Evaluate(t.Context(), "BTC", 49999.99)
	svc.Evaluate(t.Context(), "ETH", 99999)

	count, err := svc.ActiveCount(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEvaluate_DeliversNotificationOnce(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)

	st := newTestStore(t)
	svc := NewService(st, deliverer)
	a, err := svc.CreateAlert(t.Context(), "chat-7", "ETH", models.ConditionBelow, 2000)
	require.NoError(t, err)

	deliverer.EXPECT().
		Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n notify.Notification) error {
			assert.Equal(t, a.ID, n.AlertID)
			assert.Equal(t, "chat-7", n.OwnerID)
			assert.Equal(t, 1990.0, n.CurrentPrice)
			assert.Equal(t, 2000.0, n.TargetPrice)
			return nil
		}).
		Times(1)

	// Act
	svc.Evaluate(t.Context(), "ETH", 1990)
	svc.Evaluate(t.Context(), "ETH", 1980)
	svc.Evaluate(t.Context(), "ETH", 2100)
	svc.Evaluate(t.Context(), "ETH", 1900)

	// Assert
	alerts, err := svc.ListActiveAlerts(t.Context(), "chat-7")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEvaluate_DeliveryFailureKeepsTriggered(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("owner unreachable")).Times(1)

	st := newTestStore(t)
	svc := NewService(st, deliverer)
	a, err := svc.CreateAlert(t.Context(), "o", "SOL", models.ConditionAbove, 100)
	require.NoError(t, err)

	svc.Evaluate(t.Context(), "SOL", 150)
	svc.Evaluate(t.Context(), "SOL", 151)

	stored, err := st.GetAlert(t.Context(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Triggered)
}

// flakyMarkStore fails MarkTriggered for one alert id.
type flakyMarkStore struct {
	*store.SQLiteStore
	failID string
}

func (f *flakyMarkStore) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	if id == f.failID {
		return false, errors.New("database is locked")
	}
	return f.SQLiteStore.MarkTriggered(ctx, id, at)
}

func TestCheck_MarkFailureDoesNotSkipOtherAlerts(t *testing.T) {
	t.Parallel()

	// Arrange
	st := newTestStore(t)
	seed := NewService(st, nil)
	first, err := seed.CreateAlert(t.Context(), "o", "ETH", models.ConditionAbove, 3000)
	require.NoError(t, err)
	second, err := seed.CreateAlert(t.Context(), "o", "ETH", models.ConditionAbove, 3100)
	require.NoError(t, err)

	d := &countingDeliverer{}
	var logs bytes.Buffer
	svc := NewService(&flakyMarkStore{SQLiteStore: st, failID: first.ID}, d, WithLogger(zerolog.New(&logs)))

	// Act
	fired, err := svc.Check(t.Context(), "ETH", 3200)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), first.ID)
	assert.Equal(t, 1, fired)
	require.Len(t, d.got, 1)
	assert.Equal(t, second.ID, d.got[0].AlertID)

	stored, err := st.GetAlert(t.Context(), second.ID)
	require.NoError(t, err)
	assert.True(t, stored.Triggered)

	stored, err = st.GetAlert(t.Context(), first.ID)
	require.NoError(t, err)
	assert.False(t, stored.Triggered)

	// The next tick retries the alert that could not be marked.
	logs.Reset()
	svc.Evaluate(t.Context(), "ETH", 3200)
	assert.Contains(t, logs.String(), "Alert evaluation failed")
	assert.Contains(t, logs.String(), `"symbol":"ETH"`)
	assert.Len(t, d.got, 1)
}

func TestEvaluate_ConcurrentUpdatesNotifyOnce(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	d := &countingDeliverer{}
	svc := NewService(st, d)
	_, err := svc.CreateAlert(t.Context(), "o", "BTC", models.ConditionAbove, 60000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.Evaluate(context.Background(), "BTC", 60000+float64(i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), d.calls.Load())
}

// ============================================================================
// Retention
// ============================================================================

func TestSweep_DeletesOldTriggeredAlerts(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	svc := NewService(st, nil, WithRetention(24*time.Hour))
	ctx := t.Context()

	old, err := svc.CreateAlert(ctx, "o", "BTC", models.ConditionAbove, 1)
	require.NoError(t, err)
	_, err = st.MarkTriggered(ctx, old.ID, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	recent, err := svc.CreateAlert(ctx, "o", "ETH", models.ConditionAbove, 1)
	require.NoError(t, err)
	_, err = st.MarkTriggered(ctx, recent.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	armed, err := svc.CreateAlert(ctx, "o", "SOL", models.ConditionAbove, 1)
	require.NoError(t, err)

	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetAlert(ctx, old.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlertNotFound)
	_, err = st.GetAlert(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = st.GetAlert(ctx, armed.ID)
	assert.NoError(t, err)
}

func TestSweeper_RunsOnStart(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, WithRetention(time.Hour))
	ctx := context.Background()

	a, err := svc.CreateAlert(ctx, "o", "BTC", models.ConditionAbove, 1)
	require.NoError(t, err)
	_, err = st.MarkTriggered(ctx, a.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	sweeper := NewSweeper(svc, time.Hour, zerolog.Nop())
	require.NoError(t, sweeper.Start())
	require.NoError(t, sweeper.Start())
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		_, err := st.GetAlert(ctx, a.ID)
		return errors.Is(err, apperrors.ErrAlertNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}

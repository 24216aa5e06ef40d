// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
// Timestamps are stored as unix nanoseconds so comparisons are numeric.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Latest snapshot per symbol, overwritten in place
	CREATE TABLE IF NOT EXISTS market_data (
		symbol TEXT PRIMARY KEY,
		name TEXT,
		price REAL NOT NULL,
		change_24h REAL NOT NULL,
		change_percent_24h REAL NOT NULL,
		high_24h REAL NOT NULL,
		low_24h REAL NOT NULL,
		volume_24h REAL NOT NULL,
		market_cap REAL,
		asset_type TEXT NOT NULL,
		source TEXT,
		observed_at INTEGER NOT NULL
	);

	-- Append-only price history
	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		volume REAL NOT NULL,
		timestamp INTEGER NOT NULL
	);

	-- Alerts table
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		condition TEXT NOT NULL,
		target_price REAL NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		triggered INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		triggered_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_price_history_symbol_ts ON price_history(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_alerts_symbol_state ON alerts(symbol, is_active, triggered);
	CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Market Data Methods
// ============================================================================

// GetSnapshot retrieves the cached snapshot for a symbol.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	var (
		snap       models.Snapshot
		name       sql.NullString
		source     sql.NullString
		marketCap  sql.NullFloat64
		assetType  string
		observedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, name, price, change_24h, change_percent_24h, high_24h, low_24h,
			volume_24h, market_cap, asset_type, source, observed_at
		FROM market_data WHERE symbol = ?
	`, symbol).Scan(&snap.Symbol, &name, &snap.Price, &snap.Change24h, &snap.ChangePercent24h,
		&snap.High24h, &snap.Low24h, &snap.Volume24h, &marketCap, &assetType, &source, &observedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.Name = name.String
	snap.Source = source.String
	snap.AssetType = models.AssetType(assetType)
	snap.ObservedAt = fromNanos(observedAt)
	if marketCap.Valid {
		snap.MarketCap = models.Float64Ptr(marketCap.Float64)
	}
	return &snap, nil
}

// PutSnapshot upserts a snapshot if it is strictly newer than the cached one
// and appends a history record in the same transaction.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, snap models.Snapshot) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var marketCap interface{}
	if snap.MarketCap != nil {
		marketCap = *snap.MarketCap
	}
	observedAt := snap.ObservedAt.UnixNano()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO market_data (symbol, name, price, change_24h, change_percent_24h, high_24h,
			low_24h, volume_24h, market_cap, asset_type, source, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			change_24h = excluded.change_24h,
			change_percent_24h = excluded.change_percent_24h,
			high_24h = excluded.high_24h,
			low_24h = excluded.low_24h,
			volume_24h = excluded.volume_24h,
			market_cap = excluded.market_cap,
			asset_type = excluded.asset_type,
			source = excluded.source,
			observed_at = excluded.observed_at
		WHERE excluded.observed_at > market_data.observed_at
	`, snap.Symbol, snap.Name, snap.Price, snap.Change24h, snap.ChangePercent24h, snap.High24h,
		snap.Low24h, snap.Volume24h, marketCap, string(snap.AssetType), snap.Source, observedAt)
	if err != nil {
		return false, fmt.Errorf("failed to save snapshot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO price_history (symbol, price, volume, timestamp) VALUES (?, ?, ?, ?)
	`, snap.Symbol, snap.Price, snap.Volume24h, observedAt); err != nil {
		return false, fmt.Errorf("failed to append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return true, nil
}

// GetHistory retrieves history records at or after since, oldest first.
func (s *SQLiteStore) GetHistory(ctx context.Context, symbol string, since time.Time) ([]models.HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, price, volume, timestamp
		FROM price_history
		WHERE symbol = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, symbol, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var points []models.HistoryPoint
	for rows.Next() {
		var p models.HistoryPoint
		var ts int64
		if err := rows.Scan(&p.Symbol, &p.Price, &p.Volume, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		p.Timestamp = fromNanos(ts)
		points = append(points, p)
	}

	return points, rows.Err()
}

// ============================================================================
// Alerts Methods
// ============================================================================

const alertColumns = `id, owner_id, symbol, condition, target_price, is_active, triggered,
	created_at, updated_at, triggered_at`

// CreateAlert inserts a new alert.
func (s *SQLiteStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	var triggeredAt interface{}
	if alert.TriggeredAt != nil {
		triggeredAt = alert.TriggeredAt.UnixNano()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.OwnerID, alert.Symbol, string(alert.Condition), alert.TargetPrice,
		boolToInt(alert.IsActive), boolToInt(alert.Triggered),
		alert.CreatedAt.UnixNano(), alert.UpdatedAt.UnixNano(), triggeredAt)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by id.
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListArmedAlerts retrieves active, untriggered alerts for a symbol.
func (s *SQLiteStore) ListArmedAlerts(ctx context.Context, symbol string) ([]models.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE symbol = ? AND is_active = 1 AND triggered = 0
		ORDER BY created_at ASC
	`, symbol)
}

// ListActiveAlerts retrieves an owner's armed alerts, newest first.
func (s *SQLiteStore) ListActiveAlerts(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE owner_id = ? AND is_active = 1 AND triggered = 0
		ORDER BY created_at DESC
	`, ownerID)
}

// MarkTriggered atomically moves an armed alert to triggered.
func (s *SQLiteStore) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET triggered = 1, triggered_at = ?, updated_at = ?
		WHERE id = ? AND is_active = 1 AND triggered = 0
	`, at.UnixNano(), at.UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("failed to trigger alert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to trigger alert: %w", err)
	}
	return rows == 1, nil
}

// RemoveAlert deletes an owner's alert matched by full id or by a unique
// short id suffix.
func (s *SQLiteStore) RemoveAlert(ctx context.Context, ownerID, idOrSuffix string) (bool, error) {
	if idOrSuffix == "" {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM alerts
		WHERE owner_id = ? AND (id = ? OR substr(id, -length(?)) = ?)
	`, ownerID, idOrSuffix, idOrSuffix, idOrSuffix)
	if err != nil {
		return false, fmt.Errorf("failed to find alert: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return false, fmt.Errorf("failed to scan alert id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to find alert: %w", err)
	}

	target := ""
	for _, id := range ids {
		if id == idOrSuffix {
			target = id
			break
		}
	}
	if target == "" {
		if len(ids) != 1 {
			return false, nil
		}
		target = ids[0]
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id = ? AND owner_id = ?`, target, ownerID); err != nil {
		return false, fmt.Errorf("failed to remove alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to remove alert: %w", err)
	}
	return true, nil
}

// CountActiveAlerts counts armed alerts across all owners.
func (s *SQLiteStore) CountActiveAlerts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts WHERE is_active = 1 AND triggered = 0
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// DeleteTriggeredBefore purges triggered alerts last updated before cutoff.
func (s *SQLiteStore) DeleteTriggeredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM alerts WHERE triggered = 1 AND updated_at < ?
	`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete triggered alerts: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}

	return alerts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                    models.Alert
		condition            string
		isActive, triggered  int
		createdAt, updatedAt int64
		triggeredAt          sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Symbol, &condition, &a.TargetPrice,
		&isActive, &triggered, &createdAt, &updatedAt, &triggeredAt); err != nil {
		return nil, err
	}

	a.Condition = models.Condition(condition)
	a.IsActive = isActive == 1
	a.Triggered = triggered == 1
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)
	if triggeredAt.Valid {
		t := fromNanos(triggeredAt.Int64)
		a.TriggeredAt = &t
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

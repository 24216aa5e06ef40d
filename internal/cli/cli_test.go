package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketpulse/internal/config"
	"marketpulse/internal/errors"
	"marketpulse/internal/models"
	"marketpulse/internal/resilience"
	"marketpulse/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "marketpulse.db")
	cfg.Notifications.Terminal = false
	cfg.Stream.Symbols = []string{"BTC"}
	// Unroutable upstreams keep tests offline.
	cfg.Providers.CoinGecko.BaseURL = "http://127.0.0.1:1"
	cfg.Providers.AlphaVantage.BaseURL = "http://127.0.0.1:1"
	cfg.Providers.Binance.RESTURL = "http://127.0.0.1:1"

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)

	app := Assemble(cfg, dir, st, zerolog.Nop())
	t.Cleanup(func() { app.Close() })
	return app
}

func seedPrice(t *testing.T, app *App, symbol string, price float64) {
	t.Helper()
	_, err := app.Cache.Put(t.Context(), models.Snapshot{
		Symbol:     symbol,
		Name:       "Bitcoin",
		Price:      price,
		AssetType:  models.AssetCrypto,
		Source:     "test",
		ObservedAt: time.Now(),
	})
	require.NoError(t, err)
}

func run(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmdWithApp(app)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, nil, "version", "--json")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, Version, got["version"])
}

func TestPriceCommand_ServesFreshCache(t *testing.T) {
	app := newTestApp(t)
	seedPrice(t, app, "BTC", 67234.5)

	out, err := run(t, app, "price", "btc")

	require.NoError(t, err)
	assert.Contains(t, out, "Bitcoin (BTC)")
	assert.Contains(t, out, "$67,234.5")
}

func TestPriceCommand_RejectsBadType(t *testing.T) {
	app := newTestApp(t)

	_, err := run(t, app, "price", "btc", "--type", "bond")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --type")
}

func TestAlertCommands_Lifecycle(t *testing.T) {
	app := newTestApp(t)
	seedPrice(t, app, "BTC", 60000)

	// Create
	out, err := run(t, app, "alert", "add", "btc", "above", "70000", "--owner", "42", "--json")
	require.NoError(t, err)
	var created models.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "BTC", created.Symbol)
	assert.Equal(t, models.ConditionAbove, created.Condition)
	assert.Equal(t, 70000.0, created.TargetPrice)

	// List
	out, err = run(t, app, "alert", "list", "--owner", "42")
	require.NoError(t, err)
	assert.Contains(t, out, created.ShortID())
	assert.Contains(t, out, "$70,000")

	// Another owner sees nothing
	out, err = run(t, app, "alert", "list", "--owner", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "no active alerts")

	// Remove by short id
	out, err = run(t, app, "alert", "remove", created.ShortID(), "--owner", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	count, err := app.Alerts.ActiveCount(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAlertAdd_RequiresOwner(t *testing.T) {
	t.Setenv(ownerEnv, "")
	app := newTestApp(t)

	_, err := run(t, app, "alert", "add", "btc", "above", "1", "--owner", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), ownerEnv)
}

func TestAlertAdd_RejectsBadInput(t *testing.T) {
	app := newTestApp(t)
	seedPrice(t, app, "BTC", 60000)

	tests := []struct {
		name string
		args []string
	}{
		{"bad condition", []string{"btc", "sideways", "100"}},
		{"bad price", []string{"btc", "above", "lots"}},
		{"non-positive price", []string{"btc", "below", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"alert", "add"}, tt.args...)
			args = append(args, "--owner", "42")
			_, err := run(t, app, args...)
			assert.Error(t, err)
		})
	}
}

func TestTrackCommands_PersistSymbols(t *testing.T) {
	app := newTestApp(t)

	_, err := run(t, app, "track", "add", "eth", "sol")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, app.Stream.TrackedSymbols())

	_, err = run(t, app, "track", "remove", "btc")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH", "SOL"}, app.Stream.TrackedSymbols())

	cfg, err := config.Load(app.ConfigDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH", "SOL"}, cfg.Stream.Symbols)
}

func TestStatusCommand_JSON(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "status", "--json")

	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "disconnected", report.Stream)
	assert.Equal(t, []string{"BTC"}, report.TrackedSymbols)
	assert.Zero(t, report.ActiveAlerts)
	assert.NotEqual(t, resilience.HealthStatusUnhealthy, report.Health)

	names := make([]string, 0, len(report.Components))
	for _, c := range report.Components {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"database", "providers", "stream"}, names)
}

func TestHistoryCommand(t *testing.T) {
	app := newTestApp(t)
	seedPrice(t, app, "BTC", 100)

	out, err := run(t, app, "history", "btc", "--days", "1")

	require.NoError(t, err)
	assert.Contains(t, out, "BTC price history (1 points)")
	assert.Contains(t, out, "$100")
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	app := newTestApp(t)
	app.Config.Providers.AlphaVantage.APIKey = "supersecretkey"

	out, err := run(t, app, "config", "show", "--json")

	require.NoError(t, err)
	assert.NotContains(t, out, "supersecretkey")
	assert.Contains(t, out, "****tkey")
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.NewMarketError(errors.ErrSymbolNotFound, "XYZ", "", nil), "Could not find data for XYZ"},
		{errors.NewMarketError(errors.ErrAllProvidersUnavailable, "XYZ", "", nil), "unavailable"},
		{errors.ErrRateLimited, "rate limiting"},
		{fmt.Errorf("boom"), "Failed to fetch XYZ: boom"},
	}
	for _, tt := range tests {
		assert.Contains(t, describeError("XYZ", tt.err), tt.want)
	}
}

func TestTableAndBoxAlignment(t *testing.T) {
	var buf bytes.Buffer
	output := &Output{writer: &buf}

	table := NewTable(output, "SYMBOL", "PRICE")
	table.AddRow("BTC", "$1")
	table.AddRow("DOGE", "$0.12")
	table.Render()
	output.Box("Title", []string{"▲ up", "longer line"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4+6)
	assert.Equal(t, "SYMBOL  PRICE", lines[0])
	assert.Equal(t, "DOGE    $0.12", lines[3])

	// Every box line has the same rune width.
	width := displayWidth(lines[4])
	for _, l := range lines[4:] {
		assert.Equal(t, width, displayWidth(l), l)
	}
}

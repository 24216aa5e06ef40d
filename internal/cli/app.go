package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"marketpulse/internal/alert"
	"marketpulse/internal/config"
	"marketpulse/internal/marketdata"
	"marketpulse/internal/notify"
	"marketpulse/internal/provider"
	"marketpulse/internal/resilience"
	"marketpulse/internal/resolver"
	"marketpulse/internal/store"
	"marketpulse/internal/stream"
)

// streamStaleAfter is how long a connected stream may go silent before it
// is reported as degraded.
const streamStaleAfter = 5 * time.Minute

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	ConfigDir  string
	Logger     zerolog.Logger
	Store      store.DataStore
	Cache      *marketdata.Cache
	Resolver   *resolver.Resolver
	Aggregator *marketdata.Aggregator
	Alerts     *alert.Service
	Notifier   *notify.MultiDeliverer
	Stream     *stream.Manager
	Hub        *stream.Hub
	Health     *resilience.HealthMonitor
}

// NewApp builds the object graph from configuration.
func NewApp(cfg *config.Config, configDir string, logger zerolog.Logger) (*App, error) {
	dataStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Debug().Str("path", cfg.Database.Path).Msg("SQLite store initialized")

	return Assemble(cfg, configDir, dataStore, logger), nil
}

// Assemble wires the components over an existing store.
func Assemble(cfg *config.Config, configDir string, dataStore store.DataStore, logger zerolog.Logger) *App {
	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		Logger:    logger,
		Store:     dataStore,
		Cache:     marketdata.NewCache(dataStore),
		Hub:       stream.NewHub(stream.DefaultSubscriberBuffer),
	}

	pc := cfg.Providers
	breakers := resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig(), resilience.WithRegistryLogger(logger))

	cgPool := provider.NewCredentialPool(pc.CoinGecko.APIKeys...)
	cgClient := provider.NewClient(provider.CoinGeckoName, pc.CoinGecko.BaseURL,
		provider.WithHTTPClient(provider.NewHTTPClient(pc.CoinGecko.Timeout)),
		provider.WithCredentials(cgPool, provider.CoinGeckoAuthorizer),
		provider.WithTimeout(pc.CoinGecko.Timeout),
		provider.WithLogger(logger),
	)
	app.Resolver = resolver.New(provider.NewCoinDirectory(cgClient),
		resolver.WithTTL(cfg.Cache.ResolverTTL),
		resolver.WithLogger(logger),
	)
	coinGecko := provider.NewCoinGecko(cgClient, app.Resolver)

	avClient := provider.NewClient(provider.AlphaVantageName, pc.AlphaVantage.BaseURL,
		provider.WithHTTPClient(provider.NewHTTPClient(pc.AlphaVantage.Timeout)),
		provider.WithCredentials(provider.NewCredentialPool(pc.AlphaVantage.APIKey), provider.AlphaVantageAuthorizer),
		provider.WithTimeout(pc.AlphaVantage.Timeout),
		provider.WithLogger(logger),
	)

	bnClient := provider.NewClient(provider.BinanceName, pc.Binance.RESTURL,
		provider.WithHTTPClient(provider.NewHTTPClient(pc.Binance.Timeout)),
		provider.WithTimeout(pc.Binance.Timeout),
		provider.WithLogger(logger),
	)

	app.Notifier = notify.New(cfg.Notifications, logger)
	app.Alerts = alert.NewService(dataStore, app.Notifier,
		alert.WithRetention(cfg.Alerts.Retention),
		alert.WithLogger(logger),
	)

	app.Stream = stream.NewManager(stream.Config{
		URL:                  cfg.Stream.URL,
		Symbols:              cfg.Stream.Symbols,
		ReconnectInterval:    cfg.Stream.ReconnectInterval,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, app.Cache, app.Alerts,
		stream.WithHub(app.Hub),
		stream.WithLogger(logger),
	)

	app.Aggregator = marketdata.NewAggregator(app.Cache, marketdata.Sources{
		Crypto:    coinGecko,
		Equity:    provider.NewAlphaVantage(avClient),
		Secondary: provider.NewBinance(bnClient, pc.Binance.RequestsPerSecond, pc.Binance.Burst),
	}, marketdata.Config{
		CryptoTTL: cfg.Cache.CryptoTTL,
		EquityTTL: cfg.Cache.EquityTTL,
	},
		marketdata.WithTracker(app.Stream),
		marketdata.WithMovers(coinGecko),
		marketdata.WithBreakers(breakers),
		marketdata.WithLogger(logger),
	)

	app.Health = resilience.NewHealthMonitor(10*time.Second, logger)
	app.Health.Register("stream", resilience.StreamHealthCheck(
		app.Stream.Running,
		func() bool { return app.Stream.ConnectionStatus() == stream.Connected },
		app.Stream.LastMessageAt,
		streamStaleAfter,
	))
	app.Health.Register("database", resilience.DatabaseHealthCheck(dataStore.Ping, 100*time.Millisecond))
	app.Health.Register("providers", resilience.ProvidersHealthCheck(breakers))

	return app
}

// Close stops the stream and releases the store.
func (a *App) Close() error {
	a.Health.Stop()
	a.Stream.Stop()
	a.Hub.Close()
	return a.Store.Close()
}

package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"marketpulse/internal/errors"
	"marketpulse/internal/logging"
	"marketpulse/internal/models"
	"marketpulse/internal/provider"
	"marketpulse/internal/resilience"
)

const (
	// DefaultCryptoTTL is the freshness window for REST-polled crypto.
	DefaultCryptoTTL = 60 * time.Second
	// DefaultEquityTTL is the freshness window for REST-polled equities.
	DefaultEquityTTL = 300 * time.Second
)

// Tracker reports whether a symbol is currently fed by a live stream.
type Tracker interface {
	Streaming(symbol string) bool
}

// Movers lists the day's largest crypto movers.
type Movers interface {
	TopMovers(ctx context.Context, n int, gainers bool) ([]models.Snapshot, error)
}

// Sources groups the upstream chain. Any member may be nil.
type Sources struct {
	Crypto    provider.Source
	Equity    provider.Source
	Secondary provider.Source
}

// Config holds aggregator settings.
type Config struct {
	CryptoTTL time.Duration
	EquityTTL time.Duration
}

// Aggregator answers price queries from the cache or the fallback chain.
type Aggregator struct {
	cache    *Cache
	sources  Sources
	breakers *resilience.CircuitBreakerRegistry
	tracker  Tracker
	movers   Movers
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTracker marks streamed symbols as always fresh while connected.
func WithTracker(t Tracker) AggregatorOption {
	return func(a *Aggregator) {
		a.tracker = t
	}
}

// WithMovers enables TopMovers.
func WithMovers(m Movers) AggregatorOption {
	return func(a *Aggregator) {
		a.movers = m
	}
}

// WithBreakers sets the circuit breaker registry guarding each source.
func WithBreakers(r *resilience.CircuitBreakerRegistry) AggregatorOption {
	return func(a *Aggregator) {
		a.breakers = r
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(logger zerolog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logging.WithComponent(logger, "aggregator")
	}
}

// NewAggregator creates an aggregator.
func NewAggregator(cache *Cache, sources Sources, cfg Config, opts ...AggregatorOption) *Aggregator {
	if cfg.CryptoTTL <= 0 {
		cfg.CryptoTTL = DefaultCryptoTTL
	}
	if cfg.EquityTTL <= 0 {
		cfg.EquityTTL = DefaultEquityTTL
	}
	a := &Aggregator{
		cache:    cache,
		sources:  sources,
		breakers: resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig()),
		cfg:      cfg,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// QueryOption narrows a price query.
type QueryOption func(*query)

type query struct {
	assetType models.AssetType
}

// WithAssetType skips sources that cannot serve the given asset class.
func WithAssetType(t models.AssetType) QueryOption {
	return func(q *query) {
		q.assetType = t
	}
}

// step is one link of the fallback chain.
type step struct {
	source provider.Source
	asset  models.AssetType
}

func (a *Aggregator) chain(q query) []step {
	steps := []step{
		{a.sources.Crypto, models.AssetCrypto},
		{a.sources.Equity, models.AssetEquity},
		{a.sources.Secondary, models.AssetCrypto},
	}
	out := steps[:0]
	for _, s := range steps {
		if s.source == nil {
			continue
		}
		if q.assetType != "" && q.assetType != s.asset {
			continue
		}
		out = append(out, s)
	}
	return out
}

// GetPrice returns the freshest available snapshot for symbol. It fails with
// ErrSymbolNotFound when no source knows the symbol and nothing is cached,
// and with ErrAllProvidersUnavailable when sources failed and nothing is cached.
func (a *Aggregator) GetPrice(ctx context.Context, symbol string, opts ...QueryOption) (models.Snapshot, error) {
	var q query
	for _, opt := range opts {
		opt(&q)
	}
	sym := models.NormalizeSymbol(symbol)
	logger := logging.WithSymbol(a.logger, sym)

	cached, err := a.cache.Get(ctx, sym)
	if err != nil {
		logger.Warn().Err(err).Msg("Cache read failed")
	}
	if cached != nil && a.fresh(sym, *cached) {
		return *cached, nil
	}

	allNotFound := true
	var lastErr error
	for _, s := range a.chain(q) {
		res := a.query(ctx, s.source, sym)
		switch res.Kind {
		case provider.KindSuccess:
			res.Snapshot.Symbol = sym
			accepted, err := a.cache.Put(ctx, res.Snapshot)
			if err != nil {
				logger.Warn().Err(err).Msg("Cache write failed")
				return res.Snapshot, nil
			}
			if !accepted {
				// A newer observation landed first; serve that one.
				if newer, err := a.cache.Get(ctx, sym); err == nil && newer != nil {
					return *newer, nil
				}
			}
			return res.Snapshot, nil
		case provider.KindTransient:
			allNotFound = false
			lastErr = res.Err
			logger.Debug().Err(res.Err).Str("source", s.source.Name()).Msg("Source failed, falling back")
		default:
			logger.Debug().Str("source", s.source.Name()).Msg("Source does not know symbol")
		}
	}

	if cached != nil {
		logger.Info().
			Dur("age", cached.Age(a.now())).
			Msg("All sources failed, serving stale cache")
		return *cached, nil
	}
	if allNotFound {
		return models.Snapshot{}, errors.NewMarketError(errors.ErrSymbolNotFound, sym, "", nil)
	}
	return models.Snapshot{}, errors.NewMarketError(errors.ErrAllProvidersUnavailable, sym, "", lastErr)
}

// query runs one source behind its circuit breaker. An open breaker is
// reported as a transient failure.
func (a *Aggregator) query(ctx context.Context, src provider.Source, symbol string) provider.Result {
	var res provider.Result
	err := a.breakers.Get(src.Name()).Execute(func() error {
		res = src.Quote(ctx, symbol)
		if res.Kind == provider.KindTransient {
			return res.Err
		}
		return nil
	})
	if err == resilience.ErrCircuitOpen {
		return provider.Transient(errors.NewProviderError(src.Name(), "", 0, errors.ErrProviderUnavailable, err))
	}
	return res
}

func (a *Aggregator) fresh(symbol string, snap models.Snapshot) bool {
	if a.tracker != nil && a.tracker.Streaming(symbol) {
		return true
	}
	ttl := a.cfg.CryptoTTL
	if snap.AssetType == models.AssetEquity {
		ttl = a.cfg.EquityTTL
	}
	return snap.Age(a.now()) < ttl
}

// GetHistoricalSeries returns the price history of the last days, oldest first.
func (a *Aggregator) GetHistoricalSeries(ctx context.Context, symbol string, days int) ([]models.HistoryPoint, error) {
	return a.cache.History(ctx, symbol, days)
}

// TopMovers returns the n largest crypto gainers or losers over 24h.
func (a *Aggregator) TopMovers(ctx context.Context, n int, gainers bool) ([]models.Snapshot, error) {
	if a.movers == nil {
		return nil, errors.ErrProviderUnavailable
	}
	if n < 1 {
		n = 10
	}
	return a.movers.TopMovers(ctx, n, gainers)
}

// BreakerStats exposes per-source circuit breaker state.
func (a *Aggregator) BreakerStats() []resilience.CircuitBreakerStats {
	return a.breakers.AllStats()
}

// Package resolver maps ticker symbols to crypto provider coin ids.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"marketpulse/internal/errors"
	"marketpulse/internal/logging"
	"marketpulse/internal/models"
)

// DefaultTTL is how long a resolution, positive or degraded, is reused.
const DefaultTTL = 24 * time.Hour

// Seeds are well-known symbols resolved without a directory lookup.
var Seeds = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"ADA":   "cardano",
	"DOT":   "polkadot",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"MATIC": "polygon",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"UNI":   "uniswap",
}

// Directory lists every coin a provider knows.
type Directory interface {
	Coins(ctx context.Context) ([]models.CoinListing, error)
}

// Resolver caches symbol to id resolutions.
type Resolver struct {
	dir    Directory
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]models.ResolvedIdentifier

	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.WithComponent(logger, "resolver")
	}
}

// New creates a resolver over dir.
func New(dir Directory, opts ...Option) *Resolver {
	r := &Resolver{
		dir:    dir,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zerolog.Nop(),
		cache:  make(map[string]models.ResolvedIdentifier),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the provider id for symbol. A directory miss is cached as
// a degraded entry and reported as ErrNotFound until it goes stale.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (models.ResolvedIdentifier, error) {
	sym := models.NormalizeSymbol(symbol)

	if id, ok := r.cached(sym); ok {
		return result(id)
	}

	if seed, ok := Seeds[sym]; ok {
		return r.store(sym, seed, false), nil
	}

	// Concurrent misses for the same symbol share one directory scan.
	v, err, _ := r.group.Do(sym, func() (interface{}, error) {
		if id, ok := r.cached(sym); ok {
			return id, nil
		}
		coins, err := r.dir.Coins(ctx)
		if err != nil {
			return nil, errors.NewMarketError(errors.ErrProviderUnavailable, sym, "resolver", err)
		}
		for _, c := range coins {
			if strings.EqualFold(c.Symbol, sym) {
				return r.store(sym, c.ID, false), nil
			}
		}
		r.logger.Debug().Str("symbol", sym).Msg("Symbol not in directory, caching degraded entry")
		return r.store(sym, strings.ToLower(sym), true), nil
	})
	if err != nil {
		return models.ResolvedIdentifier{}, err
	}
	return result(v.(models.ResolvedIdentifier))
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) cached(sym string) (models.ResolvedIdentifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cache[sym]
	if !ok || id.Stale(r.now(), r.ttl) {
		return models.ResolvedIdentifier{}, false
	}
	return id, true
}

func (r *Resolver) store(sym, id string, degraded bool) models.ResolvedIdentifier {
	entry := models.ResolvedIdentifier{
		Symbol:     sym,
		ID:         id,
		Degraded:   degraded,
		ResolvedAt: r.now(),
	}
	r.mu.Lock()
	r.cache[sym] = entry
	r.mu.Unlock()
	return entry
}

func result(id models.ResolvedIdentifier) (models.ResolvedIdentifier, error) {
	if id.Degraded {
		return id, errors.NewMarketError(errors.ErrNotFound, id.Symbol, "resolver", nil)
	}
	return id, nil
}

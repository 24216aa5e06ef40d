package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// BinanceName is the provider name used in logs and snapshots.
const BinanceName = "binance"

// Binance is the last-resort, price-only source. It quotes the USDT pair
// and synthesizes a snapshot with zeroed change and volume fields.
type Binance struct {
	client  Fetcher
	limiter *rate.Limiter
	now     func() time.Time
}

// NewBinance creates the secondary source with its own request budget.
func NewBinance(client Fetcher, rps float64, burst int) *Binance {
	if burst < 1 {
		burst = 1
	}
	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}
}

// Name implements Source.
func (b *Binance) Name() string { return BinanceName }

// Pair returns the USDT trading pair for a symbol.
func Pair(symbol string) string {
	sym := models.NormalizeSymbol(symbol)
	if strings.HasSuffix(sym, "USDT") {
		return sym
	}
	return sym + "USDT"
}

// Quote looks up the pair price.
func (b *Binance) Quote(ctx context.Context, symbol string) Result {
	if err := b.limiter.Wait(ctx); err != nil {
		return Transient(errors.NewProviderError(BinanceName, "/api/v3/ticker/price", 0, errors.ErrRateLimited, err))
	}

	params := url.Values{}
	params.Set("symbol", Pair(symbol))

	body, err := b.client.Fetch(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		// Unknown pairs answer 400 with code -1121.
		var perr *errors.ProviderError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusBadRequest {
			return NotFound(errors.NewMarketError(errors.ErrSymbolNotFound, symbol, BinanceName, err))
		}
		return Classify(err)
	}

	var resp struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Transient(errors.NewProviderError(BinanceName, "/api/v3/ticker/price", 0, errors.ErrUpstream, err))
	}
	if !resp.Price.IsPositive() {
		return NotFound(errors.NewMarketError(errors.ErrSymbolNotFound, symbol, BinanceName, nil))
	}

	price := resp.Price.InexactFloat64()
	return Success(models.Snapshot{
		Symbol:     symbol,
		Price:      price,
		High24h:    price,
		Low24h:     price,
		AssetType:  models.AssetCrypto,
		Source:     BinanceName,
		ObservedAt: b.now(),
	})
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// CoinGeckoName is the provider name used in logs and snapshots.
const CoinGeckoName = "coingecko"

// CoinGeckoAuthorizer attaches a key as both demo and pro headers and as
// the pro query parameter, since plans accept different forms.
func CoinGeckoAuthorizer(req *http.Request, key string) {
	if key == "" {
		return
	}
	req.Header.Set("x-cg-demo-api-key", key)
	req.Header.Set("x-cg-api-key", key)
	q := req.URL.Query()
	q.Set("x_cg_pro_api_key", key)
	req.URL.RawQuery = q.Encode()
}

// IDResolver maps a ticker symbol to a provider coin id.
type IDResolver interface {
	Resolve(ctx context.Context, symbol string) (models.ResolvedIdentifier, error)
}

// Fetcher performs a GET and returns the raw body.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
}

// CoinDirectory lists every coin the crypto provider knows.
type CoinDirectory struct {
	client Fetcher
}

// NewCoinDirectory creates a directory over a CoinGecko client.
func NewCoinDirectory(client Fetcher) *CoinDirectory {
	return &CoinDirectory{client: client}
}

// Coins fetches the full symbol directory.
func (d *CoinDirectory) Coins(ctx context.Context) ([]models.CoinListing, error) {
	body, err := d.client.Fetch(ctx, "/coins/list", nil)
	if err != nil {
		return nil, err
	}
	var coins []models.CoinListing
	if err := json.Unmarshal(body, &coins); err != nil {
		return nil, errors.NewProviderError(CoinGeckoName, "/coins/list", 0, errors.ErrUpstream, err)
	}
	return coins, nil
}

// coinMarket is one row of /coins/markets. Numeric fields may be null.
type coinMarket struct {
	ID                       string              `json:"id"`
	Symbol                   string              `json:"symbol"`
	Name                     string              `json:"name"`
	CurrentPrice             decimal.NullDecimal `json:"current_price"`
	PriceChange24h           decimal.NullDecimal `json:"price_change_24h"`
	PriceChangePercentage24h decimal.NullDecimal `json:"price_change_percentage_24h"`
	High24h                  decimal.NullDecimal `json:"high_24h"`
	Low24h                   decimal.NullDecimal `json:"low_24h"`
	TotalVolume              decimal.NullDecimal `json:"total_volume"`
	MarketCap                decimal.NullDecimal `json:"market_cap"`
}

func (m coinMarket) snapshot(symbol string, observedAt time.Time) models.Snapshot {
	snap := models.Snapshot{
		Symbol:           symbol,
		Name:             m.Name,
		Price:            floatOf(m.CurrentPrice),
		Change24h:        floatOf(m.PriceChange24h),
		ChangePercent24h: floatOf(m.PriceChangePercentage24h),
		High24h:          floatOf(m.High24h),
		Low24h:           floatOf(m.Low24h),
		Volume24h:        floatOf(m.TotalVolume),
		AssetType:        models.AssetCrypto,
		Source:           CoinGeckoName,
		ObservedAt:       observedAt,
	}
	if m.MarketCap.Valid {
		snap.MarketCap = models.Float64Ptr(m.MarketCap.Decimal.InexactFloat64())
	}
	return snap
}

func floatOf(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.InexactFloat64()
}

// CoinGecko is the crypto REST source.
type CoinGecko struct {
	client   Fetcher
	resolver IDResolver
	now      func() time.Time
}

// NewCoinGecko creates the crypto source.
func NewCoinGecko(client Fetcher, resolver IDResolver) *CoinGecko {
	return &CoinGecko{client: client, resolver: resolver, now: time.Now}
}

// Name implements Source.
func (c *CoinGecko) Name() string { return CoinGeckoName }

// Quote resolves the symbol and fetches its market row.
func (c *CoinGecko) Quote(ctx context.Context, symbol string) Result {
	id, err := c.resolver.Resolve(ctx, symbol)
	if err != nil {
		return Classify(err)
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("ids", id.ID)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", "1")
	params.Set("page", "1")
	params.Set("sparkline", "false")

	rows, err := c.markets(ctx, params)
	if err != nil {
		return Classify(err)
	}
	if len(rows) == 0 || !rows[0].CurrentPrice.Valid {
		return NotFound(errors.NewMarketError(errors.ErrSymbolNotFound, symbol, CoinGeckoName, nil))
	}
	return Success(rows[0].snapshot(symbol, c.now()))
}

// TopMovers returns the n coins with the largest 24h change, gainers or losers.
func (c *CoinGecko) TopMovers(ctx context.Context, n int, gainers bool) ([]models.Snapshot, error) {
	order := "price_change_percentage_24h_asc"
	if gainers {
		order = "price_change_percentage_24h_desc"
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", order)
	params.Set("per_page", strconv.Itoa(n))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	rows, err := c.markets(ctx, params)
	if err != nil {
		return nil, err
	}

	now := c.now()
	snaps := make([]models.Snapshot, 0, len(rows))
	for _, row := range rows {
		snaps = append(snaps, row.snapshot(models.NormalizeSymbol(row.Symbol), now))
	}
	return snaps, nil
}

func (c *CoinGecko) markets(ctx context.Context, params url.Values) ([]coinMarket, error) {
	body, err := c.client.Fetch(ctx, "/coins/markets", params)
	if err != nil {
		return nil, err
	}
	var rows []coinMarket
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errors.NewProviderError(CoinGeckoName, "/coins/markets", 0, errors.ErrUpstream, fmt.Errorf("decode: %w", err))
	}
	return rows, nil
}

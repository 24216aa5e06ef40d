package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// AlphaVantageName is the provider name used in logs and snapshots.
const AlphaVantageName = "alphavantage"

// AlphaVantageAuthorizer attaches the key as the apikey query parameter.
func AlphaVantageAuthorizer(req *http.Request, key string) {
	if key == "" {
		return
	}
	q := req.URL.Query()
	q.Set("apikey", key)
	req.URL.RawQuery = q.Encode()
}

type globalQuoteResponse struct {
	Quote        map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

// AlphaVantage is the equity REST source. Quote fields arrive as strings.
type AlphaVantage struct {
	client Fetcher
	now    func() time.Time
}

// NewAlphaVantage creates the equity source.
func NewAlphaVantage(client Fetcher) *AlphaVantage {
	return &AlphaVantage{client: client, now: time.Now}
}

// Name implements Source.
func (a *AlphaVantage) Name() string { return AlphaVantageName }

// Quote fetches GLOBAL_QUOTE for a ticker.
func (a *AlphaVantage) Quote(ctx context.Context, symbol string) Result {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	body, err := a.client.Fetch(ctx, "", params)
	if err != nil {
		return Classify(err)
	}

	var resp globalQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Transient(errors.NewProviderError(AlphaVantageName, "GLOBAL_QUOTE", 0, errors.ErrUpstream, err))
	}

	// The API answers 200 with a note when the quota is exhausted.
	if resp.Note != "" || resp.Information != "" {
		return Transient(errors.NewProviderError(AlphaVantageName, "GLOBAL_QUOTE", http.StatusOK, errors.ErrRateLimited, nil))
	}
	if resp.ErrorMessage != "" || len(resp.Quote) == 0 || resp.Quote["05. price"] == "" {
		return NotFound(errors.NewMarketError(errors.ErrSymbolNotFound, symbol, AlphaVantageName, nil))
	}

	snap, err := parseGlobalQuote(symbol, resp.Quote, a.now())
	if err != nil {
		return Transient(errors.NewProviderError(AlphaVantageName, "GLOBAL_QUOTE", 0, errors.ErrUpstream, err))
	}
	return Success(snap)
}

type quoteField struct {
	key string
	dst *float64
}

func parseGlobalQuote(symbol string, q map[string]string, observedAt time.Time) (models.Snapshot, error) {
	snap := models.Snapshot{
		Symbol:     symbol,
		AssetType:  models.AssetEquity,
		Source:     AlphaVantageName,
		ObservedAt: observedAt,
	}
	fields := []quoteField{
		{"05. price", &snap.Price},
		{"09. change", &snap.Change24h},
		{"10. change percent", &snap.ChangePercent24h},
		{"03. high", &snap.High24h},
		{"04. low", &snap.Low24h},
		{"06. volume", &snap.Volume24h},
	}

	for _, f := range fields {
		raw := strings.TrimSuffix(strings.TrimSpace(q[f.key]), "%")
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("parse %q: %w", f.key, err)
		}
		*f.dst = d.InexactFloat64()
	}
	return snap, nil
}

// Package models provides domain models for the market data service.
package models

import (
	"strings"
	"time"
)

// AssetType represents the asset class of a symbol.
type AssetType string

const (
	AssetCrypto AssetType = "crypto"
	AssetEquity AssetType = "equity"
)

// Valid reports whether the asset type is known.
func (a AssetType) Valid() bool {
	return a == AssetCrypto || a == AssetEquity
}

// NormalizeSymbol returns the canonical uppercase form of a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Snapshot is a point-in-time price record for a symbol.
// A new update replaces the cached snapshot; snapshots are never mutated.
type Snapshot struct {
	Symbol           string    `json:"symbol"`
	Name             string    `json:"name,omitempty"`
	Price            float64   `json:"price"`
	Change24h        float64   `json:"change_24h"`
	ChangePercent24h float64   `json:"change_percent_24h"`
	High24h          float64   `json:"high_24h"`
	Low24h           float64   `json:"low_24h"`
	Volume24h        float64   `json:"volume_24h"`
	MarketCap        *float64  `json:"market_cap,omitempty"`
	AssetType        AssetType `json:"asset_type"`
	Source           string    `json:"source,omitempty"`
	ObservedAt       time.Time `json:"observed_at"`
}

// Age returns how old the snapshot is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ObservedAt)
}

// HistoryPoint is one record of the append-only price history log.
type HistoryPoint struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// ResolvedIdentifier maps a symbol to a provider-specific id.
// Degraded entries record a directory miss so it is not looked up again
// until the entry goes stale.
type ResolvedIdentifier struct {
	Symbol     string
	ID         string
	Degraded   bool
	ResolvedAt time.Time
}

// Stale reports whether the identifier is older than ttl.
func (r ResolvedIdentifier) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.ResolvedAt) >= ttl
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// CoinListing is one entry of a provider's symbol directory.
type CoinListing struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

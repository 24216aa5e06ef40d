package stream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"marketpulse/internal/models"
)

// SourceName tags snapshots produced by the ticker stream.
const SourceName = "binance-stream"

// TickerMessage is a 24h rolling ticker event.
type TickerMessage struct {
	EventType     string          `json:"e"`
	EventTime     int64           `json:"E"`
	Symbol        string          `json:"s"`
	Close         decimal.Decimal `json:"c"`
	Open          decimal.Decimal `json:"o"`
	High          decimal.Decimal `json:"h"`
	Low           decimal.Decimal `json:"l"`
	Volume        decimal.Decimal `json:"v"`
	QuoteVolume   decimal.Decimal `json:"q"`
	PercentChange decimal.Decimal `json:"P"`
	PriceChange   decimal.Decimal `json:"p"`
}

// combinedMessage wraps events on the /stream endpoint.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// ParseTicker decodes a ticker event into a snapshot observed at receivedAt.
// The USDT quote suffix is stripped from the symbol. The exchange event time
// is not used as observedAt: cache writes from REST sources are stamped with
// the local clock and both must order on the same clock.
func ParseTicker(data []byte, receivedAt time.Time) (models.Snapshot, error) {
	var wrapped combinedMessage
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Data) > 0 {
		data = wrapped.Data
	}

	var msg TickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode ticker: %w", err)
	}
	if msg.Symbol == "" {
		return models.Snapshot{}, fmt.Errorf("ticker without symbol")
	}
	if !msg.Close.IsPositive() {
		return models.Snapshot{}, fmt.Errorf("ticker %s: non-positive price %s", msg.Symbol, msg.Close)
	}

	return models.Snapshot{
		Symbol:           strings.TrimSuffix(models.NormalizeSymbol(msg.Symbol), "USDT"),
		Price:            msg.Close.InexactFloat64(),
		Change24h:        msg.PriceChange.InexactFloat64(),
		ChangePercent24h: msg.PercentChange.InexactFloat64(),
		High24h:          msg.High.InexactFloat64(),
		Low24h:           msg.Low.InexactFloat64(),
		Volume24h:        msg.Volume.InexactFloat64(),
		AssetType:        models.AssetCrypto,
		Source:           SourceName,
		ObservedAt:       receivedAt.UTC(),
	}, nil
}

// StreamURL builds the raw-stream URL subscribing to each symbol's ticker.
func StreamURL(base string, symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, url.PathEscape(strings.ToLower(s)+"usdt@ticker"))
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(streams, "/")
}

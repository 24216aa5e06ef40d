package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Market Pulse Configuration

[database]
# SQLite database file
# path = "~/.config/marketpulse/marketpulse.db"

[providers.coingecko]
base_url = "https://api.coingecko.com/api/v3"
# API keys are rotated on 401/403/429. Also settable via COINGECKO_API_KEYS (comma-separated).
api_keys = []
timeout = "15s"

[providers.alphavantage]
base_url = "https://www.alphavantage.co/query"
# Also settable via ALPHA_VANTAGE_API_KEY
api_key = ""
timeout = "15s"

[providers.binance]
rest_url = "https://api.binance.com"
timeout = "10s"
requests_per_second = 10.0
burst = 5

[stream]
url = "wss://stream.binance.com:9443/ws"
symbols = ["BTC", "ETH", "ADA", "DOT", "SOL", "DOGE", "MATIC", "AVAX", "LINK", "UNI"]
# Delay before reconnect attempt N is reconnect_interval * N
reconnect_interval = "5s"
max_reconnect_attempts = 5

[cache]
crypto_ttl = "60s"
equity_ttl = "300s"
resolver_ttl = "24h"

[alerts]
# Triggered alerts older than this are deleted by the sweeper
retention = "168h"
sweep_interval = "1h"

[notifications]
# Print triggered alerts to the terminal
terminal = true

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
# Also settable via TELEGRAM_BOT_TOKEN
bot_token = ""
api_url = "https://api.telegram.org"

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

// Package cli provides the command-line interface for Market Pulse.
package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"marketpulse/internal/config"
	"marketpulse/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// skipAppAnnotation marks commands that run without opening the store.
const skipAppAnnotation = "marketpulse/skip-app"

// Execute runs the CLI and releases the application on exit.
func Execute(ctx context.Context) error {
	holder := &appHolder{}
	root := newRootCmd(holder)
	err := root.ExecuteContext(ctx)
	if holder.app != nil && holder.owned {
		if cerr := holder.app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// NewRootCmdWithApp creates the root command around a pre-built App.
func NewRootCmdWithApp(app *App) *cobra.Command {
	return newRootCmd(&appHolder{app: app})
}

// appHolder defers building the App until flags are parsed.
type appHolder struct {
	app   *App
	owned bool
}

func newRootCmd(holder *appHolder) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "marketpulse",
		Short: "Market Pulse - crypto and equity prices with price alerts",
		Long: `Market Pulse aggregates crypto and equity prices from a live ticker
stream and several REST providers, caches them locally and notifies you
when your price alerts trigger.

Use 'marketpulse serve' to run the live stream and alert evaluation.
Use 'marketpulse price <symbol>' for a one-off quote.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if holder.app != nil || cmd.Annotations[skipAppAnnotation] == "true" {
				return nil
			}

			configDir, _ := cmd.Flags().GetString("config")
			if configDir == "" {
				configDir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			logger := newLogger(cfg)
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				logger = logger.Level(zerolog.DebugLevel)
			}

			app, err := NewApp(cfg, configDir, logger)
			if err != nil {
				return err
			}
			holder.app = app
			holder.owned = true
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/marketpulse)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, holder)
	addMarketCommands(rootCmd, holder)
	addAlertCommands(rootCmd, holder)
	addStreamCommands(rootCmd, holder)

	return rootCmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	lc := logging.DefaultLogConfig()
	lc.Level = cfg.Logging.Level
	lc.Console = cfg.Logging.Console
	lc.File = cfg.Logging.File
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	return logging.NewLoggerWithConfig(lc)
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, holder *appHolder) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(holder))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Market Pulse v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(holder *appHolder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := holder.app.Config
			if output.IsJSON() {
				return output.JSON(redactedConfig(cfg))
			}
			showConfig(output, cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := holder.app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redactedConfig copies cfg with credentials masked.
func redactedConfig(cfg *config.Config) config.Config {
	c := *cfg
	keys := make([]string, len(cfg.Providers.CoinGecko.APIKeys))
	for i, k := range cfg.Providers.CoinGecko.APIKeys {
		keys[i] = maskSecret(k)
	}
	c.Providers.CoinGecko.APIKeys = keys
	c.Providers.AlphaVantage.APIKey = maskSecret(cfg.Providers.AlphaVantage.APIKey)
	c.Notifications.Telegram.BotToken = maskSecret(cfg.Notifications.Telegram.BotToken)
	return c
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Providers")
	output.Printf("  CoinGecko:       %s (%d keys)\n", cfg.Providers.CoinGecko.BaseURL, len(cfg.Providers.CoinGecko.APIKeys))
	output.Printf("  Alpha Vantage:   %s (key set: %v)\n", cfg.Providers.AlphaVantage.BaseURL, cfg.Providers.AlphaVantage.APIKey != "")
	output.Printf("  Binance:         %s (%.0f req/s)\n", cfg.Providers.Binance.RESTURL, cfg.Providers.Binance.RequestsPerSecond)
	output.Println()

	output.Bold("Stream")
	output.Printf("  URL:             %s\n", cfg.Stream.URL)
	output.Printf("  Symbols:         %v\n", cfg.Stream.Symbols)
	output.Printf("  Reconnect:       %s x attempt, max %d\n", cfg.Stream.ReconnectInterval, cfg.Stream.MaxReconnectAttempts)
	output.Println()

	output.Bold("Cache")
	output.Printf("  Crypto TTL:      %s\n", cfg.Cache.CryptoTTL)
	output.Printf("  Equity TTL:      %s\n", cfg.Cache.EquityTTL)
	output.Printf("  Resolver TTL:    %s\n", cfg.Cache.ResolverTTL)
	output.Println()

	output.Bold("Alerts")
	output.Printf("  Retention:       %s\n", cfg.Alerts.Retention)
	output.Printf("  Sweep interval:  %s\n", cfg.Alerts.SweepInterval)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Terminal:        %v\n", cfg.Notifications.Terminal)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Database.Path)
}

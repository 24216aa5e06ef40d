package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"marketpulse/internal/errors"
	"marketpulse/internal/marketdata"
	"marketpulse/internal/models"
	"marketpulse/pkg/utils"
)

func addMarketCommands(rootCmd *cobra.Command, holder *appHolder) {
	rootCmd.AddCommand(newPriceCmd(holder))
	rootCmd.AddCommand(newHistoryCmd(holder))
	rootCmd.AddCommand(newMoversCmd(holder))
}

// describeError renders a price failure without upstream details.
func describeError(symbol string, err error) string {
	switch {
	case errors.Is(err, errors.ErrSymbolNotFound), errors.Is(err, errors.ErrNotFound):
		return fmt.Sprintf("Could not find data for %s. Please check the symbol and try again.", symbol)
	case errors.Is(err, errors.ErrAllProvidersUnavailable):
		return fmt.Sprintf("All price providers are unavailable for %s. Please try again later.", symbol)
	case errors.Is(err, errors.ErrRateLimited):
		return "Price providers are rate limiting requests. Please try again shortly."
	case errors.Is(err, errors.ErrTimeout):
		return "The price request timed out. Please try again."
	}
	return fmt.Sprintf("Failed to fetch %s: %v", symbol, err)
}

func newPriceCmd(holder *appHolder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price <symbol>",
		Short: "Show the current price of a crypto asset or stock",
		Example: `  marketpulse price btc
  marketpulse price AAPL --type equity`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)
			symbol := models.NormalizeSymbol(args[0])

			var opts []marketdata.QueryOption
			assetType, _ := cmd.Flags().GetString("type")
			if assetType != "" {
				t := models.AssetType(assetType)
				if !t.Valid() {
					return fmt.Errorf("invalid --type %q (want crypto or equity)", assetType)
				}
				opts = append(opts, marketdata.WithAssetType(t))
			}

			snap, err := app.Aggregator.GetPrice(cmd.Context(), symbol, opts...)
			if err != nil {
				output.Error("❌ %s", describeError(symbol, err))
				return err
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}
			renderSnapshot(output, snap)
			return nil
		},
	}
	cmd.Flags().String("type", "", "asset class hint: crypto or equity")
	return cmd
}

func renderSnapshot(output *Output, snap models.Snapshot) {
	title := snap.Symbol
	if snap.Name != "" {
		title = fmt.Sprintf("%s (%s)", snap.Name, snap.Symbol)
	}

	lines := []string{
		fmt.Sprintf("Price:       %s", utils.FormatUSD(snap.Price)),
		fmt.Sprintf("24h Change:  %s (%s)", output.FormatChange(snap.Change24h), output.FormatPercent(snap.ChangePercent24h)),
		fmt.Sprintf("24h High:    %s", utils.FormatUSD(snap.High24h)),
		fmt.Sprintf("24h Low:     %s", utils.FormatUSD(snap.Low24h)),
		fmt.Sprintf("24h Volume:  %s", utils.FormatWholeUSD(snap.Volume24h)),
	}
	if snap.MarketCap != nil {
		lines = append(lines, fmt.Sprintf("Market Cap:  %s", utils.FormatWholeUSD(*snap.MarketCap)))
	}
	lines = append(lines,
		fmt.Sprintf("Type:        %s", snap.AssetType),
		output.DimText(fmt.Sprintf("Source: %s, updated %s", snap.Source, utils.FormatAge(snap.ObservedAt, time.Now()))),
	)
	output.Box(title, lines)
}

func newHistoryCmd(holder *appHolder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <symbol>",
		Short: "Show recorded price history for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)
			symbol := models.NormalizeSymbol(args[0])
			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}

			points, err := app.Aggregator.GetHistoricalSeries(cmd.Context(), symbol, days)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			if limit > 0 && len(points) > limit {
				points = points[len(points)-limit:]
			}

			if output.IsJSON() {
				return output.JSON(points)
			}
			if len(points) == 0 {
				output.Warning("No price history recorded for %s in the last %d days", symbol, days)
				return nil
			}

			output.Bold("%s price history (%d points)", symbol, len(points))
			table := NewTable(output, "TIME", "PRICE", "VOLUME")
			for _, p := range points {
				table.AddRow(
					p.Timestamp.Local().Format("2006-01-02 15:04:05"),
					utils.FormatUSD(p.Price),
					utils.FormatCompact(p.Volume),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("days", 7, "number of days to include")
	cmd.Flags().Int("limit", 50, "show at most the latest N points (0 for all)")
	return cmd
}

func newMoversCmd(holder *appHolder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "movers",
		Short: "Show the top crypto gainers or losers over 24h",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)
			losers, _ := cmd.Flags().GetBool("losers")
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 || limit > 50 {
				return fmt.Errorf("--limit must be between 1 and 50")
			}

			snaps, err := app.Aggregator.TopMovers(cmd.Context(), limit, !losers)
			if err != nil {
				output.Error("❌ Failed to fetch top movers. Please try again later.")
				return err
			}

			if output.IsJSON() {
				return output.JSON(snaps)
			}

			title := "🚀 Top Gainers (24h)"
			if losers {
				title = "📉 Top Losers (24h)"
			}
			output.Bold("%s", title)
			table := NewTable(output, "#", "SYMBOL", "PRICE", "24H", "VOLUME")
			for i, s := range snaps {
				table.AddRow(
					fmt.Sprintf("%d", i+1),
					s.Symbol,
					utils.FormatUSD(s.Price),
					output.FormatPercent(s.ChangePercent24h),
					utils.FormatCompact(s.Volume24h),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("losers", false, "show losers instead of gainers")
	cmd.Flags().Int("limit", 10, "number of coins to show")
	return cmd
}

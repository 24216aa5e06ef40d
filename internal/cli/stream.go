package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"marketpulse/internal/alert"
	"marketpulse/internal/config"
	"marketpulse/internal/models"
	"marketpulse/internal/resilience"
	"marketpulse/pkg/utils"
)

func addStreamCommands(rootCmd *cobra.Command, holder *appHolder) {
	rootCmd.AddCommand(newServeCmd(holder))
	rootCmd.AddCommand(newWatchCmd(holder))
	rootCmd.AddCommand(newTrackCmd(holder))
	rootCmd.AddCommand(newStatusCmd(holder))
}

// healthInterval is how often 'serve' re-runs health checks.
const healthInterval = 30 * time.Second

func newServeCmd(holder *appHolder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live stream, alert evaluation and retention sweeps",
		Long: `Connect to the live ticker stream for the tracked symbols, keep the
price cache fresh and deliver alerts as prices cross their targets.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)
			statusEvery, _ := cmd.Flags().GetDuration("status-interval")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sweeper := alert.NewSweeper(app.Alerts, app.Config.Alerts.SweepInterval, app.Logger)
			if err := sweeper.Start(); err != nil {
				return err
			}
			defer sweeper.Stop()

			app.Stream.Start()
			defer app.Stream.Stop()

			app.Health.Start(healthInterval)
			defer app.Health.Stop()

			output.Success("✓ Streaming %d symbols, press Ctrl+C to stop", len(app.Stream.TrackedSymbols()))
			app.Logger.Info().
				Strs("symbols", app.Stream.TrackedSymbols()).
				Msg("Serving")

			if statusEvery <= 0 {
				<-ctx.Done()
			} else {
				ticker := time.NewTicker(statusEvery)
				defer ticker.Stop()
			loop:
				for {
					select {
					case <-ctx.Done():
						break loop
					case <-ticker.C:
						output.Dim("%s  health=%s  stream=%s  hub=%d published",
							time.Now().Format("15:04:05"),
							app.Health.Health().Status,
							app.Stream.ConnectionStatus(),
							app.Hub.Metrics().Published)
					}
				}
			}

			output.Info("Shutting down...")
			return nil
		},
	}
	cmd.Flags().Duration("status-interval", 0, "print a status line at this interval (0 disables)")
	return cmd
}

func newWatchCmd(holder *appHolder) *cobra.Command {
	return &cobra.Command{
		Use:     "watch <symbol>...",
		Short:   "Stream live prices for the given symbols",
		Example: "  marketpulse watch btc eth sol",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			updates := make(chan models.Snapshot, len(args)*4)
			for _, arg := range args {
				sym := models.NormalizeSymbol(arg)
				app.Stream.AddSymbol(sym)
				ch := app.Hub.Subscribe(sym)
				defer app.Hub.Unsubscribe(sym, ch)
				go forward(ctx, ch, updates)
			}

			app.Stream.Start()
			defer app.Stream.Stop()

			output.Info("Watching %d symbols, press Ctrl+C to stop", len(args))
			for {
				select {
				case <-ctx.Done():
					return nil
				case snap := <-updates:
					if output.IsJSON() {
						if err := output.JSON(snap); err != nil {
							return err
						}
						continue
					}
					output.Printf("%s  %-8s %14s  %s\n",
						output.DimText(snap.ObservedAt.Local().Format("15:04:05")),
						snap.Symbol,
						utils.FormatUSD(snap.Price),
						output.FormatPercent(snap.ChangePercent24h))
				}
			}
		},
	}
}

func forward(ctx context.Context, in <-chan models.Snapshot, out chan<- models.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}
}

func newTrackCmd(holder *appHolder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Manage the symbols streamed by 'serve'",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked symbols",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbols := holder.app.Stream.TrackedSymbols()
			if output.IsJSON() {
				return output.JSON(symbols)
			}
			if len(symbols) == 0 {
				output.Info("No symbols are tracked. Add one with 'marketpulse track add <symbol>'.")
				return nil
			}
			for _, s := range symbols {
				output.Println(s)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <symbol>...",
		Short: "Track symbols on the live stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeTracked(cmd, holder, args, true)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <symbol>...",
		Aliases: []string{"rm"},
		Short:   "Stop tracking symbols",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeTracked(cmd, holder, args, false)
		},
	})

	return cmd
}

func changeTracked(cmd *cobra.Command, holder *appHolder, args []string, add bool) error {
	app := holder.app
	output := NewOutput(cmd)

	var changed []string
	for _, arg := range args {
		sym := models.NormalizeSymbol(arg)
		var ok bool
		if add {
			ok = app.Stream.AddSymbol(sym)
		} else {
			ok = app.Stream.RemoveSymbol(sym)
		}
		if ok {
			changed = append(changed, sym)
		}
	}

	symbols := app.Stream.TrackedSymbols()
	if len(changed) > 0 {
		if err := config.SaveStreamSymbols(app.ConfigDir, symbols); err != nil {
			return fmt.Errorf("failed to save tracked symbols: %w", err)
		}
		app.Config.Stream.Symbols = symbols
	}

	if output.IsJSON() {
		return output.JSON(map[string]any{"changed": changed, "symbols": symbols})
	}
	if len(changed) == 0 {
		output.Warning("Nothing changed")
		return nil
	}
	verb := "Now tracking"
	if !add {
		verb = "Stopped tracking"
	}
	output.Success("✓ %s %v", verb, changed)
	return nil
}

// statusReport is the JSON shape of 'status'.
type statusReport struct {
	Health         resilience.HealthStatus      `json:"health"`
	Stream         string                       `json:"stream"`
	ReconnectTries int                          `json:"reconnect_attempts"`
	TrackedSymbols []string                     `json:"tracked_symbols"`
	ActiveAlerts   int                          `json:"active_alerts"`
	Components     []resilience.ComponentHealth `json:"components"`
	Providers      map[string]string            `json:"providers"`
	HubPublished   uint64                       `json:"hub_published"`
	NotifyChannels []string                     `json:"notification_channels"`
}

func newStatusCmd(holder *appHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stream, storage and provider health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)
			ctx := cmd.Context()

			health := app.Health.Check(ctx)
			report := statusReport{
				Health:         health.Status,
				Stream:         app.Stream.ConnectionStatus().String(),
				ReconnectTries: app.Stream.Attempts(),
				TrackedSymbols: app.Stream.TrackedSymbols(),
				Components:     health.Components,
				Providers:      make(map[string]string),
				HubPublished:   app.Hub.Metrics().Published,
				NotifyChannels: app.Notifier.Channels(),
			}
			count, err := app.Alerts.ActiveCount(ctx)
			if err != nil {
				return err
			}
			report.ActiveAlerts = count
			for _, s := range app.Aggregator.BreakerStats() {
				report.Providers[s.Name] = string(s.State)
			}

			if output.IsJSON() {
				return output.JSON(report)
			}

			output.Box("Market Pulse Status", []string{
				fmt.Sprintf("Health:         %s", colorHealth(output, report.Health)),
				fmt.Sprintf("Stream:         %s", report.Stream),
				fmt.Sprintf("Tracked:        %v", report.TrackedSymbols),
				fmt.Sprintf("Active alerts:  %d", report.ActiveAlerts),
				fmt.Sprintf("Notifications:  %v", report.NotifyChannels),
			})

			output.Println()
			table := NewTable(output, "CHECK", "STATUS", "DETAIL")
			for _, c := range report.Components {
				table.AddRow(c.Name, colorHealth(output, c.Status), c.Message)
			}
			for _, s := range app.Aggregator.BreakerStats() {
				state := string(s.State)
				if s.State != resilience.CircuitClosed {
					state = output.Yellow(state)
				}
				table.AddRow("circuit:"+s.Name, state, fmt.Sprintf("%d failures", s.TotalFailures))
			}
			table.Render()
			return nil
		},
	}
}

func colorHealth(output *Output, status resilience.HealthStatus) string {
	switch status {
	case resilience.HealthStatusHealthy:
		return output.Green(string(status))
	case resilience.HealthStatusDegraded:
		return output.Yellow(string(status))
	case resilience.HealthStatusUnhealthy:
		return output.Red(string(status))
	}
	return output.DimText(string(status))
}

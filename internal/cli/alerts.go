package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"marketpulse/internal/models"
	"marketpulse/pkg/utils"
)

// ownerEnv supplies the default alert owner, typically a Telegram chat id.
const ownerEnv = "MARKETPULSE_OWNER"

func addAlertCommands(rootCmd *cobra.Command, holder *appHolder) {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Manage price alerts",
		Long: `Create, list and remove price alerts.

Alerts are evaluated against live prices while 'marketpulse serve' runs.
A triggered alert is delivered once to its owner and then retired.`,
	}
	cmd.PersistentFlags().String("owner", os.Getenv(ownerEnv), "alert owner id (default $"+ownerEnv+")")

	cmd.AddCommand(newAlertAddCmd(holder))
	cmd.AddCommand(newAlertListCmd(holder))
	cmd.AddCommand(newAlertRemoveCmd(holder))
	rootCmd.AddCommand(cmd)
}

func ownerFlag(cmd *cobra.Command) (string, error) {
	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		return "", fmt.Errorf("an owner is required: pass --owner or set %s", ownerEnv)
	}
	return owner, nil
}

func newAlertAddCmd(holder *appHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "add <symbol> <above|below> <price>",
		Short: "Create a price alert",
		Example: `  marketpulse alert add btc above 70000
  marketpulse alert add TSLA below 150 --owner 123456789`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)

			owner, err := ownerFlag(cmd)
			if err != nil {
				return err
			}
			symbol := models.NormalizeSymbol(args[0])
			condition, err := models.ParseCondition(args[1])
			if err != nil {
				return err
			}
			target, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[2], err)
			}

			// Verify the symbol exists before storing the alert.
			snap, err := app.Aggregator.GetPrice(cmd.Context(), symbol)
			if err != nil {
				output.Error("❌ %s", describeError(symbol, err))
				return err
			}

			alert, err := app.Alerts.CreateAlert(cmd.Context(), owner, symbol, condition, target)
			if err != nil {
				output.Error("❌ Failed to create alert: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(alert)
			}
			output.Box("✅ Price Alert Created", []string{
				fmt.Sprintf("Symbol:         %s", alert.Symbol),
				fmt.Sprintf("Condition:      %s %s", condition.Symbol(), utils.FormatUSD(target)),
				fmt.Sprintf("Current Price:  %s", utils.FormatUSD(snap.Price)),
				fmt.Sprintf("Alert ID:       %s", alert.ShortID()),
			})
			return nil
		},
	}
}

func newAlertListCmd(holder *appHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your active alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)

			owner, err := ownerFlag(cmd)
			if err != nil {
				return err
			}
			alerts, err := app.Alerts.ListActiveAlerts(cmd.Context(), owner)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Info("You have no active alerts. Create one with 'marketpulse alert add'.")
				return nil
			}

			output.Bold("🔔 Active Alerts (%d)", len(alerts))
			table := NewTable(output, "ID", "SYMBOL", "CONDITION", "CREATED")
			for _, a := range alerts {
				table.AddRow(
					a.ShortID(),
					a.Symbol,
					fmt.Sprintf("%s %s", a.Condition.Symbol(), utils.FormatUSD(a.TargetPrice)),
					a.CreatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newAlertRemoveCmd(holder *appHolder) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <alert-id>",
		Aliases: []string{"rm"},
		Short:   "Remove an alert by id or by the short id shown in 'alert list'",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := holder.app
			output := NewOutput(cmd)

			owner, err := ownerFlag(cmd)
			if err != nil {
				return err
			}
			removed, err := app.Alerts.RemoveAlert(cmd.Context(), owner, args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]any{"id": args[0], "removed": removed})
			}
			if !removed {
				output.Warning("No active alert matching %s was found.", args[0])
				return nil
			}
			output.Success("✓ Alert %s removed", args[0])
			return nil
		},
	}
}

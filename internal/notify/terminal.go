package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"marketpulse/internal/models"
	"marketpulse/pkg/utils"
)

// TerminalDeliverer prints notifications to a terminal, ringing the bell
// for each one.
type TerminalDeliverer struct {
	mu     sync.Mutex
	writer io.Writer
	bell   bool
}

// NewTerminalDeliverer writes to w, or stdout when w is nil.
func NewTerminalDeliverer(w io.Writer) *TerminalDeliverer {
	if w == nil {
		w = os.Stdout
	}
	return &TerminalDeliverer{writer: w, bell: true}
}

// SetBellEnabled enables or disables the terminal bell.
func (td *TerminalDeliverer) SetBellEnabled(enabled bool) {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.bell = enabled
}

// Name returns the channel name.
func (td *TerminalDeliverer) Name() string {
	return "terminal"
}

// Deliver prints the notification.
func (td *TerminalDeliverer) Deliver(_ context.Context, n Notification) error {
	td.mu.Lock()
	defer td.mu.Unlock()

	line := FormatNotification(n)
	if td.bell {
		line = "\a" + line
	}
	_, err := fmt.Fprintln(td.writer, line)
	return err
}

// FormatNotification renders n on one line. Colour follows color.NoColor.
func FormatNotification(n Notification) string {
	paint := color.New(color.FgGreen, color.Bold)
	arrow := "▲"
	if n.Condition == models.ConditionBelow {
		paint = color.New(color.FgRed, color.Bold)
		arrow = "▼"
	}

	var sb strings.Builder
	sb.WriteString(color.New(color.FgHiBlack).Sprintf("[%s]", n.TriggeredAt.Local().Format("15:04:05")))
	sb.WriteString(" ")
	sb.WriteString(paint.Sprintf("%s %s", arrow, n.Symbol))
	sb.WriteString(fmt.Sprintf(" %s (target %s %s)",
		utils.FormatUSD(n.CurrentPrice),
		n.Condition.Symbol(),
		utils.FormatUSD(n.TargetPrice),
	))
	sb.WriteString(color.New(color.FgCyan).Sprintf(" #%s", shortID(n.AlertID)))
	return sb.String()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

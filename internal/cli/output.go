package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"marketpulse/pkg/utils"
)

var (
	styleGreen  = color.New(color.FgGreen)
	styleRed    = color.New(color.FgRed)
	styleYellow = color.New(color.FgYellow)
	styleCyan   = color.New(color.FgCyan)
	styleBold   = color.New(color.Bold)
	styleDim    = color.New(color.Faint)
)

// Output writes human or JSON output for a command.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates an Output for cmd honoring --json. Color is only used
// when writing to an interactive stdout.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	writer := cmd.OutOrStdout()
	return &Output{
		writer:       writer,
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && !color.NoColor && writer == os.Stdout && isatty.IsTerminal(os.Stdout.Fd()),
	}
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON writes data as indented JSON.
func (o *Output) JSON(data any) error {
	enc := json.NewEncoder(o.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...any) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a line in green.
func (o *Output) Success(format string, args ...any) { o.line(styleGreen, format, args...) }

// Error prints a line in red.
func (o *Output) Error(format string, args ...any) { o.line(styleRed, format, args...) }

// Warning prints a line in yellow.
func (o *Output) Warning(format string, args ...any) { o.line(styleYellow, format, args...) }

// Info prints a line in cyan.
func (o *Output) Info(format string, args ...any) { o.line(styleCyan, format, args...) }

// Bold prints a bold line.
func (o *Output) Bold(format string, args ...any) { o.line(styleBold, format, args...) }

// Dim prints a faint line.
func (o *Output) Dim(format string, args ...any) { o.line(styleDim, format, args...) }

func (o *Output) line(style *color.Color, format string, args ...any) {
	fmt.Fprintln(o.writer, o.paint(style, fmt.Sprintf(format, args...)))
}

// paint styles text when color is enabled. Styles are forced on because the
// package-level color.NoColor only looks at the process stdout.
func (o *Output) paint(style *color.Color, text string) string {
	if !o.colorEnabled {
		return text
	}
	c := *style
	c.EnableColor()
	return c.Sprint(text)
}

// Green returns green text.
func (o *Output) Green(text string) string { return o.paint(styleGreen, text) }

// Red returns red text.
func (o *Output) Red(text string) string { return o.paint(styleRed, text) }

// Yellow returns yellow text.
func (o *Output) Yellow(text string) string { return o.paint(styleYellow, text) }

// DimText returns faint text.
func (o *Output) DimText(text string) string { return o.paint(styleDim, text) }

func (o *Output) signed(v float64, text string) string {
	switch {
	case v > 0:
		return o.Green(text)
	case v < 0:
		return o.Red(text)
	}
	return text
}

// FormatPercent formats a percentage, green when up and red when down.
func (o *Output) FormatPercent(pct float64) string {
	return o.signed(pct, utils.FormatPercent(pct))
}

// FormatChange formats an absolute change, green when up and red when down.
func (o *Output) FormatChange(change float64) string {
	return o.signed(change, utils.FormatChange(change))
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// displayWidth counts runes after stripping color codes.
func displayWidth(s string) int {
	return utf8.RuneCountInString(ansiPattern.ReplaceAllString(s, ""))
}

func padRight(s string, width int) string {
	if pad := width - displayWidth(s); pad > 0 {
		return s + strings.Repeat(" ", pad)
	}
	return s
}

// Table buffers rows and renders them as aligned columns.
type Table struct {
	output  *Output
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given headers.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{output: output, headers: headers}
}

// AddRow appends a row. Cells beyond the header count are ignored.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the header, a rule and every row.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = displayWidth(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], displayWidth(row[i]))
		}
	}

	header := make([]string, len(t.headers))
	rule := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = t.output.paint(styleBold, padRight(h, widths[i]))
		rule[i] = strings.Repeat("─", widths[i])
	}
	t.writeRow(header)
	t.output.Println(t.output.DimText(strings.Join(rule, "──")))

	for _, row := range t.rows {
		cells := make([]string, 0, len(widths))
		for i := 0; i < len(row) && i < len(widths); i++ {
			cells = append(cells, padRight(row[i], widths[i]))
		}
		t.writeRow(cells)
	}
}

func (t *Table) writeRow(cells []string) {
	t.output.Println(strings.TrimRight(strings.Join(cells, "  "), " "))
}

// Box draws a titled frame around lines.
func (o *Output) Box(title string, lines []string) {
	inner := displayWidth(title)
	for _, l := range lines {
		inner = max(inner, displayWidth(l))
	}
	bar := strings.Repeat("─", inner+2)
	side := o.DimText("│")

	o.Println(o.DimText("┌" + bar + "┐"))
	o.Printf("%s %s %s\n", side, o.paint(styleBold, padRight(title, inner)), side)
	o.Println(o.DimText("├" + bar + "┤"))
	for _, l := range lines {
		o.Printf("%s %s %s\n", side, padRight(l, inner), side)
	}
	o.Println(o.DimText("└" + bar + "┘"))
}

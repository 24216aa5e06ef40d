// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatUSD formats a price in dollars with thousands separators, keeping
// between 2 and 6 fractional digits.
func FormatUSD(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.6f", amount)
	parts := strings.Split(str, ".")
	intPart := parts[0]
	decPart := strings.TrimRight(parts[1], "0")
	for len(decPart) < 2 {
		decPart += "0"
	}

	result := "$" + groupThousands(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// FormatWholeUSD formats a large amount (volume, market cap) without decimals.
func FormatWholeUSD(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	result := "$" + groupThousands(fmt.Sprintf("%.0f", amount))
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts commas every three digits.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var sb strings.Builder
	head := n % 3
	if head > 0 {
		sb.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatChange formats an absolute price change with sign.
func FormatChange(change float64) string {
	formatted := FormatUSD(change)
	if change > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatCompact formats a number in compact form (K/M/B/T).
func FormatCompact(amount float64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 1e12:
		return fmt.Sprintf("$%.2fT", amount/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("$%.2fB", amount/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("$%.2fM", amount/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("$%.2fK", amount/1e3)
	}
	return FormatUSD(amount)
}

// FormatAge renders how long ago t was, e.g. "45s ago".
func FormatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

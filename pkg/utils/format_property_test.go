package utils

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var usdPattern = regexp.MustCompile(`^-?\$\d{1,3}(,\d{3})*\.\d{2,6}$`)

// Property: FormatUSD output is grouped by thousands, carries 2 to 6
// fractional digits and parses back to the rounded value.
func TestProperty_USDFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatUSD produces grouped dollar amounts", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatUSD(amount)
			if !usdPattern.MatchString(formatted) {
				t.Logf("unexpected format for %f: %s", amount, formatted)
				return false
			}

			raw := strings.NewReplacer("$", "", ",", "").Replace(formatted)
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return false
			}
			return math.Abs(parsed-amount) <= 1e-6*math.Max(1, math.Abs(amount))
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.TestingRun(t)
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{1, "$1.00"},
		{999.5, "$999.50"},
		{1234.5, "$1,234.50"},
		{50000, "$50,000.00"},
		{1234567.891, "$1,234,567.891"},
		{0.00012345, "$0.000123"},
		{-42.1, "-$42.10"},
	}
	for _, tt := range tests {
		if got := FormatUSD(tt.in); got != tt.want {
			t.Errorf("FormatUSD(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatWholeUSD(1234567.6); got != "$1,234,568" {
		t.Errorf("FormatWholeUSD = %s", got)
	}
	if got := FormatPercent(2.5); got != "+2.50%" {
		t.Errorf("FormatPercent = %s", got)
	}
	if got := FormatPercent(-1.25); got != "-1.25%" {
		t.Errorf("FormatPercent = %s", got)
	}
	if got := FormatChange(10); got != "+$10.00" {
		t.Errorf("FormatChange = %s", got)
	}
	if got := FormatCompact(2.5e9); got != "$2.50B" {
		t.Errorf("FormatCompact = %s", got)
	}
	if got := FormatCompact(12); got != "$12.00" {
		t.Errorf("FormatCompact = %s", got)
	}

	now := time.Now()
	if got := FormatAge(now.Add(-45*time.Second), now); got != "45s ago" {
		t.Errorf("FormatAge = %s", got)
	}
	if got := FormatAge(now.Add(-3*time.Hour), now); got != "3h ago" {
		t.Errorf("FormatAge = %s", got)
	}
}

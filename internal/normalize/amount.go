// Package normalize converts free-text statement amounts and dates into
// integer minor units and calendar dates.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// SignConvention decides how an unsigned amount is interpreted.
type SignConvention int

const (
	// AsAuthored keeps the sign written in the source. CR forces positive, DR negative.
	AsAuthored SignConvention = iota
	// ChargesNegative treats every amount as a charge unless it carries a CR
	// suffix. Card statements print charges unsigned.
	ChargesNegative
)

// maxMinorUnits bounds parsed amounts so int64 arithmetic on sums cannot overflow.
const maxMinorUnits = 1_000_000_000_000_000

var (
	currencySymbols = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", "₹", "", ",", "", " ", "", "\u00a0", "")
	plainNumber     = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
	hundred         = decimal.NewFromInt(100)
)

// ParseAmount parses text as written, returning minor units.
//
//	"1,285.00"  -> 128500
//	"(100.00)"  -> -10000
//	"100.00-"   -> -10000
//	"$50.00CR"  -> 5000
func ParseAmount(text string) (int64, error) {
	return ParseAmountWith(text, AsAuthored)
}

// ParseAmountWith parses text under the given sign convention. Values are
// rounded half away from zero to the nearest minor unit.
func ParseAmountWith(text string, convention SignConvention) (int64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", domain.ErrFormat)
	}

	credit, debit := false, false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "CR"):
		credit = true
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(upper, "DR"):
		debit = true
		s = strings.TrimSpace(s[:len(s)-2])
	}

	s = currencySymbols.Replace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = s[:len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	if !plainNumber.MatchString(s) {
		return 0, fmt.Errorf("%w: amount %q is not numeric", domain.ErrFormat, text)
	}

	value, err := decimal.NewFromString(strings.TrimSuffix(s, "."))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", domain.ErrFormat, text, err)
	}

	// Round(2) rounds half away from zero.
	minor := value.Round(2).Mul(hundred)
	if minor.GreaterThan(decimal.NewFromInt(maxMinorUnits)) {
		return 0, fmt.Errorf("%w: amount %q is out of range", domain.ErrFormat, text)
	}
	magnitude := minor.IntPart()

	switch {
	case credit:
		return magnitude, nil
	case debit:
		return -magnitude, nil
	case convention == ChargesNegative:
		return -magnitude, nil
	case negative:
		return -magnitude, nil
	default:
		return magnitude, nil
	}
}

// FormatAmount renders minor units in canonical form, e.g. -1050.00.
// ParseAmount(FormatAmount(n)) == n for every n in range.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

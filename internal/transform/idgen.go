// Package transform turns parser output into ledger records: source tags,
// account naming, and ParsedTransaction to Transaction conversion.
package transform

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a name to a URL-safe slug.
// Examples: "American Express" → "american-express", "Café Crédit" → "cafe-credit"
func Slugify(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name cannot be empty")
	}

	// Strip accents
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, name)
	if err != nil {
		return "", fmt.Errorf("failed to normalize name %q: %w", name, err)
	}
	if normalized == "" {
		return "", fmt.Errorf("name %q contains only non-displayable unicode characters", name)
	}

	slug := nonAlnum.ReplaceAllString(strings.ToLower(normalized), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", fmt.Errorf("name %q contains no alphanumeric characters", name)
	}
	return slug, nil
}

// SourceTag returns the import_source recorded on imported transactions.
// Documents carry the detected issuer: "document:american-express". An
// issuer that cannot be slugified is dropped.
func SourceTag(format parser.Format, issuer string) string {
	if format != parser.FormatDocument || issuer == "" {
		return string(format)
	}
	slug, err := Slugify(issuer)
	if err != nil {
		return string(format)
	}
	return string(format) + ":" + slug
}

// ExtractLast4 returns the last 4 characters of the account number.
// If the account number has fewer than 4 characters, returns the full number.
func ExtractLast4(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return accountNumber[len(accountNumber)-4:]
}

// AccountName builds a display name from an institution and account number.
// Examples: ("American Express", "3782822463") → "American Express 2463",
// ("", "1234") → "Account 1234"
func AccountName(institution, accountNumber string) string {
	institution = strings.TrimSpace(institution)
	last4 := ExtractLast4(strings.TrimSpace(accountNumber))
	switch {
	case institution == "" && last4 == "":
		return ""
	case institution == "":
		return "Account " + last4
	case last4 == "":
		return institution
	}
	return institution + " " + last4
}

// MapAccountType converts a free-form account type to the domain enum.
func MapAccountType(rawType string) (domain.AccountType, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawType))

	switch normalized {
	case "checking", "checking account":
		return domain.AccountTypeChecking, nil
	case "savings", "savings account", "money market":
		return domain.AccountTypeSavings, nil
	case "credit", "credit card", "creditcard":
		return domain.AccountTypeCredit, nil
	case "investment", "brokerage":
		return domain.AccountTypeInvestment, nil
	case "cash":
		return domain.AccountTypeCash, nil
	default:
		return "", fmt.Errorf("%w: unknown account type %q", domain.ErrValidation, rawType)
	}
}

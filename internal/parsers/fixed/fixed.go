// Package fixed parses line-oriented bank text exports where each row starts
// with a fixed-width date and ends with right-aligned amount and balance
// columns.
package fixed

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

// DefaultPreviewRows is the preview size used when the caller passes 0.
const DefaultPreviewRows = 20

const (
	dateWidth    = 10
	minRowLength = 15
	// amountGap is the run of spaces that separates the description from
	// the right-aligned numeric columns.
	amountGap = 3
)

// Result is the outcome of a preview or parse.
type Result struct {
	Transactions     []domain.ParsedTransaction `json:"transactions"`
	TotalRows        int                        `json:"totalRows"`
	BeginningBalance *int64                     `json:"beginningBalance,omitempty"`
	EndingBalance    *int64                     `json:"endingBalance,omitempty"`
}

// row is one transaction line before conversion.
type row struct {
	date        domain.Date
	dateText    string
	description string
	amount      int64
	amountText  string
	balance     *int64
	balanceText string
}

// Preview parses the export and keeps at most limit transactions.
// TotalRows always reports the full count.
func Preview(ctx context.Context, r io.Reader, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	return parse(ctx, r, limit)
}

// Parse returns every transaction in the export.
func Parse(ctx context.Context, r io.Reader) (*Result, error) {
	return parse(ctx, r, -1)
}

func parse(ctx context.Context, r io.Reader, limit int) (*Result, error) {
	text, err := parser.DecodeReader(r)
	if err != nil {
		return nil, err
	}

	result := &Result{Transactions: []domain.ParsedTransaction{}}
	inTable := false

	for i, line := range strings.Split(text, "\n") {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		switch {
		case strings.HasPrefix(lower, "beginning balance as of"):
			if amt, ok := lastAmount(trimmed); ok {
				result.BeginningBalance = &amt
			}
		case strings.HasPrefix(lower, "ending balance as of"):
			if amt, ok := lastAmount(trimmed); ok {
				result.EndingBalance = &amt
			}
		}

		if isHeader(lower) {
			inTable = true
			continue
		}
		if !inTable || trimmed == "" {
			continue
		}

		rw, ok := parseRow(line)
		if !ok {
			continue
		}

		desc := strings.ToLower(rw.description)
		switch {
		case strings.Contains(desc, "beginning balance"):
			if result.BeginningBalance == nil {
				v := rw.closingValue()
				result.BeginningBalance = &v
			}
			continue
		case strings.Contains(desc, "ending balance"):
			if result.EndingBalance == nil {
				v := rw.closingValue()
				result.EndingBalance = &v
			}
			continue
		}

		result.TotalRows++
		if limit < 0 || len(result.Transactions) < limit {
			result.Transactions = append(result.Transactions, rw.toParsed())
		}
	}

	return result, nil
}

// isHeader reports whether a lowercased, trimmed line is the table header.
func isHeader(lower string) bool {
	collapsed := strings.Join(strings.Fields(lower), " ")
	return strings.HasPrefix(collapsed, "date") &&
		strings.Contains(collapsed, "description") &&
		strings.Contains(collapsed, "amount")
}

func parseRow(line string) (row, bool) {
	if len(line) < minRowLength {
		return row{}, false
	}

	dateText := strings.TrimSpace(line[:dateWidth])
	date, err := normalize.ParseDate(dateText, "")
	if err != nil {
		return row{}, false
	}

	start := amountStart(line)
	var tokens []string
	if start < len(line) {
		tokens = numericTokens(strings.Fields(line[start:]))
	} else {
		tokens = trailingNumericTokens(strings.Fields(line[dateWidth:]))
	}

	amounts := make([]int64, 0, len(tokens))
	texts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		amt, err := normalize.ParseAmount(tok)
		if err != nil {
			continue
		}
		amounts = append(amounts, amt)
		texts = append(texts, tok)
	}
	if len(amounts) == 0 {
		return row{}, false
	}
	if len(amounts) > 2 {
		amounts = amounts[len(amounts)-2:]
		texts = texts[len(texts)-2:]
	}

	rw := row{
		date:        date,
		dateText:    dateText,
		description: describe(line, start, len(texts)),
		amount:      amounts[0],
		amountText:  texts[0],
	}
	if len(amounts) == 2 {
		rw.balance = &amounts[1]
		rw.balanceText = texts[1]
	}
	return rw, true
}

// amountStart finds the first digit or '-' after the date that is preceded
// by at least amountGap spaces. It returns len(line) when there is none.
func amountStart(line string) int {
	spaces := 0
	for i := dateWidth; i < len(line); i++ {
		c := line[i]
		if c == ' ' {
			spaces++
			continue
		}
		if spaces >= amountGap && (isDigit(c) || c == '-') {
			return i
		}
		spaces = 0
	}
	return len(line)
}

// describe returns the text between the date and the amount region. Without
// an amount region it drops the trailing numeric tokens instead.
func describe(line string, start, numeric int) string {
	if start < len(line) {
		return strings.TrimSpace(line[dateWidth:start])
	}
	fields := strings.Fields(line[dateWidth:])
	if numeric > len(fields) {
		numeric = len(fields)
	}
	return strings.Join(fields[:len(fields)-numeric], " ")
}

func numericTokens(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if isNumeric(f) {
			out = append(out, f)
		}
	}
	return out
}

// trailingNumericTokens reads fields right to left until a non-numeric field
// or two numeric ones, and returns them in line order.
func trailingNumericTokens(fields []string) []string {
	var out []string
	for i := len(fields) - 1; i >= 0 && len(out) < 2; i-- {
		if !isNumeric(fields[i]) {
			break
		}
		out = append([]string{fields[i]}, out...)
	}
	return out
}

func isNumeric(s string) bool {
	hasDigit := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isDigit(c):
			hasDigit = true
		case c == '.' || c == ',' || c == '-':
		default:
			return false
		}
	}
	return hasDigit
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func lastAmount(line string) (int64, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, false
	}
	amt, err := normalize.ParseAmount(fields[len(fields)-1])
	if err != nil {
		return 0, false
	}
	return amt, true
}

// closingValue is the running balance when present, else the amount.
func (r row) closingValue() int64 {
	if r.balance != nil {
		return *r.balance
	}
	return r.amount
}

func (r row) toParsed() domain.ParsedTransaction {
	raw := domain.Fields{
		{Name: "date", Value: r.dateText},
		{Name: "description", Value: r.description},
		{Name: "amount", Value: r.amountText},
	}
	if r.balance != nil {
		raw = append(raw, domain.Field{Name: "running_balance", Value: r.balanceText})
	}
	return domain.ParsedTransaction{
		Date:      r.date,
		Amount:    r.amount,
		Payee:     r.description,
		Memo:      r.description,
		RawFields: raw,
	}
}

// Parser detects fixed-layout text exports.
type Parser struct{}

// NewParser returns a fixed-layout detector.
func NewParser() *Parser { return &Parser{} }

// Name returns the parser identifier
func (p *Parser) Name() string { return "fixed-layout" }

// Format returns parser.FormatFixedLayout
func (p *Parser) Format() parser.Format { return parser.FormatFixedLayout }

// CanParse accepts .txt files whose first bytes carry a balance summary or
// the transaction table header.
func (p *Parser) CanParse(path string, header []byte) bool {
	if !strings.EqualFold(filepath.Ext(path), ".txt") {
		return false
	}
	text, err := parser.Decode(header)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(lower, "beginning balance as of") || isHeader(lower) {
			return true
		}
	}
	return false
}

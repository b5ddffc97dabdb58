// Package csv parses delimited bank exports and spreadsheets into
// transactions using a caller supplied column mapping.
package csv

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

// DefaultPreviewRows is the preview size used when the caller passes 0.
const DefaultPreviewRows = 10

// ctxCheckInterval controls how often long parses look at ctx.
const ctxCheckInterval = 256

// RowReader yields one record per call and io.EOF at the end.
// *encoding/csv.Reader satisfies it.
type RowReader interface {
	Read() ([]string, error)
}

// PreviewResult holds the headers and first rows of a source.
type PreviewResult struct {
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
	TotalRows int        `json:"totalRows"`
}

// ParseResult holds the transactions of every row that parsed, plus the
// failures of the rows that did not.
type ParseResult struct {
	Headers      []string                   `json:"headers"`
	Transactions []domain.ParsedTransaction `json:"transactions"`
	RowErrors    []RowError                 `json:"rowErrors,omitempty"`
}

// RowError is a recoverable failure of a single data row. Row is the 1-based
// record number in the source, the header being row 1.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error message as a string.
func (e RowError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Row   int    `json:"row"`
		Error string `json:"error"`
	}{e.Row, e.Err.Error()})
}

// NewReader decodes r to UTF-8 and returns a lenient record reader over it.
func NewReader(r io.Reader, delimiter rune) (RowReader, error) {
	text, err := parser.DecodeReader(r)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(strings.NewReader(text))
	if delimiter != 0 {
		cr.Comma = delimiter
	}
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr, nil
}

// Preview reads headers and the first maxRows rows of delimited text.
func Preview(ctx context.Context, r io.Reader, maxRows int, delimiter rune) (*PreviewResult, error) {
	rows, err := NewReader(r, delimiter)
	if err != nil {
		return nil, err
	}
	return PreviewRows(ctx, rows, maxRows)
}

// Parse reads delimited text with the given mapping.
func Parse(ctx context.Context, r io.Reader, mapping *ColumnMapping) (*ParseResult, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	delimiter, _ := mapping.delimiter()

	rows, err := NewReader(r, delimiter)
	if err != nil {
		return nil, err
	}
	return ParseRows(ctx, rows, mapping)
}

// PreviewRows previews records from any row source. Rows that fail to read
// still count toward TotalRows.
func PreviewRows(ctx context.Context, rows RowReader, maxRows int) (*PreviewResult, error) {
	if maxRows <= 0 {
		maxRows = DefaultPreviewRows
	}

	headers, err := readHeader(rows)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{Headers: headers, Rows: [][]string{}}
	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := rows.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if recoverable(err) {
				result.TotalRows++
				continue
			}
			return nil, fmt.Errorf("%w: failed to read row: %v", domain.ErrSourceUnreadable, err)
		}
		if blank(record) {
			continue
		}

		result.TotalRows++
		if len(result.Rows) < maxRows {
			result.Rows = append(result.Rows, record)
		}
	}
	return result, nil
}

// ParseRows converts records from any row source. Row failures are
// collected in RowErrors and never abort the parse.
func ParseRows(ctx context.Context, rows RowReader, mapping *ColumnMapping) (*ParseResult, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	headers, err := readHeader(rows)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{Headers: headers, Transactions: []domain.ParsedTransaction{}}
	rowNum := 1
	for {
		if rowNum%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := rows.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			if recoverable(err) {
				result.RowErrors = append(result.RowErrors, RowError{Row: rowNum, Err: fmt.Errorf("%w: %v", domain.ErrFormat, err)})
				continue
			}
			return nil, fmt.Errorf("%w: failed to read row %d: %v", domain.ErrSourceUnreadable, rowNum, err)
		}
		if blank(record) {
			continue
		}

		txn, err := parseRecord(headers, record, mapping)
		if err != nil {
			result.RowErrors = append(result.RowErrors, RowError{Row: rowNum, Err: err})
			continue
		}
		result.Transactions = append(result.Transactions, *txn)
	}
	return result, nil
}

func readHeader(rows RowReader) ([]string, error) {
	record, err := rows.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: source has no header row", domain.ErrSourceUnreadable)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header row: %v", domain.ErrSourceUnreadable, err)
	}

	headers := make([]string, len(record))
	for i, h := range record {
		headers[i] = strings.TrimSpace(h)
	}
	return headers, nil
}

func parseRecord(headers, record []string, mapping *ColumnMapping) (*domain.ParsedTransaction, error) {
	dateText, ok := cell(record, &mapping.DateColumn)
	if !ok {
		return nil, fmt.Errorf("%w: missing date column %d", domain.ErrFormat, mapping.DateColumn)
	}
	date, err := normalize.ParseDate(dateText, mapping.DateFormat)
	if err != nil {
		return nil, err
	}

	amount, err := recordAmount(record, mapping)
	if err != nil {
		return nil, err
	}
	if mapping.InvertAmounts {
		amount = -amount
	}

	txn := &domain.ParsedTransaction{
		Date:         date,
		Amount:       amount,
		Payee:        optional(record, mapping.PayeeColumn),
		Memo:         optional(record, mapping.MemoColumn),
		CategoryHint: optional(record, mapping.CategoryColumn),
		RawFields:    make(domain.Fields, 0, len(headers)),
	}
	for i, h := range headers {
		if i < len(record) {
			txn.RawFields = append(txn.RawFields, domain.Field{Name: h, Value: record[i]})
		}
	}
	return txn, nil
}

func recordAmount(record []string, mapping *ColumnMapping) (int64, error) {
	if mapping.DebitColumn != nil && mapping.CreditColumn != nil {
		debitText, _ := cell(record, mapping.DebitColumn)
		creditText, _ := cell(record, mapping.CreditColumn)
		if debitText == "" && creditText == "" {
			return 0, fmt.Errorf("%w: both debit and credit are empty", domain.ErrFormat)
		}

		debit, err := amountOrZero(debitText)
		if err != nil {
			return 0, err
		}
		credit, err := amountOrZero(creditText)
		if err != nil {
			return 0, err
		}
		return credit - debit, nil
	}

	text, ok := cell(record, mapping.AmountColumn)
	if !ok {
		return 0, fmt.Errorf("%w: missing amount column %d", domain.ErrFormat, *mapping.AmountColumn)
	}
	if text == "" {
		return 0, fmt.Errorf("%w: empty amount", domain.ErrFormat)
	}
	return normalize.ParseAmount(text)
}

func amountOrZero(text string) (int64, error) {
	if text == "" {
		return 0, nil
	}
	return normalize.ParseAmount(text)
}

// cell returns the trimmed value at col and whether the column exists.
func cell(record []string, col *int) (string, bool) {
	if col == nil || *col >= len(record) {
		return "", false
	}
	return strings.TrimSpace(record[*col]), true
}

func optional(record []string, col *int) string {
	v, _ := cell(record, col)
	return v
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func recoverable(err error) bool {
	var parseErr *csv.ParseError
	return errors.As(err, &parseErr)
}

// DelimiterFor returns the conventional delimiter for a file path.
func DelimiterFor(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t'
	}
	return ','
}

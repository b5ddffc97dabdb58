package csv

import (
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
)

// ColumnMapping tells Parse which zero-based columns hold which fields.
//
// Either AmountColumn or both DebitColumn and CreditColumn must be set. When
// debit and credit columns are present they take precedence and the amount is
// credit minus debit.
type ColumnMapping struct {
	DateColumn     int    `yaml:"date_column" json:"dateColumn"`
	AmountColumn   *int   `yaml:"amount_column,omitempty" json:"amountColumn,omitempty"`
	DebitColumn    *int   `yaml:"debit_column,omitempty" json:"debitColumn,omitempty"`
	CreditColumn   *int   `yaml:"credit_column,omitempty" json:"creditColumn,omitempty"`
	PayeeColumn    *int   `yaml:"payee_column,omitempty" json:"payeeColumn,omitempty"`
	MemoColumn     *int   `yaml:"memo_column,omitempty" json:"memoColumn,omitempty"`
	CategoryColumn *int   `yaml:"category_column,omitempty" json:"categoryColumn,omitempty"`
	DateFormat     string `yaml:"date_format,omitempty" json:"dateFormat,omitempty"`
	InvertAmounts  bool   `yaml:"invert_amounts,omitempty" json:"invertAmounts,omitempty"`
	// Delimiter is a single character; empty means comma.
	Delimiter string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
}

// Col returns a pointer to i, for building mappings in code.
func Col(i int) *int {
	return &i
}

// Validate checks that the mapping can drive a parse.
func (m *ColumnMapping) Validate() error {
	if m.DateColumn < 0 {
		return fmt.Errorf("%w: date column must not be negative", domain.ErrValidation)
	}

	split := m.DebitColumn != nil && m.CreditColumn != nil
	if m.AmountColumn == nil && !split {
		return fmt.Errorf("%w: mapping needs an amount column or both debit and credit columns", domain.ErrValidation)
	}

	optional := map[string]*int{
		"amount":   m.AmountColumn,
		"debit":    m.DebitColumn,
		"credit":   m.CreditColumn,
		"payee":    m.PayeeColumn,
		"memo":     m.MemoColumn,
		"category": m.CategoryColumn,
	}
	for name, col := range optional {
		if col != nil && *col < 0 {
			return fmt.Errorf("%w: %s column must not be negative", domain.ErrValidation, name)
		}
	}

	if m.DateFormat != "" {
		if _, err := normalize.Layout(m.DateFormat); err != nil {
			return err
		}
	}

	if _, err := m.delimiter(); err != nil {
		return err
	}
	return nil
}

// DelimiterOr returns the configured delimiter, or fallback when the
// mapping sets none. Call after Validate.
func (m *ColumnMapping) DelimiterOr(fallback rune) rune {
	if m.Delimiter == "" {
		return fallback
	}
	r, _ := m.delimiter()
	return r
}

func (m *ColumnMapping) delimiter() (rune, error) {
	return parseDelimiter(m.Delimiter)
}

func parseDelimiter(s string) (rune, error) {
	switch {
	case s == "":
		return ',', nil
	case s == `\t` || s == "tab":
		return '\t', nil
	case utf8.RuneCountInString(s) == 1:
		r, _ := utf8.DecodeRuneInString(s)
		if r == '"' || r == '\r' || r == '\n' {
			return 0, fmt.Errorf("%w: invalid delimiter %q", domain.ErrValidation, s)
		}
		return r, nil
	default:
		return 0, fmt.Errorf("%w: delimiter must be a single character, got %q", domain.ErrValidation, s)
	}
}

// ParseMapping decodes a YAML column mapping and validates it.
func ParseMapping(data []byte) (*ColumnMapping, error) {
	var m ColumnMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: failed to parse column mapping: %v", domain.ErrValidation, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadMapping reads a YAML column mapping file.
func LoadMapping(path string) (*ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read column mapping %s: %w", path, err)
	}
	m, err := ParseMapping(data)
	if err != nil {
		return nil, fmt.Errorf("invalid column mapping %s: %w", path, err)
	}
	return m, nil
}

// Package validate checks parsed transactions before they are imported.
package validate

import (
	"fmt"
	"strconv"

	"github.com/rumor-ml/commons.systems/tally/internal/dedup"
	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
)

// LargeAmount is the magnitude, in minor units, above which an amount is
// reported as implausible.
const LargeAmount int64 = 100_000_000

// ValidationResult contains all validation errors and warnings for a batch
type ValidationResult struct {
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

// ValidationError represents a problem that blocks the import
type ValidationError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Valid reports whether the batch has no errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns nil for a valid batch, otherwise an ErrValidation naming the
// first error.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	if len(r.Errors) == 1 {
		return fmt.Errorf("%w: row %d: %s", domain.ErrValidation, first.Row, first.Message)
	}
	return fmt.Errorf("%w: row %d: %s (and %d more)", domain.ErrValidation, first.Row, first.Message, len(r.Errors)-1)
}

// ValidateBatch checks each transaction. Rows are numbered from 0 in input
// order. Dates after today are warnings, not errors: card statements
// sometimes post ahead of the local date.
func ValidateBatch(txns []domain.ParsedTransaction, today domain.Date) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	seen := dedup.NewIndex()
	for i, txn := range txns {
		if txn.Date.IsZero() {
			result.Errors = append(result.Errors, ValidationError{
				Row:     i,
				Field:   "Date",
				Message: "transaction date cannot be empty",
			})
		} else if txn.Date.After(today) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Row:     i,
				Field:   "Date",
				Value:   txn.Date.String(),
				Message: fmt.Sprintf("date %s is in the future", txn.Date),
			})
		}

		switch {
		case txn.Amount == 0:
			result.Warnings = append(result.Warnings, ValidationWarning{
				Row:     i,
				Field:   "Amount",
				Value:   "0",
				Message: "amount is zero",
			})
		case txn.Amount > LargeAmount || txn.Amount < -LargeAmount:
			result.Warnings = append(result.Warnings, ValidationWarning{
				Row:     i,
				Field:   "Amount",
				Value:   normalize.FormatAmount(txn.Amount),
				Message: fmt.Sprintf("amount %s is implausibly large", normalize.FormatAmount(txn.Amount)),
			})
		}

		if txn.Payee == "" {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Row:     i,
				Field:   "Payee",
				Message: "payee is empty; the row can only be categorized by hand",
			})
		}

		if !txn.Date.IsZero() && !seen.Observe(dedup.KeyOf("", txn).Fingerprint()) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Row:     i,
				Field:   "Row",
				Value:   strconv.Itoa(i),
				Message: "row repeats an earlier row and will be skipped on import",
			})
		}
	}

	return result
}

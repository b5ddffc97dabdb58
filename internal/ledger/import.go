package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/dedup"
	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
	"github.com/rumor-ml/commons.systems/tally/internal/transform"
)

// DefaultSource is the import source recorded when the caller gives none.
const DefaultSource = "csv"

// ImportTransactions persists txns into the account, skipping duplicates of
// non-deleted transactions (same date, amount, and payee). Rows repeated
// within txns are duplicates of each other too. Category comes from an
// existing explicit CategoryID, else the category named by CategoryHint
// (ignoring case), else none. Rows that fail to insert are counted as
// Failed and the batch continues.
//
// After the inserts the account balance is recomputed and category rules
// run over the new transactions, all in the same database transaction.
func (l *Ledger) ImportTransactions(ctx context.Context, accountID, source string, txns []domain.ParsedTransaction) (*domain.ImportResult, error) {
	if source == "" {
		source = DefaultSource
	}
	log := logger.FromContext(ctx).With().Str("account", accountID).Str("source", source).Logger()

	batch := transform.NewBatch(accountID, source, l.now().UTC())
	result := &domain.ImportResult{BatchID: batch.ID}

	err := l.store.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAccount(accountID); err != nil {
			return err
		}

		resolve, err := newCategoryResolver(tx)
		if err != nil {
			return err
		}

		var inserted []string
		for i, parsed := range txns {
			if err := ctx.Err(); err != nil {
				return err
			}
			if parsed.Date.IsZero() {
				log.Warn().Int("row", i).Msg("skipping transaction without a date")
				result.Failed++
				continue
			}

			key := dedup.KeyOf(accountID, parsed)
			if _, dup, err := tx.FindDuplicate(key); err != nil {
				return err
			} else if dup {
				result.Skipped++
				continue
			}

			txn := batch.ToTransaction(parsed, resolve(parsed))
			if err := tx.InsertTransaction(txn); err != nil {
				log.Warn().Err(err).Int("row", i).Msg("failed to insert transaction")
				result.Failed++
				continue
			}
			inserted = append(inserted, txn.ID)
		}
		result.Imported = len(inserted)

		if _, err := tx.RecomputeBalance(accountID, batch.At); err != nil {
			return fmt.Errorf("failed to recompute balance: %w", err)
		}

		if len(inserted) > 0 {
			n, err := categorize(ctx, tx, inserted, batch.At)
			if err != nil {
				return fmt.Errorf("failed to categorize imported transactions: %w", err)
			}
			result.Categorized = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("batch", result.BatchID).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("categorized", result.Categorized).
		Msg("import complete")
	return result, nil
}

// newCategoryResolver loads the category table once and returns the
// per-row category lookup.
func newCategoryResolver(tx store.Tx) (func(domain.ParsedTransaction) string, error) {
	categories, err := tx.ListCategories()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(categories))
	byName := make(map[string]string, len(categories))
	for _, c := range categories {
		ids[c.ID] = struct{}{}
		byName[strings.ToLower(c.Name)] = c.ID
	}

	return func(p domain.ParsedTransaction) string {
		if p.CategoryID != "" {
			if _, ok := ids[p.CategoryID]; ok {
				return p.CategoryID
			}
		}
		if p.CategoryHint != "" {
			return byName[strings.ToLower(strings.TrimSpace(p.CategoryHint))]
		}
		return ""
	}, nil
}

// PlanAction is what an import would do with one row.
type PlanAction string

const (
	PlanImport PlanAction = "import"
	// PlanSkipExisting marks a duplicate of a stored transaction.
	PlanSkipExisting PlanAction = "skip-existing"
	// PlanSkipRepeat marks a duplicate of an earlier row in the same batch.
	PlanSkipRepeat PlanAction = "skip-repeat"
	PlanInvalid    PlanAction = "invalid"
)

// PlannedRow is the outcome predicted for one parsed transaction.
type PlannedRow struct {
	Index       int                      `json:"index"`
	Action      PlanAction               `json:"action"`
	Transaction domain.ParsedTransaction `json:"transaction"`
}

// ImportPlan predicts an import without writing anything.
type ImportPlan struct {
	AccountID   string       `json:"accountId"`
	WouldImport int          `json:"wouldImport"`
	WouldSkip   int          `json:"wouldSkip"`
	Invalid     int          `json:"invalid"`
	Rows        []PlannedRow `json:"rows"`
}

// PlanImport reports what ImportTransactions would do with txns. It reads
// the account's fingerprints once and replays the batch through an
// in-memory index, so repeats within txns are reported as skips.
func (l *Ledger) PlanImport(ctx context.Context, accountID string, txns []domain.ParsedTransaction) (*ImportPlan, error) {
	var fingerprints []string
	err := l.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAccount(accountID); err != nil {
			return err
		}
		var err error
		fingerprints, err = tx.Fingerprints(accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	existing := dedup.NewIndex(fingerprints...)
	seen := dedup.NewIndex()
	plan := &ImportPlan{AccountID: accountID, Rows: make([]PlannedRow, 0, len(txns))}

	for i, parsed := range txns {
		row := PlannedRow{Index: i, Transaction: parsed}
		fp := dedup.KeyOf(accountID, parsed).Fingerprint()

		switch {
		case parsed.Date.IsZero():
			row.Action = PlanInvalid
			plan.Invalid++
		case existing.Contains(fp):
			row.Action = PlanSkipExisting
			plan.WouldSkip++
		case !seen.Observe(fp):
			row.Action = PlanSkipRepeat
			plan.WouldSkip++
		default:
			row.Action = PlanImport
			plan.WouldImport++
		}
		plan.Rows = append(plan.Rows, row)
	}
	return plan, nil
}

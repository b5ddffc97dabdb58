package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/recurring"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
)

// DefaultToleranceDays is the recurring rule tolerance when none is given.
const DefaultToleranceDays = 3

// DetectRecurring finds periodic payments among the last year of
// non-transfer transactions that have a payee. It writes nothing.
func (l *Ledger) DetectRecurring(ctx context.Context) ([]domain.RecurringSeries, error) {
	since := l.today().AddDays(-recurring.WindowDays)

	var entries []recurring.Entry
	err := l.store.View(ctx, func(tx store.Tx) error {
		accounts, err := tx.ListAccounts()
		if err != nil {
			return err
		}
		names := make(map[string]string, len(accounts))
		for _, a := range accounts {
			names[a.ID] = a.Name
		}

		txns, err := tx.ListTransactions(store.TransactionFilter{Since: since, Unlinked: true, WithPayee: true})
		if err != nil {
			return err
		}
		entries = make([]recurring.Entry, 0, len(txns))
		for _, t := range txns {
			entries = append(entries, recurring.Entry{
				ID:          t.ID,
				AccountID:   t.AccountID,
				AccountName: names[t.AccountID],
				Date:        t.Date,
				Amount:      t.Amount,
				Payee:       t.Payee,
				CategoryID:  t.CategoryID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	series := recurring.Detect(entries)
	log := logger.FromContext(ctx)
	log.Debug().Int("transactions", len(entries)).Int("series", len(series)).Msg("recurring detection")
	return series, nil
}

// CreateRecurringInput describes a recurring rule. Frequency defaults to
// monthly and ToleranceDays to DefaultToleranceDays.
type CreateRecurringInput struct {
	AccountID     string           `json:"accountId"`
	Payee         string           `json:"payee"`
	Amount        int64            `json:"amount"`
	CategoryID    string           `json:"categoryId,omitempty"`
	Frequency     domain.Frequency `json:"frequency,omitempty"`
	NextExpected  domain.Date      `json:"nextExpected"`
	ToleranceDays *int             `json:"toleranceDays,omitempty"`
}

// RecurringInputFromSeries builds the input that persists a detected series.
func RecurringInputFromSeries(s domain.RecurringSeries) CreateRecurringInput {
	in := CreateRecurringInput{
		AccountID:    s.AccountID,
		Payee:        s.Payee,
		Amount:       s.AverageAmount,
		Frequency:    s.Frequency,
		NextExpected: s.NextExpectedDate,
	}
	if s.CategoryID != nil {
		in.CategoryID = *s.CategoryID
	}
	return in
}

// CreateRecurringRule stores a recurring rule.
func (l *Ledger) CreateRecurringRule(ctx context.Context, in CreateRecurringInput) (*domain.RecurringRule, error) {
	rule := &domain.RecurringRule{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		Payee:         strings.TrimSpace(in.Payee),
		Amount:        in.Amount,
		Frequency:     in.Frequency,
		NextExpected:  in.NextExpected,
		ToleranceDays: DefaultToleranceDays,
		IsActive:      true,
		CreatedAt:     l.now().UTC(),
	}
	if rule.Frequency == "" {
		rule.Frequency = domain.FrequencyMonthly
	}
	if in.ToleranceDays != nil {
		rule.ToleranceDays = *in.ToleranceDays
	}
	if in.CategoryID != "" {
		categoryID := in.CategoryID
		rule.CategoryID = &categoryID
	}

	switch {
	case rule.Payee == "":
		return nil, fmt.Errorf("%w: recurring payee cannot be empty", domain.ErrValidation)
	case rule.Frequency.Days() == 0:
		return nil, fmt.Errorf("%w: unknown frequency %q", domain.ErrValidation, rule.Frequency)
	case rule.NextExpected.IsZero():
		return nil, fmt.Errorf("%w: next expected date is required", domain.ErrValidation)
	case rule.ToleranceDays < 0:
		return nil, fmt.Errorf("%w: tolerance days cannot be negative", domain.ErrValidation)
	}

	err := l.store.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAccount(rule.AccountID); err != nil {
			return err
		}
		if rule.CategoryID != nil {
			if _, err := tx.GetCategory(*rule.CategoryID); err != nil {
				return fmt.Errorf("%w: category %q does not exist", domain.ErrValidation, *rule.CategoryID)
			}
		}
		return tx.InsertRecurringRule(rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRecurringRules returns the stored recurring rules by next expected
// date.
func (l *Ledger) ListRecurringRules(ctx context.Context) ([]domain.RecurringRule, error) {
	var list []domain.RecurringRule
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListRecurringRules()
		return err
	})
	return list, err
}

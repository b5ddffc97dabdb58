package ledger

import (
	"context"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/rules"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
)

// Scope selects the transactions ApplyCategoryRules considers. The zero
// value means every uncategorized transaction.
type Scope struct {
	TransactionIDs []string `json:"transactionIds,omitempty"`
}

// AllUncategorized is the scope of every uncategorized transaction.
func AllUncategorized() Scope { return Scope{} }

// OnlyTransactions limits the scope to ids. An empty list selects nothing.
func OnlyTransactions(ids ...string) Scope {
	if ids == nil {
		ids = []string{}
	}
	return Scope{TransactionIDs: ids}
}

// ApplyCategoryRules categorizes uncategorized transactions in scope and
// returns how many changed. Active rules run first; transactions still
// uncategorized then take the category of the most recent other
// transaction with exactly the same payee. Applying twice changes nothing
// the second time.
func (l *Ledger) ApplyCategoryRules(ctx context.Context, scope Scope) (int, error) {
	var n int
	err := l.store.Update(ctx, func(tx store.Tx) error {
		var err error
		n, err = categorize(ctx, tx, scope.TransactionIDs, l.now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx)
	log.Info().Int("categorized", n).Msg("category rules applied")
	return n, nil
}

// categorize runs the rule pass and then the payee history pass. ids nil
// means every uncategorized transaction.
func categorize(ctx context.Context, tx store.Tx, ids []string, at time.Time) (int, error) {
	log := logger.FromContext(ctx)

	active, err := tx.ListRules(true)
	if err != nil {
		return 0, err
	}
	engine := rules.NewEngine(active)

	count := 0
	if engine.Len() > 0 {
		candidates, err := tx.Uncategorized(ids)
		if err != nil {
			return 0, err
		}
		for _, txn := range candidates {
			rule, ok := engine.Match(candidateOf(txn))
			if !ok {
				continue
			}
			if err := tx.SetCategory(txn.ID, rule.CategoryID, at); err != nil {
				log.Warn().Err(err).Str("transaction", txn.ID).Str("rule", rule.ID).Msg("failed to apply rule")
				continue
			}
			count++
		}
	}

	remaining, err := tx.Uncategorized(ids)
	if err != nil {
		return count, err
	}
	for _, txn := range remaining {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if txn.Payee == "" {
			continue
		}
		categoryID, ok, err := tx.LatestCategoryForPayee(txn.Payee, txn.ID)
		if err != nil {
			return count, err
		}
		if !ok {
			continue
		}
		if err := tx.SetCategory(txn.ID, categoryID, at); err != nil {
			log.Warn().Err(err).Str("transaction", txn.ID).Msg("failed to apply learned category")
			continue
		}
		count++
	}
	return count, nil
}

func candidateOf(txn domain.Transaction) rules.Candidate {
	return rules.Candidate{AccountID: txn.AccountID, Payee: txn.Payee, Amount: txn.Amount}
}

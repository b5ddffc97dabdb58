// Package store defines the ledger storage contract.
//
// All access goes through View (read-only) or Update (read-write). Update
// holds the store's single-writer lock and one database transaction for the
// whole callback; both are released on every exit path. Calling View or
// Update from inside a callback deadlocks.
package store

import (
	"context"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/dedup"
	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// Store is a transactional ledger.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Update runs fn in a read-write transaction under the writer lock.
	// fn's error rolls the transaction back.
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is bound to the context passed to View or Update.
//
// Lookups of single entities return domain.ErrNotFound when the entity is
// missing or soft-deleted. Transactions and accounts are never physically
// deleted.
type Tx interface {
	// Accounts
	GetAccount(id string) (*domain.Account, error)
	AccountByName(name string) (*domain.Account, error)
	ListAccounts() ([]domain.Account, error)
	CreateAccount(account *domain.Account) error
	// RecomputeBalance sets the account balance to the sum of its
	// non-deleted transaction amounts and returns it.
	RecomputeBalance(accountID string, at time.Time) (int64, error)

	// Categories
	GetCategory(id string) (*domain.Category, error)
	ListCategories() ([]domain.Category, error)
	CreateCategory(category *domain.Category) error

	// Transactions
	GetTransaction(id string) (*domain.Transaction, error)
	ListTransactions(filter TransactionFilter) ([]domain.Transaction, error)
	// FindDuplicate returns the id of a non-deleted transaction with key's
	// account, date, amount, and payee.
	FindDuplicate(key dedup.Key) (string, bool, error)
	// Fingerprints returns the fingerprints of the account's non-deleted
	// transactions.
	Fingerprints(accountID string) ([]string, error)
	InsertTransaction(txn *domain.Transaction) error
	// Uncategorized returns non-deleted transactions with no category,
	// restricted to ids when ids is non-nil.
	Uncategorized(ids []string) ([]domain.Transaction, error)
	SetCategory(txnID, categoryID string, at time.Time) error
	// LatestCategoryForPayee returns the category of the most recent (by
	// date) non-deleted transaction other than excludeID with exactly payee
	// and a category.
	LatestCategoryForPayee(payee, excludeID string) (string, bool, error)
	SetTransfer(txnID, transferID, otherAccountID string, at time.Time) error
	// ClearTransfer unlinks every transaction sharing transferID and
	// returns how many changed.
	ClearTransfer(transferID string, at time.Time) (int, error)

	// Category rules
	GetRule(id string) (*domain.CategoryRule, error)
	// ListRules orders by priority descending, newest first.
	ListRules(activeOnly bool) ([]domain.CategoryRule, error)
	InsertRule(rule *domain.CategoryRule) error
	UpdateRule(rule *domain.CategoryRule) error
	DeleteRule(id string) error

	// Recurring rules
	InsertRecurringRule(rule *domain.RecurringRule) error
	ListRecurringRules() ([]domain.RecurringRule, error)
}

// TransactionFilter selects non-deleted transactions. Zero fields do not
// filter.
type TransactionFilter struct {
	AccountID string
	Since     domain.Date
	// Unlinked keeps transactions without a transfer id.
	Unlinked bool
	// WithPayee keeps transactions with a non-empty payee.
	WithPayee bool
	// Newest orders by date descending instead of ascending.
	Newest bool
}

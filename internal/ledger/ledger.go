// Package ledger implements the reconciliation operations over a store:
// import with duplicate detection, rule and history based categorization,
// recurring series detection, and transfer matching.
//
// Every mutating operation runs inside a single store.Update, so it holds the
// writer lock and one database transaction from start to finish.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
)

// Ledger runs reconciliation operations against a store.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, which drives timestamps and the analysis
// windows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over s.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{store: s, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// today is the current calendar date in the local zone.
func (l *Ledger) today() domain.Date {
	return domain.DateOf(l.now())
}

// CreateAccountInput describes a new account. Type defaults to checking.
type CreateAccountInput struct {
	Name string             `json:"name"`
	Type domain.AccountType `json:"type,omitempty"`
}

// CreateAccount adds an account with a zero balance. Names are unique,
// ignoring case.
func (l *Ledger) CreateAccount(ctx context.Context, in CreateAccountInput) (*domain.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: account name cannot be empty", domain.ErrValidation)
	}
	if in.Type == "" {
		in.Type = domain.AccountTypeChecking
	}
	if !domain.ValidateAccountType(in.Type) {
		return nil, fmt.Errorf("%w: unknown account type %q", domain.ErrValidation, in.Type)
	}

	now := l.now().UTC()
	account := &domain.Account{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      in.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := l.store.Update(ctx, func(tx store.Tx) error {
		return tx.CreateAccount(account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Account returns a non-deleted account.
func (l *Ledger) Account(ctx context.Context, id string) (*domain.Account, error) {
	var account *domain.Account
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		account, err = tx.GetAccount(id)
		return err
	})
	return account, err
}

// AccountByName returns a non-deleted account by case-insensitive name.
func (l *Ledger) AccountByName(ctx context.Context, name string) (*domain.Account, error) {
	var account *domain.Account
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		account, err = tx.AccountByName(strings.TrimSpace(name))
		return err
	})
	return account, err
}

// ListAccounts returns every non-deleted account ordered by name.
func (l *Ledger) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		accounts, err = tx.ListAccounts()
		return err
	})
	return accounts, err
}

// CreateCategoryInput describes a new category. Type defaults to expense.
type CreateCategoryInput struct {
	Name     string              `json:"name"`
	Type     domain.CategoryType `json:"type,omitempty"`
	ParentID string              `json:"parentId,omitempty"`
}

// CreateCategory adds a category. Names are unique, ignoring case.
func (l *Ledger) CreateCategory(ctx context.Context, in CreateCategoryInput) (*domain.Category, error) {
	category, err := newCategory(in)
	if err != nil {
		return nil, err
	}
	err = l.store.Update(ctx, func(tx store.Tx) error {
		if category.ParentID != nil {
			if _, err := tx.GetCategory(*category.ParentID); err != nil {
				return fmt.Errorf("%w: parent category %q does not exist", domain.ErrValidation, *category.ParentID)
			}
		}
		return tx.CreateCategory(category)
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

func newCategory(in CreateCategoryInput) (*domain.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name cannot be empty", domain.ErrValidation)
	}
	if in.Type == "" {
		in.Type = domain.CategoryTypeExpense
	}
	if !domain.ValidateCategoryType(in.Type) {
		return nil, fmt.Errorf("%w: unknown category type %q", domain.ErrValidation, in.Type)
	}
	category := &domain.Category{ID: uuid.NewString(), Name: name, Type: in.Type}
	if in.ParentID != "" {
		parent := in.ParentID
		category.ParentID = &parent
	}
	return category, nil
}

// ListCategories returns every category ordered by name.
func (l *Ledger) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var categories []domain.Category
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		categories, err = tx.ListCategories()
		return err
	})
	return categories, err
}

// ListTransactions returns non-deleted transactions matching filter.
func (l *Ledger) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		txns, err = tx.ListTransactions(filter)
		return err
	})
	return txns, err
}

// Snapshot is a point-in-time copy of the ledger for export and mirroring.
type Snapshot struct {
	GeneratedAt    time.Time              `json:"generatedAt"`
	Accounts       []domain.Account       `json:"accounts"`
	Categories     []domain.Category      `json:"categories"`
	Transactions   []domain.Transaction   `json:"transactions"`
	RecurringRules []domain.RecurringRule `json:"recurringRules"`
}

// Snapshot reads the whole ledger in one read transaction.
func (l *Ledger) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{GeneratedAt: l.now().UTC()}
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		if snap.Accounts, err = tx.ListAccounts(); err != nil {
			return err
		}
		if snap.Categories, err = tx.ListCategories(); err != nil {
			return err
		}
		if snap.Transactions, err = tx.ListTransactions(store.TransactionFilter{}); err != nil {
			return err
		}
		snap.RecurringRules, err = tx.ListRecurringRules()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	return snap, nil
}

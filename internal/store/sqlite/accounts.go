package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

const accountColumns = `id, name, type, current_balance, created_at, updated_at, deleted_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var (
		a                    domain.Account
		accountType          string
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &accountType, &a.CurrentBalance, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	a.Type = domain.AccountType(accountType)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) GetAccount(id string) (*domain.Account, error) {
	row := t.queryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND deleted_at IS NULL`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return a, nil
}

func (t *tx) AccountByName(name string) (*domain.Account, error) {
	row := t.queryRow(`SELECT `+accountColumns+` FROM accounts WHERE name = ? AND deleted_at IS NULL`, name)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", name)
	}
	return a, nil
}

func (t *tx) ListAccounts() ([]domain.Account, error) {
	rows, err := t.query(`SELECT ` + accountColumns + ` FROM accounts WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (t *tx) CreateAccount(a *domain.Account) error {
	_, err := t.exec(`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		a.ID, a.Name, string(a.Type), a.CurrentBalance, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return constraint(err, fmt.Sprintf("create account %q", a.Name))
	}
	return nil
}

func (t *tx) RecomputeBalance(accountID string, at time.Time) (int64, error) {
	var balance int64
	err := t.queryRow(`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = ? AND deleted_at IS NULL`,
		accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to sum account %q: %w", accountID, err)
	}

	res, err := t.exec(`UPDATE accounts SET current_balance = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		balance, formatTime(at), accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance of account %q: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: account %q", domain.ErrNotFound, accountID)
	}
	return balance, nil
}

const categoryColumns = `id, name, type, parent_id`

func scanCategory(row interface{ Scan(...any) error }) (*domain.Category, error) {
	var (
		c            domain.Category
		categoryType string
		parentID     sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &categoryType, &parentID); err != nil {
		return nil, err
	}
	c.Type = domain.CategoryType(categoryType)
	c.ParentID = stringPtr(parentID)
	return &c, nil
}

func (t *tx) GetCategory(id string) (*domain.Category, error) {
	c, err := scanCategory(t.queryRow(`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "category", id)
	}
	return c, nil
}

func (t *tx) ListCategories() ([]domain.Category, error) {
	rows, err := t.query(`SELECT ` + categoryColumns + ` FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := []domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func (t *tx) CreateCategory(c *domain.Category) error {
	_, err := t.exec(`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Type), nullStringPtr(c.ParentID))
	if err != nil {
		return constraint(err, fmt.Sprintf("create category %q", c.Name))
	}
	return nil
}

package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

const ruleColumns = `id, category_id, rule_type, pattern, amount_min, amount_max, account_id, priority, is_active, created_at`

func scanRule(row interface{ Scan(...any) error }) (*domain.CategoryRule, error) {
	var (
		r                    domain.CategoryRule
		ruleType, createdAt  string
		amountMin, amountMax sql.NullInt64
		accountID            sql.NullString
	)
	err := row.Scan(&r.ID, &r.CategoryID, &ruleType, &r.Pattern, &amountMin, &amountMax, &accountID,
		&r.Priority, &r.IsActive, &createdAt)
	if err != nil {
		return nil, err
	}
	r.RuleType = domain.RuleType(ruleType)
	r.AmountMin = int64Ptr(amountMin)
	r.AmountMax = int64Ptr(amountMax)
	r.AccountID = stringPtr(accountID)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) GetRule(id string) (*domain.CategoryRule, error) {
	r, err := scanRule(t.queryRow(`SELECT `+ruleColumns+` FROM category_rules WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "rule", id)
	}
	return r, nil
}

func (t *tx) ListRules(activeOnly bool) ([]domain.CategoryRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM category_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY priority DESC, created_at DESC, id`

	rows, err := t.query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.CategoryRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func (t *tx) InsertRule(r *domain.CategoryRule) error {
	_, err := t.exec(`INSERT INTO category_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CategoryID, string(r.RuleType), r.Pattern, nullInt(r.AmountMin), nullInt(r.AmountMax),
		nullStringPtr(r.AccountID), r.Priority, r.IsActive, formatTime(r.CreatedAt))
	if err != nil {
		return constraint(err, fmt.Sprintf("insert rule %q", r.ID))
	}
	return nil
}

func (t *tx) UpdateRule(r *domain.CategoryRule) error {
	res, err := t.exec(`UPDATE category_rules
		SET category_id = ?, rule_type = ?, pattern = ?, amount_min = ?, amount_max = ?, account_id = ?,
			priority = ?, is_active = ?
		WHERE id = ?`,
		r.CategoryID, string(r.RuleType), r.Pattern, nullInt(r.AmountMin), nullInt(r.AmountMax),
		nullStringPtr(r.AccountID), r.Priority, r.IsActive, r.ID)
	if err != nil {
		return constraint(err, fmt.Sprintf("update rule %q", r.ID))
	}
	return affected(res, "rule", r.ID)
}

func (t *tx) DeleteRule(id string) error {
	res, err := t.exec(`DELETE FROM category_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %q: %w", id, err)
	}
	return affected(res, "rule", id)
}

const recurringColumns = `id, account_id, payee, amount, category_id, frequency, next_expected, tolerance_days, is_active, created_at`

func (t *tx) InsertRecurringRule(r *domain.RecurringRule) error {
	_, err := t.exec(`INSERT INTO recurring_rules (`+recurringColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.Payee, r.Amount, nullStringPtr(r.CategoryID), string(r.Frequency),
		r.NextExpected.String(), r.ToleranceDays, r.IsActive, formatTime(r.CreatedAt))
	if err != nil {
		return constraint(err, fmt.Sprintf("insert recurring rule for %q", r.Payee))
	}
	return nil
}

func (t *tx) ListRecurringRules() ([]domain.RecurringRule, error) {
	rows, err := t.query(`SELECT ` + recurringColumns + ` FROM recurring_rules ORDER BY next_expected, payee`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.RecurringRule{}
	for rows.Next() {
		var (
			r                          domain.RecurringRule
			frequency, next, createdAt string
			categoryID                 sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Payee, &r.Amount, &categoryID, &frequency, &next,
			&r.ToleranceDays, &r.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan recurring rule: %w", err)
		}
		r.CategoryID = stringPtr(categoryID)
		r.Frequency = domain.Frequency(frequency)
		if r.NextExpected, err = domain.ParseISODate(next); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

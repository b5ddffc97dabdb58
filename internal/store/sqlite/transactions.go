package sqlite

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/dedup"
	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
)

// maxIDsPerQuery bounds IN lists below SQLite's host parameter limit.
const maxIDsPerQuery = 500

const transactionColumns = `id, account_id, date, amount, payee, original_payee, memo, category_id,
	transfer_id, transfer_account_id, status, import_source, import_batch_id, fingerprint,
	created_at, updated_at, deleted_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var (
		txn                                       domain.Transaction
		date, createdAt, updatedAt                string
		payee, originalPayee, memo                sql.NullString
		categoryID, transferID, transferAccountID sql.NullString
		importSource, importBatchID, deletedAt    sql.NullString
	)
	err := row.Scan(&txn.ID, &txn.AccountID, &date, &txn.Amount, &payee, &originalPayee, &memo, &categoryID,
		&transferID, &transferAccountID, &txn.Status, &importSource, &importBatchID, &txn.Fingerprint,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if txn.Date, err = domain.ParseISODate(date); err != nil {
		return nil, err
	}
	txn.Payee = payee.String
	txn.OriginalPayee = originalPayee.String
	txn.Memo = memo.String
	txn.CategoryID = stringPtr(categoryID)
	txn.TransferID = stringPtr(transferID)
	txn.TransferAccountID = stringPtr(transferAccountID)
	txn.ImportSource = importSource.String
	txn.ImportBatchID = importBatchID.String

	if txn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if txn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if txn.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	return &txn, nil
}

func (t *tx) scanTransactions(query string, args ...any) ([]domain.Transaction, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func (t *tx) GetTransaction(id string) (*domain.Transaction, error) {
	row := t.queryRow(`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND deleted_at IS NULL`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return txn, nil
}

func (t *tx) ListTransactions(filter store.TransactionFilter) ([]domain.Transaction, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, filter.Since.String())
	}
	if filter.Unlinked {
		where = append(where, "transfer_id IS NULL")
	}
	if filter.WithPayee {
		where = append(where, "payee IS NOT NULL AND payee <> ''")
	}

	order := "date ASC, created_at ASC, id ASC"
	if filter.Newest {
		order = "date DESC, created_at DESC, id DESC"
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + order
	return t.scanTransactions(query, args...)
}

func (t *tx) FindDuplicate(key dedup.Key) (string, bool, error) {
	var id string
	err := t.queryRow(`SELECT id FROM transactions
		WHERE fingerprint = ? AND account_id = ? AND date = ? AND amount = ? AND payee IS ? AND deleted_at IS NULL
		LIMIT 1`,
		key.Fingerprint(), key.AccountID, key.Date.String(), key.Amount, nullString(key.Payee)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up duplicate: %w", err)
	}
	return id, true, nil
}

func (t *tx) Fingerprints(accountID string) ([]string, error) {
	rows, err := t.query(`SELECT fingerprint FROM transactions WHERE account_id = ? AND deleted_at IS NULL`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

func (t *tx) InsertTransaction(txn *domain.Transaction) error {
	if txn.Fingerprint == "" {
		txn.Fingerprint = dedup.KeyOfTransaction(txn).Fingerprint()
	}
	_, err := t.exec(`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		txn.ID, txn.AccountID, txn.Date.String(), txn.Amount,
		nullString(txn.Payee), nullString(txn.OriginalPayee), nullString(txn.Memo),
		nullStringPtr(txn.CategoryID), nullStringPtr(txn.TransferID), nullStringPtr(txn.TransferAccountID),
		txn.Status, nullString(txn.ImportSource), nullString(txn.ImportBatchID), txn.Fingerprint,
		formatTime(txn.CreatedAt), formatTime(txn.UpdatedAt))
	if err != nil {
		return constraint(err, fmt.Sprintf("insert transaction %q", txn.ID))
	}
	return nil
}

func (t *tx) Uncategorized(ids []string) ([]domain.Transaction, error) {
	base := `SELECT ` + transactionColumns + ` FROM transactions WHERE deleted_at IS NULL AND category_id IS NULL`
	if ids == nil {
		return t.scanTransactions(base + ` ORDER BY date, id`)
	}

	txns := []domain.Transaction{}
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		chunk := ids[start:min(start+maxIDsPerQuery, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		found, err := t.scanTransactions(base+` AND id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, err
		}
		txns = append(txns, found...)
	}
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		return txns[i].ID < txns[j].ID
	})
	return txns, nil
}

func (t *tx) SetCategory(txnID, categoryID string, at time.Time) error {
	res, err := t.exec(`UPDATE transactions SET category_id = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		categoryID, formatTime(at), txnID)
	if err != nil {
		return constraint(err, fmt.Sprintf("categorize transaction %q", txnID))
	}
	return affected(res, "transaction", txnID)
}

func (t *tx) LatestCategoryForPayee(payee, excludeID string) (string, bool, error) {
	var categoryID string
	err := t.queryRow(`SELECT category_id FROM transactions
		WHERE payee = ? AND id <> ? AND category_id IS NOT NULL AND deleted_at IS NULL
		ORDER BY date DESC, created_at DESC LIMIT 1`, payee, excludeID).Scan(&categoryID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up category for payee %q: %w", payee, err)
	}
	return categoryID, true, nil
}

func (t *tx) SetTransfer(txnID, transferID, otherAccountID string, at time.Time) error {
	res, err := t.exec(`UPDATE transactions SET transfer_id = ?, transfer_account_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, transferID, otherAccountID, formatTime(at), txnID)
	if err != nil {
		return constraint(err, fmt.Sprintf("link transaction %q", txnID))
	}
	return affected(res, "transaction", txnID)
}

func (t *tx) ClearTransfer(transferID string, at time.Time) (int, error) {
	res, err := t.exec(`UPDATE transactions SET transfer_id = NULL, transfer_account_id = NULL, updated_at = ?
		WHERE transfer_id = ? AND deleted_at IS NULL`, formatTime(at), transferID)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink transfer %q: %w", transferID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count unlinked transactions: %w", err)
	}
	return int(n), nil
}

// affected returns ErrNotFound when an update touched no rows.
func affected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %q", domain.ErrNotFound, what, id)
	}
	return nil
}

package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
)

// flushEvery bounds how many pending writes the bulk writer holds.
const flushEvery = 500

// AccountDoc is the mirrored form of a ledger account.
type AccountDoc struct {
	ID             string    `firestore:"id"`
	UserID         string    `firestore:"userId"`
	Name           string    `firestore:"name"`
	Type           string    `firestore:"type"`
	Balance        int64     `firestore:"balance"`
	BalanceDisplay string    `firestore:"balanceDisplay"`
	CreatedAt      time.Time `firestore:"createdAt"`
	SyncedAt       time.Time `firestore:"syncedAt"`
}

// TransactionDoc is the mirrored form of a ledger transaction. Amounts stay in
// minor units; AmountDisplay is for consoles and exports.
type TransactionDoc struct {
	ID            string    `firestore:"id"`
	UserID        string    `firestore:"userId"`
	AccountID     string    `firestore:"accountId"`
	Date          string    `firestore:"date"`
	Amount        int64     `firestore:"amount"`
	AmountDisplay string    `firestore:"amountDisplay"`
	Payee         string    `firestore:"payee"`
	Memo          string    `firestore:"memo,omitempty"`
	Category      string    `firestore:"category,omitempty"`
	CategoryID    *string   `firestore:"categoryId,omitempty"`
	TransferID    *string   `firestore:"transferId,omitempty"`
	ImportSource  string    `firestore:"importSource,omitempty"`
	ImportBatchID string    `firestore:"importBatchId,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	SyncedAt      time.Time `firestore:"syncedAt"`
}

// SyncResult counts documents written by SyncLedger.
type SyncResult struct {
	Accounts     int `json:"accounts"`
	Transactions int `json:"transactions"`
}

// AccountDocs converts the snapshot's accounts for userID.
func AccountDocs(userID string, snap *ledger.Snapshot) []AccountDoc {
	docs := make([]AccountDoc, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		docs = append(docs, AccountDoc{
			ID:             a.ID,
			UserID:         userID,
			Name:           a.Name,
			Type:           string(a.Type),
			Balance:        a.CurrentBalance,
			BalanceDisplay: normalize.FormatAmount(a.CurrentBalance),
			CreatedAt:      a.CreatedAt,
			SyncedAt:       snap.GeneratedAt,
		})
	}
	return docs
}

// TransactionDocs converts the snapshot's live transactions for userID,
// resolving category names.
func TransactionDocs(userID string, snap *ledger.Snapshot) []TransactionDoc {
	names := make(map[string]string, len(snap.Categories))
	for _, c := range snap.Categories {
		names[c.ID] = c.Name
	}

	docs := make([]TransactionDoc, 0, len(snap.Transactions))
	for _, t := range snap.Transactions {
		if t.IsDeleted() {
			continue
		}
		doc := TransactionDoc{
			ID:            t.ID,
			UserID:        userID,
			AccountID:     t.AccountID,
			Date:          t.Date.String(),
			Amount:        t.Amount,
			AmountDisplay: normalize.FormatAmount(t.Amount),
			Payee:         t.Payee,
			Memo:          t.Memo,
			CategoryID:    t.CategoryID,
			TransferID:    t.TransferID,
			ImportSource:  t.ImportSource,
			ImportBatchID: t.ImportBatchID,
			CreatedAt:     t.CreatedAt,
			SyncedAt:      snap.GeneratedAt,
		}
		if t.CategoryID != nil {
			doc.Category = names[*t.CategoryID]
		}
		docs = append(docs, doc)
	}
	return docs
}

// SyncLedger writes every account and transaction of snap under userID.
// Documents are overwritten in place, so repeated syncs are idempotent.
func (c *Client) SyncLedger(ctx context.Context, userID string, snap *ledger.Snapshot) (*SyncResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	log := logger.FromContext(ctx)

	accounts := AccountDocs(userID, snap)
	txns := TransactionDocs(userID, snap)

	bw := c.Firestore.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(accounts)+len(txns))
	queue := func(ref *firestore.DocumentRef, doc interface{}) error {
		job, err := bw.Set(ref, doc)
		if err != nil {
			return fmt.Errorf("failed to queue %s: %w", ref.Path, err)
		}
		jobs = append(jobs, job)
		if len(jobs)%flushEvery == 0 {
			bw.Flush()
		}
		return nil
	}

	accCol := c.Firestore.Collection(AccountsCollection)
	for i := range accounts {
		if err := queue(accCol.Doc(docID(userID, accounts[i].ID)), accounts[i]); err != nil {
			bw.End()
			return nil, err
		}
	}
	txnCol := c.Firestore.Collection(TransactionsCollection)
	for i := range txns {
		if err := queue(txnCol.Doc(docID(userID, txns[i].ID)), txns[i]); err != nil {
			bw.End()
			return nil, err
		}
	}
	bw.End()

	var failed int
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return nil, fmt.Errorf("failed to write %d of %d documents: %w", failed, len(jobs), firstErr)
	}

	log.Info().
		Str("user", userID).
		Int("accounts", len(accounts)).
		Int("transactions", len(txns)).
		Msg("ledger synced to firestore")
	return &SyncResult{Accounts: len(accounts), Transactions: len(txns)}, nil
}

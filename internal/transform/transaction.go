package transform

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tally/internal/dedup"
	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// Batch carries what every transaction of one import shares.
type Batch struct {
	AccountID string
	Source    string
	ID        string
	At        time.Time
}

// NewBatch starts an import batch with a fresh UUID.
func NewBatch(accountID, source string, at time.Time) Batch {
	return Batch{AccountID: accountID, Source: source, ID: uuid.NewString(), At: at}
}

// ToTransaction converts a parsed row into a cleared ledger transaction.
// categoryID may be empty. Payee and OriginalPayee both keep the parsed
// payee as written.
func (b Batch) ToTransaction(parsed domain.ParsedTransaction, categoryID string) *domain.Transaction {
	txn := &domain.Transaction{
		ID:            uuid.NewString(),
		AccountID:     b.AccountID,
		Date:          parsed.Date,
		Amount:        parsed.Amount,
		Payee:         parsed.Payee,
		OriginalPayee: parsed.Payee,
		Memo:          strings.TrimSpace(parsed.Memo),
		Status:        domain.StatusCleared,
		ImportSource:  b.Source,
		ImportBatchID: b.ID,
		CreatedAt:     b.At,
		UpdatedAt:     b.At,
	}
	if categoryID != "" {
		txn.CategoryID = &categoryID
	}
	txn.Fingerprint = dedup.KeyOf(b.AccountID, parsed).Fingerprint()
	return txn
}

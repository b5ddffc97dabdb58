package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
	"github.com/rumor-ml/commons.systems/tally/internal/transfer"
)

// DetectTransfers proposes transfer pairs among unlinked transactions from
// the last 90 days. It writes nothing.
func (l *Ledger) DetectTransfers(ctx context.Context) ([]domain.TransferCandidate, error) {
	since := l.today().AddDays(-transfer.WindowDays)

	var entries []transfer.Entry
	err := l.store.View(ctx, func(tx store.Tx) error {
		txns, err := tx.ListTransactions(store.TransactionFilter{Since: since, Unlinked: true, Newest: true})
		if err != nil {
			return err
		}
		entries = make([]transfer.Entry, 0, len(txns))
		for _, t := range txns {
			entries = append(entries, transfer.Entry{
				ID:        t.ID,
				AccountID: t.AccountID,
				Date:      t.Date,
				Amount:    t.Amount,
				Payee:     t.Payee,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	candidates := transfer.Detect(entries)
	log := logger.FromContext(ctx)
	log.Debug().Int("transactions", len(entries)).Int("candidates", len(candidates)).Msg("transfer detection")
	return candidates, nil
}

// LinkTransfer marks two transactions in different accounts as the two
// sides of one transfer and returns the shared transfer id.
func (l *Ledger) LinkTransfer(ctx context.Context, aID, bID string) (string, error) {
	transferID := uuid.NewString()
	at := l.now().UTC()

	err := l.store.Update(ctx, func(tx store.Tx) error {
		a, err := tx.GetTransaction(aID)
		if err != nil {
			return fmt.Errorf("transaction %q cannot be linked: %w", aID, err)
		}
		b, err := tx.GetTransaction(bID)
		if err != nil {
			return fmt.Errorf("transaction %q cannot be linked: %w", bID, err)
		}
		if a.AccountID == b.AccountID {
			return fmt.Errorf("%w: transactions %q and %q are in the same account", domain.ErrValidation, aID, bID)
		}

		if err := tx.SetTransfer(a.ID, transferID, b.AccountID, at); err != nil {
			return err
		}
		return tx.SetTransfer(b.ID, transferID, a.AccountID, at)
	})
	if err != nil {
		return "", err
	}

	log := logger.FromContext(ctx)
	log.Info().Str("transfer", transferID).Str("a", aID).Str("b", bID).Msg("transfer linked")
	return transferID, nil
}

// UnlinkTransfer clears the transfer fields of every transaction sharing a
// transfer. id is either one of the linked transactions or the transfer id
// itself. Unlinking a transaction that is not linked is a no-op; an id that
// names neither returns domain.ErrNotFound.
func (l *Ledger) UnlinkTransfer(ctx context.Context, id string) error {
	return l.store.Update(ctx, func(tx store.Tx) error {
		transferID := id
		txn, err := tx.GetTransaction(id)
		switch {
		case err == nil:
			if txn.TransferID == nil {
				return nil
			}
			transferID = *txn.TransferID
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		n, err := tx.ClearTransfer(transferID, l.now().UTC())
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: no transaction or transfer %q", domain.ErrNotFound, id)
		}
		log := logger.FromContext(ctx)
		log.Info().Str("transfer", transferID).Int("transactions", n).Msg("transfer unlinked")
		return nil
	})
}

// Package dedup provides transaction duplicate keys and SHA256 fingerprints.
//
// Two transactions are duplicates when they share account, date, amount, and
// exact payee. Memo and check numbers are not part of the key, so identical
// same-day purchases at one payee collapse into one.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// Key is the duplicate identity of a transaction. An empty Payee means the
// payee is absent; absent matches absent.
type Key struct {
	AccountID string
	Date      domain.Date
	Amount    int64
	Payee     string
}

// KeyOf builds the key of a parsed transaction destined for accountID.
func KeyOf(accountID string, txn domain.ParsedTransaction) Key {
	return Key{AccountID: accountID, Date: txn.Date, Amount: txn.Amount, Payee: txn.Payee}
}

// KeyOfTransaction builds the key of a persisted transaction.
func KeyOfTransaction(txn *domain.Transaction) Key {
	return Key{AccountID: txn.AccountID, Date: txn.Date, Amount: txn.Amount, Payee: txn.Payee}
}

// Fingerprint returns SHA256("{account}|{date}|{amount}|{len}:{payee}") as hex.
// The payee is not normalized; case and whitespace differences are distinct.
func (k Key) Fingerprint() string {
	input := fmt.Sprintf("%s|%s|%d|%d:%s", k.AccountID, k.Date, k.Amount, len(k.Payee), k.Payee)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// Index is an in-memory fingerprint set with observation counts.
// It is not safe for concurrent use.
type Index struct {
	counts map[string]int
}

// NewIndex creates an index seeded with existing fingerprints.
func NewIndex(fingerprints ...string) *Index {
	idx := &Index{counts: make(map[string]int, len(fingerprints))}
	for _, fp := range fingerprints {
		idx.counts[fp]++
	}
	return idx
}

// Contains reports whether fingerprint has been seen.
func (i *Index) Contains(fingerprint string) bool {
	return i.counts[fingerprint] > 0
}

// Observe records fingerprint and reports whether it was new.
func (i *Index) Observe(fingerprint string) bool {
	i.counts[fingerprint]++
	return i.counts[fingerprint] == 1
}

// Count returns how many times fingerprint was observed.
func (i *Index) Count(fingerprint string) int {
	return i.counts[fingerprint]
}

// Len returns the number of distinct fingerprints.
func (i *Index) Len() int {
	return len(i.counts)
}

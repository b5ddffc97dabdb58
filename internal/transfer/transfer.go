// Package transfer finds likely transfers between accounts: pairs of
// transactions with exactly opposite amounts a few days apart.
package transfer

import (
	"sort"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

const (
	// WindowDays is how far back matching looks.
	WindowDays = 90
	// MaxDaysApart is the widest date gap a pair may have.
	MaxDaysApart = 5
	// MinConfidence is the exclusive threshold for keeping a pair.
	MinConfidence = 0.5
	// MaxCandidates caps the result list.
	MaxCandidates = 20

	dateWeight  = 0.6
	payeeWeight = 0.4
)

var keywords = []string{"transfer", "xfer", "payment", "ach", "wire", "zelle", "venmo"}

// Entry is one unlinked ledger transaction.
type Entry struct {
	ID        string
	AccountID string
	Date      domain.Date
	Amount    int64
	Payee     string
}

// PayeeSimilarity scores how transfer-like a pair of payees looks: 0.8 when
// both contain a transfer keyword, 0.5 when one does, 0.3 otherwise or when
// either payee is absent.
func PayeeSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.3
	}
	aHas, bHas := hasKeyword(a), hasKeyword(b)
	switch {
	case aHas && bHas:
		return 0.8
	case aHas || bHas:
		return 0.5
	default:
		return 0.3
	}
}

func hasKeyword(payee string) bool {
	lower := strings.ToLower(payee)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Confidence combines date proximity and payee similarity.
func Confidence(daysApart int, payeeA, payeeB string) float64 {
	dateScore := 1 - float64(daysApart)/MaxDaysApart
	return dateWeight*dateScore + payeeWeight*PayeeSimilarity(payeeA, payeeB)
}

// Detect returns candidate pairs, highest confidence first. Pairs keep the
// input order of their members (A before B), and equal confidences keep
// discovery order.
func Detect(entries []Entry) []domain.TransferCandidate {
	candidates := make([]domain.TransferCandidate, 0)
	for i := range entries {
		a := &entries[i]
		for j := i + 1; j < len(entries); j++ {
			b := &entries[j]
			if a.AccountID == b.AccountID || a.Amount == 0 || a.Amount != -b.Amount {
				continue
			}
			days := a.Date.DaysSince(b.Date)
			if days < 0 {
				days = -days
			}
			if days > MaxDaysApart {
				continue
			}
			confidence := Confidence(days, a.Payee, b.Payee)
			if confidence <= MinConfidence {
				continue
			}
			candidates = append(candidates, domain.TransferCandidate{
				TransactionAID: a.ID,
				TransactionBID: b.ID,
				Confidence:     confidence,
				Amount:         a.Amount,
				DaysApart:      days,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return candidates
}

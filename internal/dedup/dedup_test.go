package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

func baseKey() Key {
	return Key{
		AccountID: "acct-1",
		Date:      domain.NewDate(2025, time.January, 15),
		Amount:    -5000,
		Payee:     "Whole Foods",
	}
}

func TestFingerprint_Format(t *testing.T) {
	fp := baseKey().Fingerprint()
	if len(fp) != 64 {
		t.Errorf("Fingerprint() returned hash of length %d, want 64", len(fp))
	}
	if fp != baseKey().Fingerprint() {
		t.Error("Fingerprint() is not deterministic")
	}
}

func TestFingerprint_Uniqueness(t *testing.T) {
	base := baseKey()

	tests := []struct {
		name   string
		mutate func(*Key)
	}{
		{"different account", func(k *Key) { k.AccountID = "acct-2" }},
		{"different date", func(k *Key) { k.Date = k.Date.AddDays(1) }},
		{"different amount", func(k *Key) { k.Amount = -5001 }},
		{"opposite sign", func(k *Key) { k.Amount = 5000 }},
		{"payee case", func(k *Key) { k.Payee = "WHOLE FOODS" }},
		{"payee whitespace", func(k *Key) { k.Payee = "Whole Foods " }},
		{"absent payee", func(k *Key) { k.Payee = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := base
			tt.mutate(&k)
			assert.NotEqual(t, base.Fingerprint(), k.Fingerprint())
		})
	}
}

func TestFingerprint_PayeeBoundary(t *testing.T) {
	// The length prefix keeps a payee containing the separator from
	// colliding with a shifted field.
	a := Key{AccountID: "a|b", Payee: "c"}
	b := Key{AccountID: "a", Payee: "b|c"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestKeyOf(t *testing.T) {
	parsed := domain.ParsedTransaction{
		Date:   domain.NewDate(2025, time.January, 15),
		Amount: -5000,
		Payee:  "Whole Foods",
		Memo:   "ignored",
	}
	stored := &domain.Transaction{
		AccountID: "acct-1",
		Date:      domain.NewDate(2025, time.January, 15),
		Amount:    -5000,
		Payee:     "Whole Foods",
		Memo:      "different memo",
	}

	assert.Equal(t, baseKey(), KeyOf("acct-1", parsed))
	assert.Equal(t, KeyOf("acct-1", parsed).Fingerprint(), KeyOfTransaction(stored).Fingerprint())
}

func TestIndex(t *testing.T) {
	existing := baseKey().Fingerprint()
	idx := NewIndex(existing)

	assert.True(t, idx.Contains(existing))
	assert.Equal(t, 1, idx.Len())

	fresh := Key{AccountID: "acct-1", Amount: 1}.Fingerprint()
	assert.False(t, idx.Contains(fresh))
	assert.True(t, idx.Observe(fresh), "first observation is new")
	assert.False(t, idx.Observe(fresh), "second observation is a repeat")
	assert.Equal(t, 2, idx.Count(fresh))
	assert.False(t, idx.Observe(existing))
	assert.Equal(t, 2, idx.Len())
}

func TestNewIndex_Empty(t *testing.T) {
	idx := NewIndex()
	assert.Zero(t, idx.Len())
	assert.False(t, idx.Contains(""))
}

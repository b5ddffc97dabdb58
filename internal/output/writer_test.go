package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
)

func snapshot(at time.Time, accounts []domain.Account, txns ...domain.Transaction) *ledger.Snapshot {
	return &ledger.Snapshot{GeneratedAt: at, Accounts: accounts, Transactions: txns}
}

func txn(id string, amount int64) domain.Transaction {
	return domain.Transaction{ID: id, AccountID: "a1", Date: domain.NewDate(2025, time.March, 1), Amount: amount, Status: "cleared"}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	result := &domain.ImportResult{Imported: 3, Skipped: 1, BatchID: "b1"}
	if err := WriteJSON(result, &buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	want := "{\n  \"imported\": 3,\n  \"skipped\": 1,\n  \"failed\": 0,\n  \"categorized\": 0,\n  \"batchId\": \"b1\"\n}\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestWriteJSON_Nil(t *testing.T) {
	if err := WriteJSON(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil value")
	}
}

func TestWriteFile_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteFile(map[string]int{"imported": 2}, WriteOptions{FilePath: path}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got["imported"] != 2 {
		t.Errorf("imported = %d, want 2", got["imported"])
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestWriteFile_MissingDirectory(t *testing.T) {
	err := WriteFile(map[string]int{}, WriteOptions{FilePath: filepath.Join(t.TempDir(), "nope", "out.json")})
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestWriteSnapshot_FreshAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	march := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	april := march.AddDate(0, 1, 0)
	accounts := []domain.Account{{ID: "a1", Name: "Checking", Type: domain.AccountTypeChecking}}

	first := snapshot(march, accounts, txn("t2", -500), txn("t1", -100))
	if err := WriteSnapshot(first, WriteOptions{FilePath: path, MergeMode: true}); err != nil {
		t.Fatalf("fresh write failed: %v", err)
	}

	second := snapshot(april, accounts, txn("t1", -150), txn("t3", 900))
	if err := WriteSnapshot(second, WriteOptions{FilePath: path, MergeMode: true}); err != nil {
		t.Fatalf("merge write failed: %v", err)
	}

	merged, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if !merged.GeneratedAt.Equal(april) {
		t.Errorf("GeneratedAt = %v, want %v", merged.GeneratedAt, april)
	}
	if len(merged.Accounts) != 1 {
		t.Errorf("accounts = %d, want 1", len(merged.Accounts))
	}

	var ids []string
	for _, tx := range merged.Transactions {
		ids = append(ids, tx.ID)
	}
	if strings.Join(ids, ",") != "t1,t2,t3" {
		t.Errorf("transaction ids = %v, want t1,t2,t3", ids)
	}
	if merged.Transactions[0].Amount != -150 {
		t.Errorf("t1 amount = %d, newer snapshot should win", merged.Transactions[0].Amount)
	}
	if merged.Transactions[0].Date.String() != "2025-03-01" {
		t.Errorf("date did not survive the round trip: %q", merged.Transactions[0].Date)
	}
}

func TestWriteSnapshot_MergeRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := WriteSnapshot(snapshot(time.Now(), nil), WriteOptions{FilePath: path, MergeMode: true})
	if !errors.Is(err, domain.ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Error("corrupt file should be left untouched")
	}
}

func TestLoadSnapshot_Missing(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
	if _, err := LoadSnapshot(""); err == nil {
		t.Error("expected error for empty path")
	}
}

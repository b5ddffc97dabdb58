// Package output writes command results as indented JSON.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
)

// WriteOptions configures where a result is written.
type WriteOptions struct {
	// FilePath is the output file; empty means stdout.
	FilePath string
	// MergeMode merges a snapshot into the one already at FilePath.
	MergeMode bool
}

// WriteJSON encodes v with 2-space indentation.
func WriteJSON(v interface{}, w io.Writer) error {
	if v == nil {
		return errors.New("value cannot be nil")
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteFile writes v to opts.FilePath, or stdout when it is empty. Files
// are replaced atomically: readers see the old or the new content, never a
// partial write.
func WriteFile(v interface{}, opts WriteOptions) (err error) {
	if opts.FilePath == "" {
		return WriteJSON(v, os.Stdout)
	}

	dir := filepath.Dir(opts.FilePath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(opts.FilePath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create output file in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err = WriteJSON(v, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", opts.FilePath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output file %s: %w", opts.FilePath, err)
	}
	if err = os.Rename(tmp.Name(), opts.FilePath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", opts.FilePath, err)
	}
	return nil
}

// WriteSnapshot writes a ledger snapshot. In merge mode the snapshot is
// merged into the existing file first; a missing file is written fresh.
func WriteSnapshot(snap *ledger.Snapshot, opts WriteOptions) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}

	if opts.MergeMode && opts.FilePath != "" {
		existing, err := LoadSnapshot(opts.FilePath)
		switch {
		case err == nil:
			snap = MergeSnapshots(existing, snap)
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("failed to load existing snapshot for merge: %w", err)
		}
	}
	return WriteFile(snap, opts)
}

// LoadSnapshot reads a snapshot written by WriteSnapshot. A missing file
// yields an error matching os.ErrNotExist.
func LoadSnapshot(path string) (*ledger.Snapshot, error) {
	if path == "" {
		return nil, errors.New("file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: failed to decode snapshot %s: %v", domain.ErrFormat, path, err)
	}
	return &snap, nil
}

// MergeSnapshots returns base updated with every record of next. Records
// are matched by id; next wins. Output lists are sorted by id so repeated
// merges produce identical files.
func MergeSnapshots(base, next *ledger.Snapshot) *ledger.Snapshot {
	out := &ledger.Snapshot{GeneratedAt: next.GeneratedAt}
	out.Accounts = mergeByID(base.Accounts, next.Accounts, func(a domain.Account) string { return a.ID })
	out.Categories = mergeByID(base.Categories, next.Categories, func(c domain.Category) string { return c.ID })
	out.Transactions = mergeByID(base.Transactions, next.Transactions, func(t domain.Transaction) string { return t.ID })
	out.RecurringRules = mergeByID(base.RecurringRules, next.RecurringRules, func(r domain.RecurringRule) string { return r.ID })
	return out
}

func mergeByID[T any](base, next []T, id func(T) string) []T {
	byID := make(map[string]T, len(base)+len(next))
	for _, v := range base {
		byID[id(v)] = v
	}
	for _, v := range next {
		byID[id(v)] = v
	}

	ids := make([]string, 0, len(byID))
	for k := range byID {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, k := range ids {
		out = append(out, byID[k])
	}
	return out
}

// Package scanner finds statement files under a directory tree.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

var (
	statementExts = map[string]struct{}{
		".csv": {}, ".tsv": {}, ".xlsx": {}, ".xls": {},
		".txt": {}, ".pdf": {}, ".ofx": {}, ".qfx": {},
	}

	periodPattern = regexp.MustCompile(`^\d{4}(-\d{2})?$`)
	titleCaser    = cases.Title(language.English)
)

// Scanner walks directory tree and finds statement files
type Scanner struct {
	rootDir string
	now     func() time.Time
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir, now: time.Now}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Metadata *parser.Metadata
}

// Scan walks the directory tree and returns statement files in path order.
// Hidden files and directories are skipped.
func (s *Scanner) Scan() ([]ScanResult, error) {
	rootDir, err := expandHome(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	var results []ScanResult
	err = filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing %s: %w", path, err)
		}
		if path != rootDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsStatementFile(path) {
			return nil
		}

		meta, err := s.extractMetadata(path, rootDir)
		if err != nil {
			return fmt.Errorf("invalid metadata for %s (processed %d files so far): %w", path, len(results), err)
		}
		results = append(results, ScanResult{Path: path, Metadata: meta})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// IsStatementFile checks if file has a supported statement extension
func IsStatementFile(path string) bool {
	_, ok := statementExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// extractMetadata derives account and period from the path.
// Path structure: {root}/{account}/{period?}/file.ext
func (s *Scanner) extractMetadata(filePath, rootDir string) (*parser.Metadata, error) {
	meta, err := parser.NewMetadata(filePath, s.now())
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to relativize path: %w", err)
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	if len(parts) >= 2 {
		meta.SetAccount(AccountName(parts[0]))
	}
	if len(parts) >= 3 && looksLikePeriod(parts[1]) {
		meta.SetPeriod(parts[1])
	}
	return meta, nil
}

// AccountName converts a directory name to an account name.
// "capital_one_checking" -> "Capital One Checking"
func AccountName(dirName string) string {
	name := strings.NewReplacer("_", " ", "-", " ").Replace(dirName)
	return titleCaser.String(strings.Join(strings.Fields(name), " "))
}

// looksLikePeriod accepts YYYY and YYYY-MM
func looksLikePeriod(str string) bool {
	return periodPattern.MatchString(str)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
}

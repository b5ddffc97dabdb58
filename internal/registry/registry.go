// Package registry selects a statement parser for a file.
package registry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rumor-ml/commons.systems/tally/internal/parser"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/document"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/fixed"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/ofx"
)

// headerSize is enough to see magic numbers and the first lines of text
// formats (OFX, CSV, bank text exports).
const headerSize = 512

// Registry holds all registered parsers in detection order.
type Registry struct {
	parsers []parser.Detector
}

// New creates a registry with all built-in parsers. Fixed-layout precedes
// document because the document parser accepts any .txt file.
func New() (*Registry, error) {
	r := &Registry{parsers: []parser.Detector{}}
	builtins := []parser.Detector{
		ofx.NewParser(),
		csv.NewParser(),
		csv.NewSpreadsheetParser(),
		fixed.NewParser(),
		document.NewParser(),
	}
	for _, p := range builtins {
		if err := r.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register built-in parser: %w", err)
		}
	}
	return r, nil
}

// MustNew is New that panics on error.
func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Register appends a parser. Names must be unique.
func (r *Registry) Register(p parser.Detector) error {
	if p == nil {
		return errors.New("cannot register nil parser")
	}
	for _, existing := range r.parsers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("parser %q already registered", p.Name())
		}
	}
	r.parsers = append(r.parsers, p)
	return nil
}

// FindParser returns the first parser that accepts path. Only the first 512
// bytes are read; shorter files pass whatever they have.
func (r *Registry) FindParser(path string) (parser.Detector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	header = header[:n]

	for _, p := range r.parsers {
		if p.CanParse(path, header) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser found for file: %s", path)
}

// ForFormat returns the first registered parser for format.
func (r *Registry) ForFormat(format parser.Format) (parser.Detector, error) {
	for _, p := range r.parsers {
		if p.Format() == format {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser registered for format %q", format)
}

// ListParsers returns all registered parser names in detection order.
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

// Package parser holds the contracts shared by the statement parsers: source
// formats, format detection, path metadata, and byte decoding.
package parser

import (
	"fmt"
	"strings"
)

// Format identifies a statement source format.
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "spreadsheet"
	FormatFixedLayout Format = "fixed-layout"
	FormatDocument    Format = "document"
	FormatOFX         Format = "ofx"
)

var formatAliases = map[string]Format{
	"csv":          FormatCSV,
	"tsv":          FormatCSV,
	"tabular":      FormatCSV,
	"spreadsheet":  FormatSpreadsheet,
	"xlsx":         FormatSpreadsheet,
	"xls":          FormatSpreadsheet,
	"fixed-layout": FormatFixedLayout,
	"fixed":        FormatFixedLayout,
	"document":     FormatDocument,
	"pdf":          FormatDocument,
	"ofx":          FormatOFX,
	"qfx":          FormatOFX,
}

// ParseFormat resolves a user supplied format name, accepting common aliases
// such as "pdf" or "qfx".
func ParseFormat(s string) (Format, error) {
	f, ok := formatAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown format %q", s)
	}
	return f, nil
}

// Detector is implemented by every parser that can be selected by the
// registry.
type Detector interface {
	// Name returns the parser identifier (e.g., "ofx", "csv")
	Name() string

	// Format returns the source format the parser handles
	Format() Format

	// CanParse checks if parser can handle this file from its path and
	// first bytes
	CanParse(path string, header []byte) bool
}

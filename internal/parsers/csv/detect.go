package csv

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Parser detects delimited text exports.
// The struct has no fields; it is safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared delimited-text detector.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string { return "csv" }

// Format returns parser.FormatCSV
func (p *Parser) Format() parser.Format { return parser.FormatCSV }

// CanParse accepts .csv and .tsv files whose first line has at least two
// delimited fields.
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".tsv" {
		return false
	}

	text, err := parser.Decode(header)
	if err != nil {
		return false
	}
	first, _, _ := strings.Cut(text, "\n")
	return strings.ContainsRune(first, DelimiterFor(path))
}

// SpreadsheetParser detects .xlsx and .xls workbooks.
type SpreadsheetParser struct{}

var spreadsheetInstance = &SpreadsheetParser{}

// NewSpreadsheetParser returns the shared workbook detector.
func NewSpreadsheetParser() *SpreadsheetParser {
	return spreadsheetInstance
}

// Name returns the parser identifier
func (p *SpreadsheetParser) Name() string { return "spreadsheet" }

// Format returns parser.FormatSpreadsheet
func (p *SpreadsheetParser) Format() parser.Format { return parser.FormatSpreadsheet }

// CanParse checks the extension against the container magic bytes.
func (p *SpreadsheetParser) CanParse(path string, header []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return bytes.HasPrefix(header, zipMagic)
	case ".xls":
		return bytes.HasPrefix(header, oleMagic)
	}
	return false
}

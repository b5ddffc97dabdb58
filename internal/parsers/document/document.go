// Package document extracts transactions from text recovered from statement
// documents such as PDFs. No table structure survives text extraction, so
// lines are classified heuristically and the result carries a confidence
// score.
package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

const (
	// DefaultPreviewRows is the preview size used when the caller passes 0.
	DefaultPreviewRows = 20

	// MinSignalChars is the least amount of non-whitespace text a document
	// must yield to be parsed at all.
	MinSignalChars = 100

	sampleRunes      = 500
	minGatedResults  = 3
	ctxCheckInterval = 256
)

// Result is the outcome of a preview or parse.
type Result struct {
	Transactions    []domain.ParsedTransaction `json:"transactions"`
	TotalRows       int                        `json:"totalRows"`
	DetectedFormat  string                     `json:"detectedFormat,omitempty"`
	DetectedColumns []string                   `json:"detectedColumns"`
	RawTextSample   string                     `json:"rawTextSample"`
	Confidence      float64                    `json:"confidence"`
}

// Preview extracts the document at path and keeps at most limit
// transactions.
func Preview(ctx context.Context, ext Extractor, path string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	text, err := ext.ExtractText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", path, err)
	}
	return ParseText(ctx, text, limit)
}

// Parse extracts the document at path and returns every transaction.
func Parse(ctx context.Context, ext Extractor, path string) (*Result, error) {
	text, err := ext.ExtractText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", path, err)
	}
	return ParseText(ctx, text, -1)
}

// ParseText runs the line heuristics over already extracted text. A
// negative limit keeps every transaction.
func ParseText(ctx context.Context, text string, limit int) (*Result, error) {
	if signal := nonSpaceCount(text); signal < MinSignalChars {
		return nil, fmt.Errorf("%w: only %d characters of text; the document is likely image based, export it as CSV instead",
			domain.ErrLowSignalDocument, signal)
	}

	lines := normalizeLines(text)
	format, columns := detectFormat(lines, text)

	p, err := runPass(ctx, lines, true)
	if err != nil {
		return nil, err
	}
	if len(p.lines) < minGatedResults {
		if p, err = runPass(ctx, lines, false); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Transactions:    make([]domain.ParsedTransaction, 0, len(p.lines)),
		TotalRows:       len(p.lines),
		DetectedFormat:  format,
		DetectedColumns: columns,
		RawTextSample:   sample(text),
		Confidence:      p.confidence(),
	}
	if result.DetectedColumns == nil {
		result.DetectedColumns = []string{}
	}
	for _, l := range p.lines {
		if limit >= 0 && len(result.Transactions) >= limit {
			break
		}
		result.Transactions = append(result.Transactions, l.toParsed())
	}
	return result, nil
}

// pass holds the outcome of one walk over the lines.
type pass struct {
	lines     []line
	dateLines int
	parsed    int
}

func (p pass) confidence() float64 {
	if p.dateLines == 0 {
		return 0
	}
	return float64(p.parsed) / float64(p.dateLines)
}

// runPass walks the lines once. With gated set, transactions are kept only
// after a section or header line, except for the very first one.
func runPass(ctx context.Context, lines []string, gated bool) (pass, error) {
	var (
		p           pass
		inSection   bool
		pastSummary bool
		category    string
	)

	for i, text := range lines {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return pass{}, err
			}
		}

		c := Classify(text, gated)
		switch c.Kind {
		case SectionStart:
			inSection = true
			pastSummary = true
		case Header:
			pastSummary = true
		case CategoryHeader:
			category = c.Category
		case Transaction:
			p.dateLines++
			l, ok := parseLine(text, category)
			if !ok {
				continue
			}
			p.parsed++
			if !gated || pastSummary || inSection || len(p.lines) == 0 {
				p.lines = append(p.lines, l)
			}
		}
	}
	return p, nil
}

// normalizeLines trims every line, collapses internal whitespace, and drops
// empty lines.
func normalizeLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if collapsed := strings.Join(strings.Fields(l), " "); collapsed != "" {
			out = append(out, collapsed)
		}
	}
	return out
}

func nonSpaceCount(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func sample(text string) string {
	runes := []rune(text)
	if len(runes) > sampleRunes {
		runes = runes[:sampleRunes]
	}
	return string(runes)
}

// Parser detects statement documents.
type Parser struct{}

// NewParser returns a document detector.
func NewParser() *Parser { return &Parser{} }

// Name returns the parser identifier
func (p *Parser) Name() string { return "document" }

// Format returns parser.FormatDocument
func (p *Parser) Format() parser.Format { return parser.FormatDocument }

// CanParse accepts PDFs by magic bytes and any .txt file. Register it after
// the fixed-layout parser so that one claims bank text exports first.
func (p *Parser) CanParse(path string, header []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return strings.HasPrefix(string(header), "%PDF")
	case ".txt":
		return true
	}
	return false
}

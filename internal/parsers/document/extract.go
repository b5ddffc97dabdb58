package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

// Extractor turns a document on disk into plain text, one line per
// visual line.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// PDFToText extracts text with poppler's pdftotext in layout mode.
type PDFToText struct {
	// Binary is the pdftotext executable; empty means "pdftotext" on PATH.
	Binary string
}

// ExtractText runs pdftotext under ctx; cancelling ctx kills the process.
func (p PDFToText) ExtractText(ctx context.Context, path string) (string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftotext"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-layout", "-enc", "UTF-8", path, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: pdftotext failed on %s: %s", domain.ErrSourceUnreadable, path, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%w: failed to run %s: %v", domain.ErrSourceUnreadable, bin, err)
	}
	return parser.Decode(stdout.Bytes())
}

// PlainText reads text that was already extracted.
type PlainText struct{}

// ExtractText reads and decodes the file at path.
func (PlainText) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %v", domain.ErrSourceUnreadable, path, err)
	}
	return parser.Decode(data)
}

// ExtractorFor picks PlainText for .txt files and pdf otherwise.
func ExtractorFor(path string, pdf Extractor) Extractor {
	if strings.HasSuffix(strings.ToLower(path), ".txt") {
		return PlainText{}
	}
	return pdf
}

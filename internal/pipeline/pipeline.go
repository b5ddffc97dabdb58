// Package pipeline is the transport-independent entry point of tally. It
// turns statement files into parsed transactions and imports them into the
// ledger; the CLI and the HTTP handlers both call it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/document"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/fixed"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/tally/internal/registry"
	"github.com/rumor-ml/commons.systems/tally/internal/transform"
	"github.com/rumor-ml/commons.systems/tally/internal/validate"
)

// LowConfidence is the document parse confidence below which a warning is
// logged.
const LowConfidence = 0.5

// Limits are the default preview sizes per source kind.
type Limits struct {
	Tabular     int
	FixedLayout int
	Document    int
}

// DefaultLimits matches the parsers' own defaults.
var DefaultLimits = Limits{
	Tabular:     csv.DefaultPreviewRows,
	FixedLayout: fixed.DefaultPreviewRows,
	Document:    document.DefaultPreviewRows,
}

// Option configures a Service.
type Option func(*Service)

// WithExtractor sets the PDF text extractor. The default runs pdftotext
// from PATH.
func WithExtractor(e document.Extractor) Option {
	return func(s *Service) { s.pdf = e }
}

// WithBroadcaster sends batch import progress to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.hub = b }
}

// WithLimits overrides the preview sizes. Zero fields keep the default.
func WithLimits(l Limits) Option {
	return func(s *Service) {
		if l.Tabular > 0 {
			s.limits.Tabular = l.Tabular
		}
		if l.FixedLayout > 0 {
			s.limits.FixedLayout = l.FixedLayout
		}
		if l.Document > 0 {
			s.limits.Document = l.Document
		}
	}
}

// WithClock sets the clock used to judge future dates during validation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service couples the parsers with the ledger. Ledger operations such as
// ApplyCategoryRules or DetectTransfers are promoted from the embedded
// ledger unchanged.
type Service struct {
	*ledger.Ledger

	registry *registry.Registry
	pdf      document.Extractor
	hub      Broadcaster
	limits   Limits
	now      func() time.Time
}

// New creates a service over l, detecting formats with reg.
func New(l *ledger.Ledger, reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		Ledger:   l,
		registry: reg,
		pdf:      document.PDFToText{},
		hub:      discard{},
		limits:   DefaultLimits,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", domain.ErrSourceUnreadable, path, err)
	}
	return f, nil
}

func isSpreadsheet(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}

// tabularRows opens path as a workbook or as delimited text. Both readers
// buffer the whole source, so the file is closed before returning.
func tabularRows(path string, delimiter rune) (csv.RowReader, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if isSpreadsheet(path) {
		rows, err := csv.OpenSpreadsheet(path, f)
		if err != nil {
			return nil, fmt.Errorf("failed to read workbook %s: %w", path, err)
		}
		return rows, nil
	}
	if delimiter == 0 {
		delimiter = csv.DelimiterFor(path)
	}
	rows, err := csv.NewReader(f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return rows, nil
}

// PreviewTabular returns the headers and first rows of a CSV, TSV, or
// spreadsheet file so a column mapping can be chosen.
func (s *Service) PreviewTabular(ctx context.Context, path string, maxRows int) (*csv.PreviewResult, error) {
	if maxRows <= 0 {
		maxRows = s.limits.Tabular
	}
	rows, err := tabularRows(path, 0)
	if err != nil {
		return nil, err
	}
	return csv.PreviewRows(ctx, rows, maxRows)
}

// ParseTabular converts a tabular file with mapping. An empty mapping
// delimiter falls back to the one the file extension implies.
func (s *Service) ParseTabular(ctx context.Context, path string, mapping *csv.ColumnMapping) (*csv.ParseResult, error) {
	if mapping == nil {
		return nil, fmt.Errorf("%w: tabular sources need a column mapping", domain.ErrValidation)
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	rows, err := tabularRows(path, mapping.DelimiterOr(csv.DelimiterFor(path)))
	if err != nil {
		return nil, err
	}
	return csv.ParseRows(ctx, rows, mapping)
}

// PreviewFixedLayout parses at most limit transactions of a bank text export.
func (s *Service) PreviewFixedLayout(ctx context.Context, path string, limit int) (*fixed.Result, error) {
	if limit <= 0 {
		limit = s.limits.FixedLayout
	}
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fixed.Preview(ctx, f, limit)
}

// ParseFixedLayout parses every transaction of a bank text export.
func (s *Service) ParseFixedLayout(ctx context.Context, path string) (*fixed.Result, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fixed.Parse(ctx, f)
}

// PreviewDocument extracts a PDF or text statement and keeps at most limit
// transactions.
func (s *Service) PreviewDocument(ctx context.Context, path string, limit int) (*document.Result, error) {
	if limit <= 0 {
		limit = s.limits.Document
	}
	return document.Preview(ctx, document.ExtractorFor(path, s.pdf), path, limit)
}

// ParseDocument extracts every transaction of a PDF or text statement.
func (s *Service) ParseDocument(ctx context.Context, path string) (*document.Result, error) {
	return document.Parse(ctx, document.ExtractorFor(path, s.pdf), path)
}

// PreviewOFX parses an OFX or QFX statement and keeps at most limit
// transactions.
func (s *Service) PreviewOFX(ctx context.Context, path string, limit int) (*ofx.Statement, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ofx.NewParser().Preview(ctx, f, limit)
}

// ParseOFX parses every transaction of an OFX or QFX statement.
func (s *Service) ParseOFX(ctx context.Context, path string) (*ofx.Statement, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ofx.NewParser().Parse(ctx, f)
}

// AccountHint names the account a statement says it belongs to.
type AccountHint struct {
	Name string             `json:"name"`
	Type domain.AccountType `json:"type"`
}

// Parsed is one statement file reduced to importable transactions.
type Parsed struct {
	Path         string                     `json:"path"`
	Format       parser.Format              `json:"format"`
	Source       string                     `json:"source"`
	Transactions []domain.ParsedTransaction `json:"transactions"`
	RowErrors    []string                   `json:"rowErrors,omitempty"`
	Confidence   float64                    `json:"confidence,omitempty"`
	Account      *AccountHint               `json:"account,omitempty"`
}

// DetectFormat picks the source format of path from its extension and
// first bytes.
func (s *Service) DetectFormat(path string) (parser.Format, error) {
	f, err := open(path)
	if err != nil {
		return "", err
	}
	f.Close()

	p, err := s.registry.FindParser(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFormat, err)
	}
	return p.Format(), nil
}

// ParseFile parses path in the given format, detecting it when format is
// empty. Tabular formats need a mapping; the others ignore it.
func (s *Service) ParseFile(ctx context.Context, path string, format parser.Format, mapping *csv.ColumnMapping) (*Parsed, error) {
	if format == "" {
		var err error
		if format, err = s.DetectFormat(path); err != nil {
			return nil, err
		}
	}
	log := logger.FromContext(ctx).With().Str("file", filepath.Base(path)).Str("format", string(format)).Logger()

	out := &Parsed{Path: path, Format: format, Source: transform.SourceTag(format, "")}
	switch format {
	case parser.FormatCSV, parser.FormatSpreadsheet:
		res, err := s.ParseTabular(ctx, path, mapping)
		if err != nil {
			return nil, err
		}
		out.Transactions = res.Transactions
		for _, re := range res.RowErrors {
			out.RowErrors = append(out.RowErrors, re.Error())
		}

	case parser.FormatFixedLayout:
		res, err := s.ParseFixedLayout(ctx, path)
		if err != nil {
			return nil, err
		}
		out.Transactions = res.Transactions
		checkBalances(log, res)

	case parser.FormatDocument:
		res, err := s.ParseDocument(ctx, path)
		if err != nil {
			return nil, err
		}
		out.Transactions = res.Transactions
		out.Confidence = res.Confidence
		out.Source = transform.SourceTag(format, res.DetectedFormat)
		if res.Confidence < LowConfidence {
			log.Warn().Float64("confidence", res.Confidence).Msg("low confidence document parse; review before trusting the import")
		}

	case parser.FormatOFX:
		stmt, err := s.ParseOFX(ctx, path)
		if err != nil {
			return nil, err
		}
		out.Transactions = stmt.Transactions
		if name := transform.AccountName(stmt.Institution, stmt.AccountID); name != "" {
			out.Account = &AccountHint{Name: name, Type: stmt.AccountType}
		}
		if stmt.SkippedSecurities > 0 {
			log.Info().Int("skipped", stmt.SkippedSecurities).Msg("skipped investment trades without cash transactions")
		}

	default:
		return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrValidation, format)
	}

	log.Debug().Int("transactions", len(out.Transactions)).Int("rowErrors", len(out.RowErrors)).Msg("parsed statement")
	return out, nil
}

// ImportRequest describes one file to import.
type ImportRequest struct {
	Path string
	// Format empty means detect.
	Format parser.Format
	// AccountID empty means use the account the statement names, creating
	// it if needed.
	AccountID string
	// AccountName is used when the statement names no account, e.g. the
	// directory a scanned file was found in.
	AccountName string
	Mapping     *csv.ColumnMapping
	DryRun      bool
}

// FileImport is the outcome of importing one file.
type FileImport struct {
	Path       string                     `json:"path"`
	Format     parser.Format              `json:"format,omitempty"`
	Source     string                     `json:"source,omitempty"`
	AccountID  string                     `json:"accountId,omitempty"`
	Parsed     int                        `json:"parsed"`
	RowErrors  []string                   `json:"rowErrors,omitempty"`
	Validation *validate.ValidationResult `json:"validation,omitempty"`
	Result     *domain.ImportResult       `json:"result,omitempty"`
	Plan       *ledger.ImportPlan         `json:"plan,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// ImportFile parses, validates, and imports one file. A batch with
// validation errors is not imported: the returned FileImport carries the
// report and the error wraps ErrValidation.
func (s *Service) ImportFile(ctx context.Context, req ImportRequest) (*FileImport, error) {
	parsed, err := s.ParseFile(ctx, req.Path, req.Format, req.Mapping)
	if err != nil {
		return nil, err
	}

	out := &FileImport{
		Path:      req.Path,
		Format:    parsed.Format,
		Source:    parsed.Source,
		Parsed:    len(parsed.Transactions),
		RowErrors: parsed.RowErrors,
	}
	out.Validation = validate.ValidateBatch(parsed.Transactions, domain.DateOf(s.now()))
	if err := out.Validation.Err(); err != nil {
		return out, err
	}

	account, err := s.resolveAccount(ctx, req, parsed.Account)
	if err != nil {
		return out, err
	}
	out.AccountID = account

	if req.DryRun {
		out.Plan, err = s.PlanImport(ctx, account, parsed.Transactions)
		return out, err
	}

	out.Result, err = s.ImportTransactions(ctx, account, parsed.Source, parsed.Transactions)
	return out, err
}

// resolveAccount returns the target account id: the explicit one, else the
// account named by the statement or the request, created on first import.
func (s *Service) resolveAccount(ctx context.Context, req ImportRequest, hint *AccountHint) (string, error) {
	if req.AccountID != "" {
		return req.AccountID, nil
	}
	if hint == nil && req.AccountName != "" {
		hint = &AccountHint{Name: req.AccountName}
	}
	if hint == nil {
		return "", fmt.Errorf("%w: %s names no account; choose one explicitly", domain.ErrValidation, filepath.Base(req.Path))
	}

	acct, err := s.AccountByName(ctx, hint.Name)
	if err == nil {
		return acct.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if req.DryRun {
		return "", fmt.Errorf("account %q does not exist yet: %w", hint.Name, err)
	}

	acct, err = s.CreateAccount(ctx, ledger.CreateAccountInput{Name: hint.Name, Type: hint.Type})
	if err != nil {
		return "", fmt.Errorf("failed to create account %q: %w", hint.Name, err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("account", acct.Name).Str("id", acct.ID).Msg("created account")
	return acct.ID, nil
}

// checkBalances warns when a statement's closing balance does not follow
// from its opening balance and transactions.
func checkBalances(log zerolog.Logger, res *fixed.Result) {
	if res.BeginningBalance == nil || res.EndingBalance == nil {
		return
	}
	net := int64(0)
	for _, t := range res.Transactions {
		net += t.Amount
	}
	if want := *res.BeginningBalance + net; want != *res.EndingBalance {
		log.Warn().
			Str("expected", normalize.FormatAmount(want)).
			Str("stated", normalize.FormatAmount(*res.EndingBalance)).
			Msg("statement balances do not reconcile")
	}
}

// PreviewFile previews path in the given format, detecting it when empty.
// The result is the format-specific preview type.
func (s *Service) PreviewFile(ctx context.Context, path string, format parser.Format, limit int) (interface{}, error) {
	if format == "" {
		var err error
		if format, err = s.DetectFormat(path); err != nil {
			return nil, err
		}
	}
	switch format {
	case parser.FormatCSV, parser.FormatSpreadsheet:
		return s.PreviewTabular(ctx, path, limit)
	case parser.FormatFixedLayout:
		return s.PreviewFixedLayout(ctx, path, limit)
	case parser.FormatDocument:
		return s.PreviewDocument(ctx, path, limit)
	case parser.FormatOFX:
		return s.PreviewOFX(ctx, path, limit)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrValidation, format)
	}
}

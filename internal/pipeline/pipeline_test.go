package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/fixed"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/tally/internal/registry"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
	"github.com/rumor-ml/commons.systems/tally/internal/store/sqlite"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
)

var fixedNow = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

const checkingCSV = `Date,Description,Amount
2025-03-01,NETFLIX.COM,-15.49
2025-03-02,PAYROLL ACME,2500.00
2025-03-03,WHOLE FOODS MARKET,-82.10
`

const bankText = `Description                                   Summary Amt.
Beginning balance as of 03/01/2025                1,000.00
Ending balance as of 03/31/2025                   1,180.00

Date        Description                                    Amount  Running Bal.
03/05/2025  PAYROLL ACME CORP DES:PAYROLL ID:12345        200.00         1,200.00
03/07/2025  ATM WITHDRAWAL #4471                          -20.00         1,180.00
`

const cardText = `CHASE SAPPHIRE PREFERRED
Account Summary
Previous Balance                      $1,234.56
Payment Due Date 04/15/2025
ACCOUNT ACTIVITY
Date of Transaction    Merchant Name or Transaction Description    $ Amount
PAYMENTS AND OTHER CREDITS
03/10/25   Payment Thank You-Mobile                 500.00CR
PURCHASE
03/15/25   COFFEE SHOP PALO ALTO, CA                    5.50
03/16/25   NETFLIX.COM                                 15.49
`

const bankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20250331120000
<LANGUAGE>ENG
<FI>
<ORG>TESTBANK
<FID>12345
</FI>
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>9876543210
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20250301000000
<DTEND>20250331235959
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250305120000
<TRNAMT>-50.00
<FITID>TXN001
<NAME>Coffee Shop
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20250315120000
<TRNAMT>1000.00
<FITID>TXN002
<NAME>Paycheck
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2000.00
<DTASOF>20250331235959
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

var checkingMapping = &csv.ColumnMapping{
	DateColumn:   0,
	PayeeColumn:  csv.Col(1),
	AmountColumn: csv.Col(2),
}

type recorder struct {
	mu     sync.Mutex
	events []streaming.SSEEvent
}

func (r *recorder) Broadcast(_ string, ev streaming.SSEEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type fakeExtractor struct{ text string }

func (f fakeExtractor) ExtractText(context.Context, string) (string, error) {
	return f.text, nil
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l := ledger.New(s, ledger.WithClock(func() time.Time { return fixedNow }))
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(l, registry.MustNew(), opts...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func mustAccount(t *testing.T, s *Service, name string) *domain.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), ledger.CreateAccountInput{Name: name})
	require.NoError(t, err)
	return a
}

func TestPreviewTabular(t *testing.T) {
	s := newTestService(t, WithLimits(Limits{Tabular: 2}))

	preview, err := s.PreviewTabular(context.Background(), writeFile(t, "march.csv", checkingCSV), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "Description", "Amount"}, preview.Headers)
	assert.Len(t, preview.Rows, 2)
	assert.Equal(t, 3, preview.TotalRows)

	tsv := "Date\tDescription\tAmount\n2025-03-01\tNETFLIX.COM\t-15.49\n"
	preview, err = s.PreviewTabular(context.Background(), writeFile(t, "march.tsv", tsv), 10)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2025-03-01", "NETFLIX.COM", "-15.49"}}, preview.Rows)
}

func TestParseTabular_RequiresMapping(t *testing.T) {
	s := newTestService(t)
	_, err := s.ParseTabular(context.Background(), writeFile(t, "march.csv", checkingCSV), nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestImportFile_CSV(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	acct := mustAccount(t, s, "Checking")
	path := writeFile(t, "march.csv", checkingCSV)

	fi, err := s.ImportFile(ctx, ImportRequest{Path: path, AccountID: acct.ID, Mapping: checkingMapping})
	require.NoError(t, err)
	assert.Equal(t, parser.FormatCSV, fi.Format)
	assert.Equal(t, "csv", fi.Source)
	assert.Equal(t, 3, fi.Parsed)
	require.NotNil(t, fi.Result)
	assert.Equal(t, 3, fi.Result.Imported)
	assert.True(t, fi.Validation.Valid())

	again, err := s.ImportFile(ctx, ImportRequest{Path: path, AccountID: acct.ID, Mapping: checkingMapping})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Result.Imported)
	assert.Equal(t, 3, again.Result.Skipped)

	got, err := s.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1549+250000-8210), got.CurrentBalance)
}

func TestImportFile_DryRunWritesNothing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	acct := mustAccount(t, s, "Checking")

	fi, err := s.ImportFile(ctx, ImportRequest{
		Path:      writeFile(t, "march.csv", checkingCSV),
		AccountID: acct.ID,
		Mapping:   checkingMapping,
		DryRun:    true,
	})
	require.NoError(t, err)
	require.NotNil(t, fi.Plan)
	assert.Nil(t, fi.Result)
	assert.Equal(t, 3, fi.Plan.WouldImport)

	txns, err := s.ListTransactions(ctx, store.TransactionFilter{AccountID: acct.ID})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestImportFile_FixedLayoutDetected(t *testing.T) {
	s := newTestService(t)
	acct := mustAccount(t, s, "Checking")

	fi, err := s.ImportFile(context.Background(), ImportRequest{Path: writeFile(t, "march.txt", bankText), AccountID: acct.ID})
	require.NoError(t, err)
	assert.Equal(t, parser.FormatFixedLayout, fi.Format)
	assert.Equal(t, "fixed-layout", fi.Source)
	assert.Equal(t, 2, fi.Result.Imported)
}

func TestImportFile_DocumentSourceTag(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	acct := mustAccount(t, s, "Sapphire")

	fi, err := s.ImportFile(ctx, ImportRequest{
		Path:      writeFile(t, "march.txt", cardText),
		Format:    parser.FormatDocument,
		AccountID: acct.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "document:chase", fi.Source)
	assert.Equal(t, 3, fi.Result.Imported)

	txns, err := s.ListTransactions(ctx, store.TransactionFilter{AccountID: acct.ID})
	require.NoError(t, err)
	require.Len(t, txns, 3)
	for _, txn := range txns {
		assert.Equal(t, "document:chase", txn.ImportSource)
	}
}

func TestParseDocument_UsesConfiguredExtractor(t *testing.T) {
	s := newTestService(t, WithExtractor(fakeExtractor{text: cardText}))

	res, err := s.ParseDocument(context.Background(), "/nowhere/statement.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Chase", res.DetectedFormat)
	require.Len(t, res.Transactions, 3)
	assert.Equal(t, int64(50000), res.Transactions[0].Amount)
	assert.Equal(t, int64(-550), res.Transactions[1].Amount)
}

func TestImportFile_OFXCreatesAccount(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	path := writeFile(t, "march.ofx", bankOFX)

	fi, err := s.ImportFile(ctx, ImportRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, parser.FormatOFX, fi.Format)
	assert.Equal(t, 2, fi.Result.Imported)

	acct, err := s.AccountByName(ctx, "TESTBANK 3210")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, fi.AccountID)
	assert.Equal(t, domain.AccountTypeChecking, acct.Type)

	again, err := s.ImportFile(ctx, ImportRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, acct.ID, again.AccountID)
	assert.Equal(t, 2, again.Result.Skipped)
}

func TestImportFile_NoAccount(t *testing.T) {
	s := newTestService(t)
	_, err := s.ImportFile(context.Background(), ImportRequest{
		Path:    writeFile(t, "march.csv", checkingCSV),
		Mapping: checkingMapping,
	})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestImportFile_DryRunUnknownAccountName(t *testing.T) {
	s := newTestService(t)
	_, err := s.ImportFile(context.Background(), ImportRequest{
		Path:        writeFile(t, "march.csv", checkingCSV),
		AccountName: "Savings",
		Mapping:     checkingMapping,
		DryRun:      true,
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestParseFile_Errors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.ParseFile(ctx, filepath.Join(t.TempDir(), "missing.csv"), "", checkingMapping)
	assert.True(t, errors.Is(err, domain.ErrSourceUnreadable), "got %v", err)

	_, err = s.ParseFile(ctx, writeFile(t, "notes.md", "# not a statement\n"), "", nil)
	assert.True(t, errors.Is(err, domain.ErrFormat), "got %v", err)
}

func TestPreviewFile_Dispatch(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	out, err := s.PreviewFile(ctx, writeFile(t, "march.ofx", bankOFX), "", 1)
	require.NoError(t, err)
	stmt, ok := out.(*ofx.Statement)
	require.True(t, ok, "got %T", out)
	assert.Len(t, stmt.Transactions, 1)
	assert.Equal(t, 2, stmt.TotalRows)

	out, err = s.PreviewFile(ctx, writeFile(t, "march.txt", bankText), "", 1)
	require.NoError(t, err)
	res, ok := out.(*fixed.Result)
	require.True(t, ok, "got %T", out)
	assert.Len(t, res.Transactions, 1)
}

func TestImportFiles_BroadcastsProgress(t *testing.T) {
	rec := &recorder{}
	s := newTestService(t, WithBroadcaster(rec))
	ctx := context.Background()
	acct := mustAccount(t, s, "Checking")

	reqs := []ImportRequest{
		{Path: writeFile(t, "march.csv", checkingCSV), AccountID: acct.ID, Mapping: checkingMapping},
		{Path: writeFile(t, "april.csv", checkingCSV), AccountID: acct.ID},
		{Path: writeFile(t, "march.txt", bankText), AccountID: acct.ID},
	}

	summary, err := s.ImportFiles(ctx, "sess", reqs)
	require.NoError(t, err)
	assert.Len(t, summary.Files, 3)
	assert.Equal(t, 5, summary.Imported)
	assert.Equal(t, 1, summary.FileErrors)
	assert.NotEmpty(t, summary.Files[1].Error)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.events)
	assert.Equal(t, streaming.EventTypeComplete, rec.events[len(rec.events)-1].Type)

	var statuses []string
	var last streaming.ProgressEvent
	for _, ev := range rec.events {
		if f, ok := ev.FileData(); ok && f.Status != StatusProcessing {
			statuses = append(statuses, f.Status)
		}
		if p, ok := ev.ProgressData(); ok {
			last = p
		}
	}
	assert.Equal(t, []string{StatusCompleted, StatusError, StatusCompleted}, statuses)
	assert.Equal(t, 3, last.Processed)
	assert.InDelta(t, 100.0, last.Percentage, 0.001)
}

func TestImportFiles_Cancelled(t *testing.T) {
	rec := &recorder{}
	s := newTestService(t, WithBroadcaster(rec))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.ImportFiles(ctx, "sess", []ImportRequest{{Path: "a.csv"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Files)
	require.Len(t, rec.events, 1)
	assert.Equal(t, streaming.EventTypeError, rec.events[0].Type)
}

package tally_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/output"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/registry"
	"github.com/rumor-ml/commons.systems/tally/internal/rules"
	"github.com/rumor-ml/commons.systems/tally/internal/scanner"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
	"github.com/rumor-ml/commons.systems/tally/internal/store/sqlite"
)

const checkingCSV = `Date,Description,Amount
2025-03-01,PAYROLL ACME CORP,2500.00
2025-03-04,WHOLE FOODS MARKET #123,-82.10
2025-03-19,AMEX AUTOPAY PAYMENT,-500.00
`

const amexOFX = `OFXHEADER:100
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
<DTSERVER>20250401120000
<LANGUAGE>ENG
<FI>
<ORG>AMEX
<FID>1000
</FI>
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>372800002011
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20250301000000
<DTEND>20250331235959
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250312120000
<TRNAMT>-25.99
<FITID>TXN001
<NAME>AMAZON MKTPLACE
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20250320120000
<TRNAMT>500.00
<FITID>TXN002
<NAME>PAYMENT THANK YOU
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>474.01
<DTASOF>20250331000000
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

// writeStatements lays out {root}/{account}/{period}/file the way a
// statements folder is usually kept.
func writeStatements(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		filepath.Join("chase_checking", "2025-03", "march.csv"): checkingCSV,
		filepath.Join("amex", "2025-03.qfx"):                    amexOFX,
		filepath.Join(".trash", "old.csv"):                      checkingCSV,
		filepath.Join("amex", "notes.md"):                       "not a statement",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newService(t *testing.T) *pipeline.Service {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := func() time.Time { return time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC) }
	return pipeline.New(ledger.New(st, ledger.WithClock(now)), registry.MustNew(), pipeline.WithClock(now))
}

func scanRequests(t *testing.T, root string) []pipeline.ImportRequest {
	t.Helper()
	results, err := scanner.New(root).Scan()
	require.NoError(t, err)
	require.Len(t, results, 2, "hidden directories and non-statement files are skipped")

	mapping := &csv.ColumnMapping{DateColumn: 0, PayeeColumn: csv.Col(1), AmountColumn: csv.Col(2)}
	reqs := pipeline.RequestsFromScan(results, "", false)
	for i := range reqs {
		reqs[i].Mapping = mapping
	}
	return reqs
}

func TestEndToEnd_ImportCategorizeAndMatch(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	root := writeStatements(t)

	set, err := rules.DefaultRuleSet()
	require.NoError(t, err)
	_, err = svc.SeedRules(ctx, set)
	require.NoError(t, err)

	summary, err := svc.ImportFiles(ctx, "session-1", scanRequests(t, root))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FileErrors)
	assert.Equal(t, 5, summary.Imported)
	assert.Equal(t, 0, summary.Skipped)
	assert.Positive(t, summary.Categorized)

	accounts, err := svc.ListAccounts(ctx)
	require.NoError(t, err)
	balances := map[string]int64{}
	types := map[string]domain.AccountType{}
	for _, a := range accounts {
		balances[a.Name] = a.CurrentBalance
		types[a.Name] = a.Type
	}
	// The OFX statement names its own account; the CSV takes its directory's.
	assert.Equal(t, map[string]int64{"AMEX 2011": 47401, "Chase Checking": 191790}, balances)
	assert.Equal(t, domain.AccountTypeCredit, types["AMEX 2011"])

	candidates, err := svc.DetectTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	pair := candidates[0]
	assert.Equal(t, 1, pair.DaysApart)
	assert.Greater(t, pair.Confidence, 0.5)

	transferID, err := svc.LinkTransfer(ctx, pair.TransactionAID, pair.TransactionBID)
	require.NoError(t, err)
	candidates, err = svc.DetectTransfers(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates, "linked transactions are not proposed again")

	require.NoError(t, svc.UnlinkTransfer(ctx, transferID))
	candidates, err = svc.DetectTransfers(ctx)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestEndToEnd_ReimportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	root := writeStatements(t)

	first, err := svc.ImportFiles(ctx, "session-1", scanRequests(t, root))
	require.NoError(t, err)
	require.Equal(t, 5, first.Imported)

	second, err := svc.ImportFiles(ctx, "session-2", scanRequests(t, root))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 5, second.Skipped)

	txns, err := svc.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 5)
}

func TestEndToEnd_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	root := writeStatements(t)

	// Accounts must exist for a dry run; it never creates them.
	for _, name := range []string{"Chase Checking", "AMEX 2011"} {
		_, err := svc.CreateAccount(ctx, ledger.CreateAccountInput{Name: name})
		require.NoError(t, err)
	}

	reqs := scanRequests(t, root)
	for i := range reqs {
		reqs[i].DryRun = true
	}
	summary, err := svc.ImportFiles(ctx, "dry", reqs)
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)
	for _, fi := range summary.Files {
		require.NotNil(t, fi.Plan, fi.Path)
		assert.Nil(t, fi.Result)
	}
	assert.Equal(t, 0, summary.Imported)

	txns, err := svc.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestEndToEnd_SnapshotExportAndMerge(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	root := writeStatements(t)

	_, err := svc.ImportFiles(ctx, "session-1", scanRequests(t, root))
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, output.WriteSnapshot(snap, output.WriteOptions{FilePath: out}))

	// Merging the same snapshot again keeps one copy of every record.
	require.NoError(t, output.WriteSnapshot(snap, output.WriteOptions{FilePath: out, MergeMode: true}))
	loaded, err := output.LoadSnapshot(out)
	require.NoError(t, err)
	assert.Len(t, loaded.Accounts, 2)
	assert.Len(t, loaded.Transactions, 5)
	for _, txn := range loaded.Transactions {
		assert.NotEmpty(t, txn.ImportBatchID)
		assert.Contains(t, []string{"csv", "ofx"}, txn.ImportSource)
	}
}

package csv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

const checkingExport = `Posted Date,Amount,Description,Memo,Category
01/06/2025,-5.00,COFFEE SHOP,card 1234,Dining
01/07/2025,"1,285.00",PAYROLL ACME,,Income
01/08/2025,(42.10),GROCERY MART, weekly ,
`

func TestPreview(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Amount,Payee\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "01/%02d/2025,-%d.00,PAYEE %d\n", i, i, i)
	}

	result, err := Preview(context.Background(), strings.NewReader(b.String()), 0, ',')
	require.NoError(t, err)

	assert.Equal(t, []string{"Date", "Amount", "Payee"}, result.Headers)
	assert.Len(t, result.Rows, DefaultPreviewRows)
	assert.Equal(t, 12, result.TotalRows)
	assert.Equal(t, []string{"01/01/2025", "-1.00", "PAYEE 1"}, result.Rows[0])
}

func TestPreview_SmallLimit(t *testing.T) {
	result, err := Preview(context.Background(), strings.NewReader(checkingExport), 2, ',')
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, 3, result.TotalRows)
}

func TestParse_AmountColumn(t *testing.T) {
	mapping := &ColumnMapping{
		DateColumn:     0,
		AmountColumn:   Col(1),
		PayeeColumn:    Col(2),
		MemoColumn:     Col(3),
		CategoryColumn: Col(4),
		DateFormat:     "%m/%d/%Y",
	}

	result, err := Parse(context.Background(), strings.NewReader(checkingExport), mapping)
	require.NoError(t, err)
	require.Empty(t, result.RowErrors)
	require.Len(t, result.Transactions, 3)

	first := result.Transactions[0]
	assert.Equal(t, "2025-01-06", first.Date.String())
	assert.Equal(t, int64(-500), first.Amount)
	assert.Equal(t, "COFFEE SHOP", first.Payee)
	assert.Equal(t, "card 1234", first.Memo)
	assert.Equal(t, "Dining", first.CategoryHint)
	assert.Equal(t, []string{"Posted Date", "Amount", "Description", "Memo", "Category"}, first.RawFields.Names())

	second := result.Transactions[1]
	assert.Equal(t, int64(128500), second.Amount)
	assert.Empty(t, second.Memo, "empty memo is absent")

	third := result.Transactions[2]
	assert.Equal(t, int64(-4210), third.Amount)
	assert.Equal(t, "weekly", third.Memo)
	assert.Empty(t, third.CategoryHint)
	raw, ok := third.RawFields.Get("Memo")
	assert.True(t, ok)
	assert.Equal(t, " weekly ", raw, "raw fields keep the source value")
}

func TestParse_DebitCredit(t *testing.T) {
	input := `Date,Description,Debit,Credit
2025-01-06,COFFEE,5.00,
2025-01-07,REFUND,,12.50
2025-01-08,ODD,1.00,3.00
2025-01-09,NOTHING,,
`
	mapping := &ColumnMapping{DateColumn: 0, PayeeColumn: Col(1), DebitColumn: Col(2), CreditColumn: Col(3)}

	result, err := Parse(context.Background(), strings.NewReader(input), mapping)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 3)
	assert.Equal(t, int64(-500), result.Transactions[0].Amount)
	assert.Equal(t, int64(1250), result.Transactions[1].Amount)
	assert.Equal(t, int64(200), result.Transactions[2].Amount)

	require.Len(t, result.RowErrors, 1)
	assert.Equal(t, 5, result.RowErrors[0].Row)
	assert.True(t, errors.Is(result.RowErrors[0], domain.ErrFormat))
}

func TestParse_InvertAmounts(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		mapping *ColumnMapping
		want    int64
	}{
		{
			name:    "single column",
			input:   "Date,Amount\n2025-01-06,25.00\n",
			mapping: &ColumnMapping{DateColumn: 0, AmountColumn: Col(1), InvertAmounts: true},
			want:    -2500,
		},
		{
			name:    "debit and credit",
			input:   "Date,Debit,Credit\n2025-01-06,25.00,\n",
			mapping: &ColumnMapping{DateColumn: 0, DebitColumn: Col(1), CreditColumn: Col(2), InvertAmounts: true},
			want:    2500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Parse(context.Background(), strings.NewReader(tt.input), tt.mapping)
			require.NoError(t, err)
			require.Len(t, result.Transactions, 1)
			assert.Equal(t, tt.want, result.Transactions[0].Amount)
		})
	}
}

func TestParse_RowErrorsDoNotAbort(t *testing.T) {
	input := `Date,Amount,Payee
2025-01-06,-5.00,COFFEE
not-a-date,-6.00,BAD DATE
2025-01-08,abc,BAD AMOUNT
2025-01-09
2025-01-10,,EMPTY AMOUNT

2025-01-11,-7.00,TEA
`
	mapping := &ColumnMapping{DateColumn: 0, AmountColumn: Col(1), PayeeColumn: Col(2)}

	result, err := Parse(context.Background(), strings.NewReader(input), mapping)
	require.NoError(t, err)

	require.Len(t, result.Transactions, 2)
	assert.Equal(t, "COFFEE", result.Transactions[0].Payee)
	assert.Equal(t, "TEA", result.Transactions[1].Payee)

	rows := make([]int, len(result.RowErrors))
	for i, re := range result.RowErrors {
		rows[i] = re.Row
		assert.True(t, errors.Is(re, domain.ErrFormat), "row %d: %v", re.Row, re.Err)
	}
	assert.Equal(t, []int{3, 4, 5, 6}, rows)
}

func TestParse_Fatal(t *testing.T) {
	mapping := &ColumnMapping{DateColumn: 0, AmountColumn: Col(1)}

	_, err := Parse(context.Background(), strings.NewReader(""), mapping)
	assert.True(t, errors.Is(err, domain.ErrSourceUnreadable))

	_, err = Parse(context.Background(), strings.NewReader("Date,Amount\n"), &ColumnMapping{DateColumn: 0})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestParse_TabDelimited(t *testing.T) {
	input := "Date\tAmount\tPayee\n2025-01-06\t-5.00\tCOFFEE, INC\n"
	mapping := &ColumnMapping{DateColumn: 0, AmountColumn: Col(1), PayeeColumn: Col(2), Delimiter: `\t`}

	result, err := Parse(context.Background(), strings.NewReader(input), mapping)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "COFFEE, INC", result.Transactions[0].Payee)
}

func TestParse_Windows1252(t *testing.T) {
	input := []byte("Date,Amount,Payee\n2025-01-06,-5.00,CAF\xc9 LUNA\n")
	mapping := &ColumnMapping{DateColumn: 0, AmountColumn: Col(1), PayeeColumn: Col(2)}

	result, err := Parse(context.Background(), bytes.NewReader(input), mapping)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "CAFÉ LUNA", result.Transactions[0].Payee)
}

func TestParse_Cancelled(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Amount\n")
	for i := 0; i < 1000; i++ {
		b.WriteString("2025-01-06,1.00\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Parse(ctx, strings.NewReader(b.String()), &ColumnMapping{DateColumn: 0, AmountColumn: Col(1)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColumnMappingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mapping ColumnMapping
		wantErr bool
	}{
		{"amount column", ColumnMapping{AmountColumn: Col(1)}, false},
		{"debit and credit", ColumnMapping{DebitColumn: Col(1), CreditColumn: Col(2)}, false},
		{"debit only", ColumnMapping{DebitColumn: Col(1)}, true},
		{"no amount", ColumnMapping{}, true},
		{"negative column", ColumnMapping{AmountColumn: Col(1), PayeeColumn: Col(-1)}, true},
		{"bad date format", ColumnMapping{AmountColumn: Col(1), DateFormat: "%Q"}, true},
		{"long delimiter", ColumnMapping{AmountColumn: Col(1), Delimiter: ";;"}, true},
		{"semicolon", ColumnMapping{AmountColumn: Col(1), Delimiter: ";"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseMapping(t *testing.T) {
	data := []byte(`
date_column: 0
debit_column: 2
credit_column: 3
payee_column: 1
date_format: "%m/%d/%Y"
invert_amounts: true
`)
	m, err := ParseMapping(data)
	require.NoError(t, err)
	assert.Equal(t, 0, m.DateColumn)
	require.NotNil(t, m.DebitColumn)
	assert.Equal(t, 2, *m.DebitColumn)
	assert.Nil(t, m.AmountColumn)
	assert.True(t, m.InvertAmounts)

	_, err = ParseMapping([]byte("date_column: 0\n"))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestOpenSpreadsheet_XLSX(t *testing.T) {
	book := excelize.NewFile()
	rows := [][]interface{}{
		{"Date", "Amount", "Payee"},
		{"2025-01-06", "-5.00", "COFFEE"},
		{"2025-01-07", "12.50", "REFUND"},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow("Sheet1", cellRef, &row))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, book.Close())

	reader, err := OpenSpreadsheet("jan.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	result, err := ParseRows(context.Background(), reader, &ColumnMapping{DateColumn: 0, AmountColumn: Col(1), PayeeColumn: Col(2)})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)
	assert.Equal(t, int64(-500), result.Transactions[0].Amount)
	assert.Equal(t, "REFUND", result.Transactions[1].Payee)

	assert.True(t, NewSpreadsheetParser().CanParse("jan.xlsx", buf.Bytes()[:8]))
}

func TestOpenSpreadsheet_Errors(t *testing.T) {
	_, err := OpenSpreadsheet("jan.xlsx", bytes.NewReader([]byte("not a zip")))
	assert.True(t, errors.Is(err, domain.ErrSourceUnreadable))

	_, err = OpenSpreadsheet("jan.ods", bytes.NewReader(nil))
	assert.True(t, errors.Is(err, domain.ErrFormat))
}

func TestCanParse(t *testing.T) {
	p := NewParser()
	assert.Equal(t, "csv", p.Name())
	assert.True(t, p.CanParse("/s/jan.csv", []byte("Date,Amount\n")))
	assert.True(t, p.CanParse("/s/jan.TSV", []byte("Date\tAmount\n")))
	assert.False(t, p.CanParse("/s/jan.tsv", []byte("Date,Amount\n")))
	assert.False(t, p.CanParse("/s/jan.txt", []byte("Date,Amount\n")))

	s := NewSpreadsheetParser()
	assert.True(t, s.CanParse("a.xls", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0}))
	assert.False(t, s.CanParse("a.xls", []byte("PK\x03\x04")))
	assert.False(t, s.CanParse("a.csv", []byte("PK\x03\x04")))
}

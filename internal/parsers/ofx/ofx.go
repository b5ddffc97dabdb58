// Package ofx parses OFX/QFX downloads into transactions.
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

// Parser implements OFX/QFX parsing.
// The struct has no fields; each call works only on its input, so the parser
// is safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Statement is one account statement from an OFX response. Amounts keep the
// sign the institution wrote.
type Statement struct {
	Institution  string                     `json:"institution,omitempty"`
	AccountID    string                     `json:"accountId"`
	AccountType  domain.AccountType         `json:"accountType"`
	Start        domain.Date                `json:"start"`
	End          domain.Date                `json:"end"`
	Transactions []domain.ParsedTransaction `json:"transactions"`
	TotalRows    int                        `json:"totalRows"`
	// SkippedSecurities counts investment trades, which carry no cash
	// transaction of their own and are not imported.
	SkippedSecurities int `json:"skippedSecurities,omitempty"`
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// Format returns parser.FormatOFX
func (p *Parser) Format() parser.Format {
	return parser.FormatOFX
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}

	// v1 SGML and v2 XML markers
	headerUpper := strings.ToUpper(string(header))
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Preview parses the statement and keeps at most limit transactions.
func (p *Parser) Preview(ctx context.Context, r io.Reader, limit int) (*Statement, error) {
	stmt, err := p.Parse(ctx, r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(stmt.Transactions) > limit {
		stmt.Transactions = stmt.Transactions[:limit]
	}
	return stmt, nil
}

// Parse reads the first credit card, bank, or investment statement in r.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read OFX content: %v", domain.ErrSourceUnreadable, err)
	}
	// ofxgo.ParseResponse does not take a context
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse OFX file (%d bytes): %v", domain.ErrFormat, len(content), err)
	}

	var stmt *Statement
	switch {
	case len(response.CreditCard) > 0:
		stmt, err = parseCreditCard(response)
	case len(response.Bank) > 0:
		stmt, err = parseBank(response)
	case len(response.InvStmt) > 0:
		stmt, err = parseInvestment(response)
	default:
		return nil, fmt.Errorf("%w: no credit card, bank, or investment statement in OFX file", domain.ErrFormat)
	}
	if err != nil {
		return nil, err
	}
	stmt.Institution = response.Signon.Org.String()
	stmt.TotalRows = len(stmt.Transactions)
	return stmt, nil
}

func parseCreditCard(resp *ofxgo.Response) (*Statement, error) {
	ccStmt, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected credit card statement type %T", domain.ErrFormat, resp.CreditCard[0])
	}
	if ccStmt.BankTranList == nil {
		return nil, fmt.Errorf("%w: missing transaction list in credit card statement", domain.ErrFormat)
	}

	txns, err := convertAll(ccStmt.BankTranList.Transactions)
	if err != nil {
		return nil, err
	}
	return &Statement{
		AccountID:    ccStmt.CCAcctFrom.AcctID.String(),
		AccountType:  domain.AccountTypeCredit,
		Start:        domain.DateOf(ccStmt.BankTranList.DtStart.Time),
		End:          domain.DateOf(ccStmt.BankTranList.DtEnd.Time),
		Transactions: txns,
	}, nil
}

func parseBank(resp *ofxgo.Response) (*Statement, error) {
	bankStmt, ok := resp.Bank[0].(*ofxgo.StatementResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected bank statement type %T", domain.ErrFormat, resp.Bank[0])
	}
	if bankStmt.BankTranList == nil {
		return nil, fmt.Errorf("%w: missing transaction list in bank statement", domain.ErrFormat)
	}

	txns, err := convertAll(bankStmt.BankTranList.Transactions)
	if err != nil {
		return nil, err
	}
	return &Statement{
		AccountID:    bankStmt.BankAcctFrom.AcctID.String(),
		AccountType:  mapBankAccountType(bankStmt.BankAcctFrom),
		Start:        domain.DateOf(bankStmt.BankTranList.DtStart.Time),
		End:          domain.DateOf(bankStmt.BankTranList.DtEnd.Time),
		Transactions: txns,
	}, nil
}

func parseInvestment(resp *ofxgo.Response) (*Statement, error) {
	invStmt, ok := resp.InvStmt[0].(*ofxgo.InvStatementResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected investment statement type %T", domain.ErrFormat, resp.InvStmt[0])
	}
	if invStmt.InvTranList == nil {
		return nil, fmt.Errorf("%w: missing transaction list in investment statement", domain.ErrFormat)
	}

	// Cash movements (dividends, interest, fees) only
	var cash []ofxgo.Transaction
	for _, bankTxn := range invStmt.InvTranList.BankTransactions {
		cash = append(cash, bankTxn.Transactions...)
	}
	txns, err := convertAll(cash)
	if err != nil {
		return nil, err
	}
	return &Statement{
		AccountID:         invStmt.InvAcctFrom.AcctID.String(),
		AccountType:       domain.AccountTypeInvestment,
		Start:             domain.DateOf(invStmt.InvTranList.DtStart.Time),
		End:               domain.DateOf(invStmt.InvTranList.DtEnd.Time),
		Transactions:      txns,
		SkippedSecurities: len(invStmt.InvTranList.InvTransactions),
	}, nil
}

func mapBankAccountType(acct ofxgo.BankAcct) domain.AccountType {
	switch acct.AcctType {
	case ofxgo.AcctTypeSavings, ofxgo.AcctTypeMoneyMrkt, ofxgo.AcctTypeCD:
		return domain.AccountTypeSavings
	case ofxgo.AcctTypeCreditLine:
		return domain.AccountTypeCredit
	default:
		return domain.AccountTypeChecking
	}
}

func convertAll(list []ofxgo.Transaction) ([]domain.ParsedTransaction, error) {
	out := make([]domain.ParsedTransaction, 0, len(list))
	for i, txn := range list {
		parsed, err := convert(txn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction at index %d: %w", i, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

// convert maps one STMTTRN. The posted date wins over the user date; NAME
// wins over MEMO for the payee.
func convert(txn ofxgo.Transaction) (domain.ParsedTransaction, error) {
	id := txn.FiTID.String()

	date := txn.DtPosted.Time
	if date.IsZero() && txn.DtUser != nil {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return domain.ParsedTransaction{}, fmt.Errorf("%w: transaction %s has neither posted nor user date", domain.ErrFormat, id)
	}

	// big.Rat to a two place decimal string keeps the conversion exact.
	amountText := txn.TrnAmt.FloatString(2)
	amount, err := normalize.ParseAmount(amountText)
	if err != nil {
		return domain.ParsedTransaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}

	name := strings.TrimSpace(txn.Name.String())
	memo := strings.TrimSpace(txn.Memo.String())
	payee := name
	if payee == "" {
		payee = memo
	}

	return domain.ParsedTransaction{
		Date:   domain.DateOf(date),
		Amount: amount,
		Payee:  payee,
		Memo:   memo,
		RawFields: domain.Fields{
			{Name: "FITID", Value: id},
			{Name: "TRNTYPE", Value: txn.TrnType.String()},
			{Name: "NAME", Value: name},
			{Name: "MEMO", Value: memo},
			{Name: "TRNAMT", Value: amountText},
		},
	}, nil
}

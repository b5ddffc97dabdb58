package domain

import (
	"fmt"
	"strings"
	"time"
)

// AccountType represents the account type enum.
// Use ValidateAccountType to ensure validity before use.
type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeCash       AccountType = "cash"
)

// CategoryType separates income, expense, and transfer categories.
type CategoryType string

const (
	CategoryTypeIncome   CategoryType = "income"
	CategoryTypeExpense  CategoryType = "expense"
	CategoryTypeTransfer CategoryType = "transfer"
)

// RuleType selects how a CategoryRule pattern is compared with a payee.
type RuleType string

const (
	RulePayeeContains   RuleType = "payee_contains"
	RulePayeeExact      RuleType = "payee_exact"
	RulePayeeStartsWith RuleType = "payee_starts_with"
	RulePayeeRegex      RuleType = "payee_regex"
)

// Frequency is the classified period of a recurring series.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// StatusCleared is the status given to imported transactions.
const StatusCleared = "cleared"

var (
	validAccountTypes = map[AccountType]struct{}{
		AccountTypeChecking: {}, AccountTypeSavings: {}, AccountTypeCredit: {},
		AccountTypeInvestment: {}, AccountTypeCash: {},
	}

	validCategoryTypes = map[CategoryType]struct{}{
		CategoryTypeIncome: {}, CategoryTypeExpense: {}, CategoryTypeTransfer: {},
	}

	validRuleTypes = map[RuleType]struct{}{
		RulePayeeContains: {}, RulePayeeExact: {}, RulePayeeStartsWith: {}, RulePayeeRegex: {},
	}

	frequencyDays = map[Frequency]int{
		FrequencyWeekly:    7,
		FrequencyBiweekly:  14,
		FrequencyMonthly:   30,
		FrequencyQuarterly: 91,
		FrequencyYearly:    365,
	}
)

// ValidateAccountType reports whether t is a known account type.
func ValidateAccountType(t AccountType) bool {
	_, ok := validAccountTypes[t]
	return ok
}

// ValidateCategoryType reports whether t is a known category type.
func ValidateCategoryType(t CategoryType) bool {
	_, ok := validCategoryTypes[t]
	return ok
}

// ValidateRuleType reports whether t is a known rule type.
func ValidateRuleType(t RuleType) bool {
	_, ok := validRuleTypes[t]
	return ok
}

// Days returns the canonical day count of the frequency, or 0 if unknown.
func (f Frequency) Days() int {
	return frequencyDays[f]
}

// ParsedTransaction is the canonical output of every statement parser.
// Empty strings mean "absent" for the optional text fields.
//
// Sign convention:
//
//	Negative = money leaving the account (charges, withdrawals)
//	Positive = money entering it (deposits, refunds, credits)
type ParsedTransaction struct {
	Date         Date   `json:"date"`
	Amount       int64  `json:"amount"`
	Payee        string `json:"payee,omitempty"`
	Memo         string `json:"memo,omitempty"`
	CategoryHint string `json:"categoryHint,omitempty"`
	// CategoryID is an explicit category chosen by the caller. Parsers leave it empty.
	CategoryID string `json:"categoryId,omitempty"`
	RawFields  Fields `json:"rawFields,omitempty"`
}

// Account is a ledger account. Balances are kept in minor units.
type Account struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Type           AccountType `json:"type"`
	CurrentBalance int64       `json:"currentBalance"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty"`
}

// Category is a ledger category.
type Category struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     CategoryType `json:"type"`
	ParentID *string      `json:"parentId,omitempty"`
}

// Transaction is a persisted ledger transaction.
type Transaction struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"accountId"`
	Date              Date       `json:"date"`
	Amount            int64      `json:"amount"`
	Payee             string     `json:"payee,omitempty"`
	OriginalPayee     string     `json:"originalPayee,omitempty"`
	Memo              string     `json:"memo,omitempty"`
	CategoryID        *string    `json:"categoryId,omitempty"`
	TransferID        *string    `json:"transferId,omitempty"`
	TransferAccountID *string    `json:"transferAccountId,omitempty"`
	Status            string     `json:"status"`
	ImportSource      string     `json:"importSource,omitempty"`
	ImportBatchID     string     `json:"importBatchId,omitempty"`
	Fingerprint       string     `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	DeletedAt         *time.Time `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the transaction carries a soft-delete marker.
func (t *Transaction) IsDeleted() bool {
	return t.DeletedAt != nil
}

// CategoryRule assigns CategoryID to transactions whose payee matches Pattern.
// Rules are evaluated by Priority descending; the first match wins.
type CategoryRule struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"categoryId"`
	RuleType   RuleType  `json:"ruleType"`
	Pattern    string    `json:"pattern"`
	AmountMin  *int64    `json:"amountMin,omitempty"`
	AmountMax  *int64    `json:"amountMax,omitempty"`
	AccountID  *string   `json:"accountId,omitempty"`
	Priority   int       `json:"priority"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks the rule's own invariants. It does not check that the
// referenced category or account exist.
func (r *CategoryRule) Validate() error {
	if r.CategoryID == "" {
		return fmt.Errorf("%w: rule category is required", ErrValidation)
	}
	if !ValidateRuleType(r.RuleType) {
		return fmt.Errorf("%w: unknown rule type %q", ErrValidation, r.RuleType)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("%w: rule pattern cannot be empty", ErrValidation)
	}
	if r.AmountMin != nil && r.AmountMax != nil && *r.AmountMin > *r.AmountMax {
		return fmt.Errorf("%w: amount_min %d is greater than amount_max %d", ErrValidation, *r.AmountMin, *r.AmountMax)
	}
	return nil
}

// SeriesMember is one transaction of a detected recurring series.
type SeriesMember struct {
	ID     string `json:"id"`
	Date   Date   `json:"date"`
	Amount int64  `json:"amount"`
}

// RecurringSeries is a detected periodic payment. It is derived from the
// ledger on request and never persisted as-is.
type RecurringSeries struct {
	Payee            string         `json:"payee"`
	NormalizedPayee  string         `json:"normalizedPayee"`
	AccountID        string         `json:"accountId"`
	AccountName      string         `json:"accountName,omitempty"`
	CategoryID       *string        `json:"categoryId,omitempty"`
	AverageAmount    int64          `json:"averageAmount"`
	Frequency        Frequency      `json:"frequency"`
	FrequencyDays    int            `json:"frequencyDays"`
	OccurrenceCount  int            `json:"occurrenceCount"`
	LastDate         Date           `json:"lastDate"`
	NextExpectedDate Date           `json:"nextExpectedDate"`
	Members          []SeriesMember `json:"members"`
}

// MemberIDs returns the ids of the series members in date order.
func (s *RecurringSeries) MemberIDs() []string {
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ID
	}
	return ids
}

// RecurringRule is a persisted expectation of a periodic payment.
type RecurringRule struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"accountId"`
	Payee         string    `json:"payee"`
	Amount        int64     `json:"amount"`
	CategoryID    *string   `json:"categoryId,omitempty"`
	Frequency     Frequency `json:"frequency"`
	NextExpected  Date      `json:"nextExpected"`
	ToleranceDays int       `json:"toleranceDays"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TransferCandidate is a likely transfer between two unlinked transactions.
type TransferCandidate struct {
	TransactionAID string  `json:"transactionAId"`
	TransactionBID string  `json:"transactionBId"`
	Confidence     float64 `json:"confidence"`
	// Amount is transaction A's amount; B carries the negation.
	Amount    int64 `json:"amount"`
	DaysApart int   `json:"daysApart"`
}

// ImportResult summarizes one import batch.
type ImportResult struct {
	Imported    int    `json:"imported"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Categorized int    `json:"categorized"`
	BatchID     string `json:"batchId"`
}

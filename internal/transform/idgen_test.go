package transform

import (
	"errors"
	"testing"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "simple name with space", input: "American Express", expected: "american-express"},
		{name: "already lowercase", input: "pnc bank", expected: "pnc-bank"},
		{name: "special characters", input: "Wells Fargo & Co.", expected: "wells-fargo-co"},
		{name: "multiple spaces", input: "Capital  One   Bank", expected: "capital-one-bank"},
		{name: "unicode characters", input: "Café Crédit", expected: "cafe-credit"},
		{name: "empty string", input: "", expectError: true},
		{name: "leading special chars", input: "!Chase Bank", expected: "chase-bank"},
		{name: "numbers in name", input: "Bank 123", expected: "bank-123"},
		{name: "only special characters", input: "!@#$%^&*()", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Slugify(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for %q, got %q", tt.input, result)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSourceTag(t *testing.T) {
	tests := []struct {
		format   parser.Format
		issuer   string
		expected string
	}{
		{parser.FormatCSV, "", "csv"},
		{parser.FormatCSV, "Chase", "csv"},
		{parser.FormatFixedLayout, "", "fixed-layout"},
		{parser.FormatOFX, "", "ofx"},
		{parser.FormatDocument, "", "document"},
		{parser.FormatDocument, "American Express", "document:american-express"},
		{parser.FormatDocument, "***", "document"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := SourceTag(tt.format, tt.issuer); got != tt.expected {
				t.Errorf("SourceTag(%q, %q) = %q, want %q", tt.format, tt.issuer, got, tt.expected)
			}
		})
	}
}

func TestExtractLast4(t *testing.T) {
	tests := map[string]string{
		"12345": "2345",
		"123":   "123",
		"":      "",
		"1234":  "1234",
	}
	for input, want := range tests {
		if got := ExtractLast4(input); got != want {
			t.Errorf("ExtractLast4(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestAccountName(t *testing.T) {
	tests := []struct {
		institution string
		number      string
		expected    string
	}{
		{"American Express", "3782822463", "American Express 2463"},
		{"", "1234", "Account 1234"},
		{"Chase", "", "Chase"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := AccountName(tt.institution, tt.number); got != tt.expected {
			t.Errorf("AccountName(%q, %q) = %q, want %q", tt.institution, tt.number, got, tt.expected)
		}
	}
}

func TestMapAccountType(t *testing.T) {
	tests := []struct {
		input       string
		expected    domain.AccountType
		expectError bool
	}{
		{"checking", domain.AccountTypeChecking, false},
		{"  Checking Account ", domain.AccountTypeChecking, false},
		{"SAVINGS", domain.AccountTypeSavings, false},
		{"credit card", domain.AccountTypeCredit, false},
		{"brokerage", domain.AccountTypeInvestment, false},
		{"cash", domain.AccountTypeCash, false},
		{"loan", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := MapAccountType(tt.input)
			if tt.expectError {
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("MapAccountType(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

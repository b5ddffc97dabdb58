package rules

import (
	"testing"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func rule(id string, typ domain.RuleType, pattern string, priority int) domain.CategoryRule {
	return domain.CategoryRule{
		ID:         id,
		CategoryID: "cat-" + id,
		RuleType:   typ,
		Pattern:    pattern,
		Priority:   priority,
		IsActive:   true,
	}
}

func TestEngine_MatchTypes(t *testing.T) {
	tests := []struct {
		name    string
		rule    domain.CategoryRule
		payee   string
		matched bool
	}{
		{"contains ignores case", rule("r", domain.RulePayeeContains, "Whole Foods", 0), "WHOLE FOODS MKT #123", true},
		{"contains miss", rule("r", domain.RulePayeeContains, "whole foods", 0), "Trader Joe's", false},
		{"exact ignores case", rule("r", domain.RulePayeeExact, "netflix", 0), "NETFLIX", true},
		{"exact needs whole payee", rule("r", domain.RulePayeeExact, "netflix", 0), "NETFLIX.COM", false},
		{"starts with", rule("r", domain.RulePayeeStartsWith, "sq *", 0), "SQ *BLUE BOTTLE", true},
		{"starts with miss", rule("r", domain.RulePayeeStartsWith, "blue", 0), "SQ *BLUE BOTTLE", false},
		{"regex is case sensitive", rule("r", domain.RulePayeeRegex, "^UBER", 0), "uber trip", false},
		{"regex match", rule("r", domain.RulePayeeRegex, `^UBER\s+\*?TRIP`, 0), "UBER *TRIP HELP.UBER.COM", true},
		{"invalid regex never matches", rule("r", domain.RulePayeeRegex, "([", 0), "([", false},
		{"absent payee never matches", rule("r", domain.RulePayeeRegex, ".*", 0), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine([]domain.CategoryRule{tt.rule})
			_, ok := engine.Match(Candidate{AccountID: "acct", Payee: tt.payee, Amount: -100})
			if ok != tt.matched {
				t.Errorf("Match(%q) = %v, want %v", tt.payee, ok, tt.matched)
			}
		})
	}
}

func TestEngine_Filters(t *testing.T) {
	bounded := rule("bounded", domain.RulePayeeContains, "rent", 0)
	bounded.AmountMin = ptr(int64(-300000))
	bounded.AmountMax = ptr(int64(-100000))

	scoped := rule("scoped", domain.RulePayeeContains, "rent", 0)
	scoped.AccountID = ptr("checking")

	tests := []struct {
		name    string
		rule    domain.CategoryRule
		cand    Candidate
		matched bool
	}{
		{"inside bounds", bounded, Candidate{Payee: "RENT", Amount: -200000}, true},
		{"lower bound inclusive", bounded, Candidate{Payee: "RENT", Amount: -300000}, true},
		{"upper bound inclusive", bounded, Candidate{Payee: "RENT", Amount: -100000}, true},
		{"below bounds", bounded, Candidate{Payee: "RENT", Amount: -300001}, false},
		{"above bounds", bounded, Candidate{Payee: "RENT", Amount: -99999}, false},
		{"same account", scoped, Candidate{AccountID: "checking", Payee: "RENT"}, true},
		{"other account", scoped, Candidate{AccountID: "savings", Payee: "RENT"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := NewEngine([]domain.CategoryRule{tt.rule}).Match(tt.cand)
			if ok != tt.matched {
				t.Errorf("Match() = %v, want %v", ok, tt.matched)
			}
		})
	}
}

func TestEngine_PriorityOrder(t *testing.T) {
	low := rule("low", domain.RulePayeeContains, "coffee", 10)
	high := rule("high", domain.RulePayeeContains, "coffee", 100)
	tieFirst := rule("tie-first", domain.RulePayeeContains, "shop", 50)
	tieSecond := rule("tie-second", domain.RulePayeeContains, "shop", 50)

	engine := NewEngine([]domain.CategoryRule{low, tieFirst, high, tieSecond})

	got, ok := engine.Match(Candidate{Payee: "COFFEE SHOP"})
	if !ok {
		t.Fatal("expected a match")
	}
	if got.ID != "high" {
		t.Errorf("first match = %s, want high", got.ID)
	}

	got, _ = engine.Match(Candidate{Payee: "GIFT SHOP"})
	if got.ID != "tie-first" {
		t.Errorf("equal priority match = %s, want tie-first (input order)", got.ID)
	}

	order := engine.Rules()
	want := []string{"high", "tie-first", "tie-second", "low"}
	for i, id := range want {
		if order[i].ID != id {
			t.Errorf("Rules()[%d] = %s, want %s", i, order[i].ID, id)
		}
	}
}

func TestEngine_SkipsInactive(t *testing.T) {
	inactive := rule("inactive", domain.RulePayeeContains, "coffee", 100)
	inactive.IsActive = false
	active := rule("active", domain.RulePayeeContains, "coffee", 0)

	engine := NewEngine([]domain.CategoryRule{inactive, active})
	if engine.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", engine.Len())
	}
	got, ok := engine.Match(Candidate{Payee: "coffee"})
	if !ok || got.ID != "active" {
		t.Errorf("Match() = %v, %v; want active", got, ok)
	}
}

func TestEngine_MatchReturnsCopy(t *testing.T) {
	engine := NewEngine([]domain.CategoryRule{rule("r", domain.RulePayeeContains, "coffee", 0)})

	got, _ := engine.Match(Candidate{Payee: "coffee"})
	got.CategoryID = "mutated"

	again, _ := engine.Match(Candidate{Payee: "coffee"})
	if again.CategoryID != "cat-r" {
		t.Errorf("engine state changed through returned rule: %s", again.CategoryID)
	}
}

func TestCheckPattern(t *testing.T) {
	if err := CheckPattern(domain.RulePayeeRegex, "(["); err == nil {
		t.Error("expected error for invalid regex")
	}
	if err := CheckPattern(domain.RulePayeeRegex, `^AMZN\b`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckPattern(domain.RulePayeeContains, "(["); err != nil {
		t.Errorf("non-regex patterns are literal: %v", err)
	}
}

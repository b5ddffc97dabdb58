// Package rules matches transactions against ordered category rules and
// loads rule sets from YAML.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// Candidate is the part of a transaction a rule can see.
type Candidate struct {
	AccountID string
	Payee     string
	Amount    int64
}

type compiledRule struct {
	rule    domain.CategoryRule
	pattern string         // lowercased, for the string rule types
	re      *regexp.Regexp // payee_regex only; nil when the pattern failed to compile
}

// Engine evaluates active rules in priority order (highest first).
// Matching has no side effects; an Engine is safe for concurrent use.
type Engine struct {
	rules []compiledRule
}

// NewEngine keeps the active rules and sorts them by priority. Equal
// priorities keep their input order. A regex rule whose pattern does not
// compile is kept but never matches.
func NewEngine(rules []domain.CategoryRule) *Engine {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		c := compiledRule{rule: r, pattern: strings.ToLower(r.Pattern)}
		if r.RuleType == domain.RulePayeeRegex {
			if re, err := regexp.Compile(r.Pattern); err == nil {
				c.re = re
			}
		}
		compiled = append(compiled, c)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority > compiled[j].rule.Priority
	})
	return &Engine{rules: compiled}
}

// Match returns the first rule that matches c, or (nil, false).
func (e *Engine) Match(c Candidate) (*domain.CategoryRule, bool) {
	for i := range e.rules {
		if e.rules[i].matches(c) {
			rule := e.rules[i].rule
			return &rule, true
		}
	}
	return nil, false
}

// Len returns the number of active rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Rules returns the active rules in evaluation order.
func (e *Engine) Rules() []domain.CategoryRule {
	out := make([]domain.CategoryRule, len(e.rules))
	for i, c := range e.rules {
		out[i] = c.rule
	}
	return out
}

func (c *compiledRule) matches(cand Candidate) bool {
	r := &c.rule
	if r.AccountID != nil && *r.AccountID != cand.AccountID {
		return false
	}
	if r.AmountMin != nil && cand.Amount < *r.AmountMin {
		return false
	}
	if r.AmountMax != nil && cand.Amount > *r.AmountMax {
		return false
	}
	if cand.Payee == "" {
		return false
	}

	switch r.RuleType {
	case domain.RulePayeeContains:
		return strings.Contains(strings.ToLower(cand.Payee), c.pattern)
	case domain.RulePayeeExact:
		return strings.ToLower(cand.Payee) == c.pattern
	case domain.RulePayeeStartsWith:
		return strings.HasPrefix(strings.ToLower(cand.Payee), c.pattern)
	case domain.RulePayeeRegex:
		return c.re != nil && c.re.MatchString(cand.Payee)
	}
	return false
}

// CheckPattern reports whether pattern is usable for ruleType. Only regex
// rules can fail here.
func CheckPattern(ruleType domain.RuleType, pattern string) error {
	if ruleType != domain.RulePayeeRegex {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("%w: invalid regex %q: %v", domain.ErrValidation, pattern, err)
	}
	return nil
}

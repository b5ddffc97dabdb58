package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
)

//go:embed rules.yaml
var embeddedRules []byte

// MaxPriority bounds priorities in YAML rule sets.
const MaxPriority = 999

// CategorySpec declares a category a rule set depends on.
type CategorySpec struct {
	Name string              `yaml:"name"`
	Type domain.CategoryType `yaml:"type"`
}

// RuleSpec is one rule as written in YAML. Categories and accounts are named,
// not referenced by id; amounts are decimal strings ("-20.00").
type RuleSpec struct {
	Name      string          `yaml:"name"`
	Category  string          `yaml:"category"`
	Account   string          `yaml:"account,omitempty"`
	MatchType domain.RuleType `yaml:"match_type"`
	Pattern   string          `yaml:"pattern"`
	Priority  int             `yaml:"priority"`
	AmountMin string          `yaml:"amount_min,omitempty"`
	AmountMax string          `yaml:"amount_max,omitempty"`
}

// RuleSet is the top-level YAML structure
type RuleSet struct {
	Categories []CategorySpec `yaml:"categories"`
	Rules      []RuleSpec     `yaml:"rules"`
}

// Bounds parses the optional amount bounds into minor units.
func (s *RuleSpec) Bounds() (lo, hi *int64, err error) {
	parse := func(text string) (*int64, error) {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		v, err := normalize.ParseAmount(text)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	if lo, err = parse(s.AmountMin); err != nil {
		return nil, nil, fmt.Errorf("amount_min: %w", err)
	}
	if hi, err = parse(s.AmountMax); err != nil {
		return nil, nil, fmt.Errorf("amount_max: %w", err)
	}
	return lo, hi, nil
}

// LoadRuleSet parses and validates YAML rule set data. Unknown fields are
// rejected so typos surface instead of silently widening a rule.
func LoadRuleSet(data []byte) (*RuleSet, error) {
	var set RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse YAML rules (check syntax, indentation, and field names): %v", domain.ErrValidation, err)
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadRuleSetFile loads a rule set from a filesystem path
func LoadRuleSetFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	set, err := LoadRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return set, nil
}

// DefaultRuleSet returns the embedded rule set.
func DefaultRuleSet() (*RuleSet, error) {
	set, err := LoadRuleSet(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules (possible binary corruption): %w", err)
	}
	return set, nil
}

func (s *RuleSet) validate() error {
	for i, c := range s.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: category %d: name cannot be empty", domain.ErrValidation, i)
		}
		if !domain.ValidateCategoryType(c.Type) {
			return fmt.Errorf("%w: category %d (%s): invalid type %q", domain.ErrValidation, i, c.Name, c.Type)
		}
	}

	for i, r := range s.Rules {
		if strings.TrimSpace(r.Category) == "" {
			return fmt.Errorf("%w: rule %d (%s): category cannot be empty", domain.ErrValidation, i, r.Name)
		}
		if !domain.ValidateRuleType(r.MatchType) {
			return fmt.Errorf("%w: rule %d (%s): invalid match_type %q", domain.ErrValidation, i, r.Name, r.MatchType)
		}
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("%w: rule %d (%s): pattern cannot be empty", domain.ErrValidation, i, r.Name)
		}
		if err := CheckPattern(r.MatchType, r.Pattern); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		if r.Priority < 0 || r.Priority > MaxPriority {
			return fmt.Errorf("%w: rule %d (%s): priority must be in [0,%d], got %d", domain.ErrValidation, i, r.Name, MaxPriority, r.Priority)
		}
		lo, hi, err := r.Bounds()
		if err != nil {
			return fmt.Errorf("%w: rule %d (%s): %v", domain.ErrValidation, i, r.Name, err)
		}
		if lo != nil && hi != nil && *lo > *hi {
			return fmt.Errorf("%w: rule %d (%s): amount_min is greater than amount_max", domain.ErrValidation, i, r.Name)
		}
	}
	return nil
}

// Declared reports whether the set declares a category called name
// (case-insensitive).
func (s *RuleSet) Declared(name string) (CategorySpec, bool) {
	for _, c := range s.Categories {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return CategorySpec{}, false
}

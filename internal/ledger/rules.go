package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/rules"
	"github.com/rumor-ml/commons.systems/tally/internal/store"
)

// CreateRuleInput describes a new category rule. Priority defaults to 0 and
// IsActive to true.
type CreateRuleInput struct {
	CategoryID string          `json:"categoryId"`
	RuleType   domain.RuleType `json:"ruleType"`
	Pattern    string          `json:"pattern"`
	AmountMin  *int64          `json:"amountMin,omitempty"`
	AmountMax  *int64          `json:"amountMax,omitempty"`
	AccountID  *string         `json:"accountId,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	IsActive   *bool           `json:"isActive,omitempty"`
}

// UpdateRuleInput changes a rule. Nil CategoryID, RuleType, Pattern,
// Priority, and IsActive keep the stored value. AmountMin, AmountMax, and
// AccountID are always replaced, so nil clears them.
type UpdateRuleInput struct {
	CategoryID *string          `json:"categoryId,omitempty"`
	RuleType   *domain.RuleType `json:"ruleType,omitempty"`
	Pattern    *string          `json:"pattern,omitempty"`
	AmountMin  *int64           `json:"amountMin,omitempty"`
	AmountMax  *int64           `json:"amountMax,omitempty"`
	AccountID  *string          `json:"accountId,omitempty"`
	Priority   *int             `json:"priority,omitempty"`
	IsActive   *bool            `json:"isActive,omitempty"`
}

// CreateRule validates and stores a rule.
func (l *Ledger) CreateRule(ctx context.Context, in CreateRuleInput) (*domain.CategoryRule, error) {
	rule := &domain.CategoryRule{
		ID:         uuid.NewString(),
		CategoryID: in.CategoryID,
		RuleType:   in.RuleType,
		Pattern:    in.Pattern,
		AmountMin:  in.AmountMin,
		AmountMax:  in.AmountMax,
		AccountID:  in.AccountID,
		Priority:   in.Priority,
		IsActive:   in.IsActive == nil || *in.IsActive,
		CreatedAt:  l.now().UTC(),
	}

	err := l.store.Update(ctx, func(tx store.Tx) error {
		if err := checkRule(tx, rule); err != nil {
			return err
		}
		return tx.InsertRule(rule)
	})
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("rule", rule.ID).Str("pattern", rule.Pattern).Msg("rule created")
	return rule, nil
}

// UpdateRule applies in to the rule with id and returns the result.
func (l *Ledger) UpdateRule(ctx context.Context, id string, in UpdateRuleInput) (*domain.CategoryRule, error) {
	var rule *domain.CategoryRule
	err := l.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if rule, err = tx.GetRule(id); err != nil {
			return err
		}

		if in.CategoryID != nil {
			rule.CategoryID = *in.CategoryID
		}
		if in.RuleType != nil {
			rule.RuleType = *in.RuleType
		}
		if in.Pattern != nil {
			rule.Pattern = *in.Pattern
		}
		if in.Priority != nil {
			rule.Priority = *in.Priority
		}
		if in.IsActive != nil {
			rule.IsActive = *in.IsActive
		}
		rule.AmountMin = in.AmountMin
		rule.AmountMax = in.AmountMax
		rule.AccountID = in.AccountID

		if err := checkRule(tx, rule); err != nil {
			return err
		}
		return tx.UpdateRule(rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule. Unknown ids return domain.ErrNotFound.
func (l *Ledger) DeleteRule(ctx context.Context, id string) error {
	return l.store.Update(ctx, func(tx store.Tx) error {
		return tx.DeleteRule(id)
	})
}

// ListRules returns every rule, highest priority first and newest first
// within a priority.
func (l *Ledger) ListRules(ctx context.Context) ([]domain.CategoryRule, error) {
	var list []domain.CategoryRule
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListRules(false)
		return err
	})
	return list, err
}

// checkRule validates the rule and the records it references.
func checkRule(tx store.Tx, rule *domain.CategoryRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := rules.CheckPattern(rule.RuleType, rule.Pattern); err != nil {
		return err
	}
	if _, err := tx.GetCategory(rule.CategoryID); err != nil {
		return fmt.Errorf("%w: category %q does not exist", domain.ErrValidation, rule.CategoryID)
	}
	if rule.AccountID != nil {
		if _, err := tx.GetAccount(*rule.AccountID); err != nil {
			return fmt.Errorf("%w: account %q does not exist", domain.ErrValidation, *rule.AccountID)
		}
	}
	return nil
}

// SeedResult counts what SeedRules changed.
type SeedResult struct {
	CategoriesCreated int `json:"categoriesCreated"`
	RulesCreated      int `json:"rulesCreated"`
	RulesSkipped      int `json:"rulesSkipped"`
}

// SeedRules stores a YAML rule set. Declared categories that do not exist
// yet are created. A rule naming an unknown category or account fails the
// whole seed with domain.ErrValidation. Rules identical to a stored rule are
// skipped, so seeding the same set twice is harmless.
func (l *Ledger) SeedRules(ctx context.Context, set *rules.RuleSet) (*SeedResult, error) {
	result := &SeedResult{}
	now := l.now().UTC()

	err := l.store.Update(ctx, func(tx store.Tx) error {
		categories, err := tx.ListCategories()
		if err != nil {
			return err
		}
		byName := make(map[string]string, len(categories))
		for _, c := range categories {
			byName[strings.ToLower(c.Name)] = c.ID
		}

		for _, def := range set.Categories {
			if _, ok := byName[strings.ToLower(def.Name)]; ok {
				continue
			}
			category, err := newCategory(CreateCategoryInput{Name: def.Name, Type: def.Type})
			if err != nil {
				return err
			}
			if err := tx.CreateCategory(category); err != nil {
				return err
			}
			byName[strings.ToLower(category.Name)] = category.ID
			result.CategoriesCreated++
		}

		existing, err := tx.ListRules(false)
		if err != nil {
			return err
		}

		for i, def := range set.Rules {
			categoryID, ok := byName[strings.ToLower(strings.TrimSpace(def.Category))]
			if !ok {
				return fmt.Errorf("%w: rule %d (%s): unknown category %q", domain.ErrValidation, i, def.Name, def.Category)
			}
			lo, hi, err := def.Bounds()
			if err != nil {
				return fmt.Errorf("%w: rule %d (%s): %v", domain.ErrValidation, i, def.Name, err)
			}

			rule := &domain.CategoryRule{
				ID:         uuid.NewString(),
				CategoryID: categoryID,
				RuleType:   def.MatchType,
				Pattern:    def.Pattern,
				AmountMin:  lo,
				AmountMax:  hi,
				Priority:   def.Priority,
				IsActive:   true,
				CreatedAt:  now,
			}
			if def.Account != "" {
				account, err := tx.AccountByName(def.Account)
				if err != nil {
					return fmt.Errorf("%w: rule %d (%s): unknown account %q", domain.ErrValidation, i, def.Name, def.Account)
				}
				rule.AccountID = &account.ID
			}

			if containsRule(existing, rule) {
				result.RulesSkipped++
				continue
			}
			if err := checkRule(tx, rule); err != nil {
				return fmt.Errorf("rule %d (%s): %w", i, def.Name, err)
			}
			if err := tx.InsertRule(rule); err != nil {
				return err
			}
			existing = append(existing, *rule)
			result.RulesCreated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("categories", result.CategoriesCreated).
		Int("rules", result.RulesCreated).
		Int("skipped", result.RulesSkipped).
		Msg("rule set seeded")
	return result, nil
}

func containsRule(list []domain.CategoryRule, r *domain.CategoryRule) bool {
	for _, e := range list {
		if e.CategoryID == r.CategoryID && e.RuleType == r.RuleType && e.Pattern == r.Pattern &&
			e.Priority == r.Priority && equalInt(e.AmountMin, r.AmountMin) &&
			equalInt(e.AmountMax, r.AmountMax) && equalString(e.AccountID, r.AccountID) {
			return true
		}
	}
	return false
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/recurring"
	"github.com/rumor-ml/commons.systems/tally/internal/rules"
	"github.com/rumor-ml/commons.systems/tally/internal/transform"
	"github.com/rumor-ml/commons.systems/tally/internal/ui"
)

// subcommand splits "list", "add", ... off args; list is the default.
func subcommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "list", args
	}
	return args[0], args[1:]
}

func cmdAccounts(ctx context.Context, a *app, args []string) error {
	sub, args := subcommand(args)
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		accounts, err := svc.ListAccounts(ctx)
		if err != nil {
			return err
		}
		return a.emit(accounts, func() {
			rows := make([][]string, 0, len(accounts))
			for _, acct := range accounts {
				rows = append(rows, []string{acct.ID, acct.Name, string(acct.Type), ui.Amount(acct.CurrentBalance)})
			}
			ui.Table([]string{"ID", "Name", "Type", "Balance"}, rows)
		})

	case "add":
		fs := a.flags("accounts add", "NAME")
		typ := fs.String("type", string(domain.AccountTypeChecking), "checking, savings, credit, investment, or cash")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		accountType, err := transform.MapAccountType(*typ)
		if err != nil {
			return err
		}
		name := strings.Join(fs.Args(), " ")
		acct, err := svc.CreateAccount(ctx, ledger.CreateAccountInput{Name: name, Type: accountType})
		if err != nil {
			return err
		}
		return a.emit(acct, func() { ui.Success(fmt.Sprintf("Created account %s (%s)", acct.Name, acct.ID)) })
	}
	return fmt.Errorf("%w: unknown accounts command %q", errUsage, sub)
}

func cmdCategories(ctx context.Context, a *app, args []string) error {
	sub, args := subcommand(args)
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		categories, err := svc.ListCategories(ctx)
		if err != nil {
			return err
		}
		return a.emit(categories, func() {
			names := categoryNames(categories)
			rows := make([][]string, 0, len(categories))
			for _, c := range categories {
				parent := ""
				if c.ParentID != nil {
					parent = names[*c.ParentID]
				}
				rows = append(rows, []string{c.ID, c.Name, string(c.Type), parent})
			}
			ui.Table([]string{"ID", "Name", "Type", "Parent"}, rows)
		})

	case "add":
		fs := a.flags("categories add", "NAME")
		typ := fs.String("type", string(domain.CategoryTypeExpense), "income, expense, or transfer")
		parent := fs.String("parent", "", "Parent category id or name")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		parentID := ""
		if *parent != "" {
			if parentID, err = categoryID(ctx, svc, *parent); err != nil {
				return err
			}
		}
		c, err := svc.CreateCategory(ctx, ledger.CreateCategoryInput{
			Name:     strings.Join(fs.Args(), " "),
			Type:     domain.CategoryType(*typ),
			ParentID: parentID,
		})
		if err != nil {
			return err
		}
		return a.emit(c, func() { ui.Success(fmt.Sprintf("Created category %s (%s)", c.Name, c.ID)) })
	}
	return fmt.Errorf("%w: unknown categories command %q", errUsage, sub)
}

func categoryNames(categories []domain.Category) map[string]string {
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names
}

// categoryID resolves a category id or case-insensitive name.
func categoryID(ctx context.Context, svc *pipeline.Service, ref string) (string, error) {
	categories, err := svc.ListCategories(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range categories {
		if c.ID == ref || strings.EqualFold(c.Name, ref) {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w: category %q", domain.ErrNotFound, ref)
}

func cmdRules(ctx context.Context, a *app, args []string) error {
	sub, args := subcommand(args)
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		list, err := svc.ListRules(ctx)
		if err != nil {
			return err
		}
		categories, err := svc.ListCategories(ctx)
		if err != nil {
			return err
		}
		return a.emit(list, func() {
			names := categoryNames(categories)
			rows := make([][]string, 0, len(list))
			for _, r := range list {
				active := "yes"
				if !r.IsActive {
					active = "no"
				}
				rows = append(rows, []string{r.ID, strconv.Itoa(r.Priority), string(r.RuleType), r.Pattern, names[r.CategoryID], active})
			}
			ui.Table([]string{"ID", "Priority", "Type", "Pattern", "Category", "Active"}, rows)
		})

	case "seed":
		fs := a.flags("rules seed", "")
		file := fs.String("file", a.cfg.RulesFile, "Rule set YAML; default is the built-in set")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		set, err := loadRuleSet(*file)
		if err != nil {
			return err
		}
		res, err := svc.SeedRules(ctx, set)
		if err != nil {
			return err
		}
		return a.emit(res, func() {
			ui.Success(fmt.Sprintf("Seeded %d rules and %d categories (%d rules already present)",
				res.RulesCreated, res.CategoriesCreated, res.RulesSkipped))
		})

	case "add":
		fs := a.flags("rules add", "")
		category := fs.String("category", "", "Category id or name (required)")
		typ := fs.String("type", string(domain.RulePayeeContains), "payee_contains, payee_exact, payee_starts_with, or payee_regex")
		pattern := fs.String("pattern", "", "Payee pattern (required)")
		priority := fs.Int("priority", 0, "Higher priorities are tried first")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		if *category == "" {
			return fmt.Errorf("%w: -category is required", errUsage)
		}
		catID, err := categoryID(ctx, svc, *category)
		if err != nil {
			return err
		}
		r, err := svc.CreateRule(ctx, ledger.CreateRuleInput{
			CategoryID: catID,
			RuleType:   domain.RuleType(*typ),
			Pattern:    *pattern,
			Priority:   *priority,
		})
		if err != nil {
			return err
		}
		return a.emit(r, func() { ui.Success("Created rule " + r.ID) })

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("%w: rules delete takes one rule id", errUsage)
		}
		if err := svc.DeleteRule(ctx, args[0]); err != nil {
			return err
		}
		if !a.json {
			ui.Success("Deleted rule " + args[0])
		}
		return nil
	}
	return fmt.Errorf("%w: unknown rules command %q", errUsage, sub)
}

func loadRuleSet(path string) (*rules.RuleSet, error) {
	if path == "" {
		return rules.DefaultRuleSet()
	}
	return rules.LoadRuleSetFile(path)
}

func cmdCategorize(ctx context.Context, a *app, args []string) error {
	fs := a.flags("categorize", "[TRANSACTION-ID...]")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	scope := ledger.AllUncategorized()
	if fs.NArg() > 0 {
		scope = ledger.OnlyTransactions(fs.Args()...)
	}
	n, err := svc.ApplyCategoryRules(ctx, scope)
	if err != nil {
		return err
	}
	return a.emit(map[string]int{"categorized": n}, func() {
		ui.Success(fmt.Sprintf("Categorized %d transactions", n))
	})
}

func cmdRecurring(ctx context.Context, a *app, args []string) error {
	fs := a.flags("recurring", "")
	save := fs.Bool("save", false, "Save each detected series as a recurring rule")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	series, err := svc.DetectRecurring(ctx)
	if err != nil {
		return err
	}
	saved := []domain.RecurringRule{}
	if *save {
		for _, s := range series {
			rule, err := svc.CreateRecurringRule(ctx, ledger.RecurringInputFromSeries(s))
			if err != nil {
				return fmt.Errorf("failed to save %s: %w", s.Payee, err)
			}
			saved = append(saved, *rule)
		}
	}

	if a.json {
		if *save {
			return a.emit(saved, nil)
		}
		return a.emit(series, nil)
	}
	ui.Header("Recurring Payments")
	rows := make([][]string, 0, len(series))
	for _, s := range series {
		rows = append(rows, []string{
			s.Payee, s.AccountName, string(s.Frequency), ui.Amount(s.AverageAmount),
			strconv.Itoa(s.OccurrenceCount), s.NextExpectedDate.String(),
		})
	}
	ui.Table([]string{"Payee", "Account", "Frequency", "Average", "Count", "Next"}, rows)
	for _, s := range series {
		a.log.Debug().Msg(recurring.Describe(s))
	}
	if *save {
		ui.Success(fmt.Sprintf("Saved %d recurring rules", len(saved)))
	}
	return nil
}

func cmdTransfers(ctx context.Context, a *app, args []string) error {
	fs := a.flags("transfers", "")
	link := fs.String("link", "", "Link two transactions as a transfer: ID-A,ID-B")
	unlink := fs.String("unlink", "", "Unlink a transfer, given its id or either transaction's id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *link != "" && *unlink != "" {
		return fmt.Errorf("%w: -link and -unlink are exclusive", errUsage)
	}
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	switch {
	case *link != "":
		ids := strings.Split(*link, ",")
		if len(ids) != 2 {
			return fmt.Errorf("%w: -link takes two comma separated ids", errUsage)
		}
		id, err := svc.LinkTransfer(ctx, strings.TrimSpace(ids[0]), strings.TrimSpace(ids[1]))
		if err != nil {
			return err
		}
		return a.emit(map[string]string{"transferId": id}, func() { ui.Success("Linked transfer " + id) })

	case *unlink != "":
		if err := svc.UnlinkTransfer(ctx, *unlink); err != nil {
			return err
		}
		if !a.json {
			ui.Success("Unlinked transfer " + *unlink)
		}
		return nil
	}

	candidates, err := svc.DetectTransfers(ctx)
	if err != nil {
		return err
	}
	return a.emit(candidates, func() {
		ui.Header("Transfer Candidates")
		rows := make([][]string, 0, len(candidates))
		for _, c := range candidates {
			rows = append(rows, []string{
				c.TransactionAID, c.TransactionBID, ui.Amount(c.Amount),
				strconv.Itoa(c.DaysApart), fmt.Sprintf("%.2f", c.Confidence),
			})
		}
		ui.Table([]string{"A", "B", "Amount", "Days", "Confidence"}, rows)
	})
}

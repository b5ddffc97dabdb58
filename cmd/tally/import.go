package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/output"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/scanner"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
	"github.com/rumor-ml/commons.systems/tally/internal/ui"
	"github.com/rumor-ml/commons.systems/tally/internal/validate"
)

func formatFlag(v string) (parser.Format, error) {
	if v == "" || v == "auto" {
		return "", nil
	}
	f, err := parser.ParseFormat(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	return f, nil
}

func mappingFlag(path string) (*csv.ColumnMapping, error) {
	if path == "" {
		return nil, nil
	}
	return csv.LoadMapping(path)
}

// oneFile returns the single positional argument.
func oneFile(fs interface{ Args() []string }) (string, error) {
	if len(fs.Args()) != 1 {
		return "", fmt.Errorf("%w: expected exactly one file", errUsage)
	}
	return fs.Args()[0], nil
}

func cmdPreview(ctx context.Context, a *app, args []string) error {
	fs := a.flags("preview", "FILE")
	format := fs.String("format", "", "Source format (csv, spreadsheet, fixed, document, ofx); default detects it")
	limit := fs.Int("limit", 0, "Rows to show; default comes from the config")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	path, err := oneFile(fs)
	if err != nil {
		return err
	}
	f, err := formatFlag(*format)
	if err != nil {
		return err
	}

	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	if f == "" {
		if f, err = svc.DetectFormat(path); err != nil {
			return err
		}
	}
	out, err := svc.PreviewFile(ctx, path, f, *limit)
	if err != nil {
		return err
	}

	tabular, ok := out.(*csv.PreviewResult)
	if a.json || !ok {
		return output.WriteJSON(out, a.stdout)
	}
	ui.Header(fmt.Sprintf("%s (%s)", filepath.Base(path), f))
	ui.Table(tabular.Headers, tabular.Rows)
	ui.Info(ui.Faint(fmt.Sprintf("%d of %d rows", len(tabular.Rows), tabular.TotalRows)))
	return nil
}

func cmdParse(ctx context.Context, a *app, args []string) error {
	fs := a.flags("parse", "FILE")
	format := fs.String("format", "", "Source format; default detects it")
	mappingPath := fs.String("mapping", "", "Column mapping YAML or JSON for csv and spreadsheet sources")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	path, err := oneFile(fs)
	if err != nil {
		return err
	}
	f, err := formatFlag(*format)
	if err != nil {
		return err
	}
	mapping, err := mappingFlag(*mappingPath)
	if err != nil {
		return err
	}

	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	parsed, err := svc.ParseFile(ctx, path, f, mapping)
	if err != nil {
		return err
	}
	result := validate.ValidateBatch(parsed.Transactions, domain.DateOf(time.Now()))

	err = a.emit(struct {
		*pipeline.Parsed
		Validation *validate.ValidationResult `json:"validation"`
	}{parsed, result}, func() {
		ui.Header(fmt.Sprintf("%s (%s)", filepath.Base(path), parsed.Source))
		rows := make([][]string, 0, len(parsed.Transactions))
		for _, t := range parsed.Transactions {
			rows = append(rows, []string{t.Date.String(), ui.Amount(t.Amount), t.Payee, t.Memo})
		}
		ui.Table([]string{"Date", "Amount", "Payee", "Memo"}, rows)
		if parsed.Account != nil {
			ui.Info("Account: " + ui.BlueText(parsed.Account.Name))
		}
		if parsed.Confidence > 0 {
			ui.Info(fmt.Sprintf("Confidence: %.2f", parsed.Confidence))
		}
		for _, re := range parsed.RowErrors {
			ui.Warning(re)
		}
		printValidation(filepath.Base(path), result)
	})
	if err != nil {
		return err
	}
	return result.Err()
}

func printValidation(file string, r *validate.ValidationResult) {
	if r == nil {
		return
	}
	for _, w := range r.Warnings {
		ui.Warning(fmt.Sprintf("%s row %d: %s", file, w.Row, w.Message))
	}
	for _, e := range r.Errors {
		ui.Error(fmt.Sprintf("%s row %d: %s", file, e.Row, e.Message))
	}
}

// progress prints import progress on one line.
type progress struct{ w io.Writer }

func (p progress) Broadcast(_ string, event streaming.SSEEvent) {
	pe, ok := event.ProgressData()
	if !ok {
		return
	}
	fmt.Fprintf(p.w, "\r  Progress: %d/%d files (%.0f%%)", pe.Processed, pe.Total, pe.Percentage)
	if pe.Processed == pe.Total {
		fmt.Fprintln(p.w)
	}
}

// resolveAccount turns -account into an account id. The value may be an id
// or a name; an unknown name is created unless create is false.
func resolveAccount(ctx context.Context, svc *pipeline.Service, ref string, create bool) (string, error) {
	if ref == "" {
		return "", nil
	}
	acct, err := svc.Account(ctx, ref)
	if err == nil {
		return acct.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if acct, err = svc.AccountByName(ctx, ref); err == nil {
		return acct.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || !create {
		return "", fmt.Errorf("account %q: %w", ref, err)
	}
	acct, err = svc.CreateAccount(ctx, ledger.CreateAccountInput{Name: ref})
	if err != nil {
		return "", err
	}
	ui.Info("Created account " + ui.BlueText(acct.Name))
	return acct.ID, nil
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	fs := a.flags("import", "[FILE...]")
	account := fs.String("account", "", "Account id or name; default is the account the statement or directory names")
	dir := fs.String("dir", "", "Import every statement under dir; first-level subdirectories name accounts")
	dryRun := fs.Bool("dry-run", false, "Show what would be imported without writing")
	format := fs.String("format", "", "Source format; default detects it per file")
	mappingPath := fs.String("mapping", "", "Column mapping YAML or JSON for csv and spreadsheet sources")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if (*dir == "") == (fs.NArg() == 0) {
		return fmt.Errorf("%w: import takes either -dir or files", errUsage)
	}
	f, err := formatFlag(*format)
	if err != nil {
		return err
	}
	mapping, err := mappingFlag(*mappingPath)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	if !a.json {
		opts = append(opts, pipeline.WithBroadcaster(progress{a.stderr}))
	}
	svc, err := a.service(ctx, opts...)
	if err != nil {
		return err
	}
	accountID, err := resolveAccount(ctx, svc, *account, !*dryRun)
	if err != nil {
		return err
	}

	var reqs []pipeline.ImportRequest
	if *dir != "" {
		results, err := scanner.New(*dir).Scan()
		if err != nil {
			return fmt.Errorf("failed to scan directory %s: %w", *dir, err)
		}
		reqs = pipeline.RequestsFromScan(results, accountID, *dryRun)
	} else {
		for _, path := range fs.Args() {
			reqs = append(reqs, pipeline.ImportRequest{Path: path, AccountID: accountID, DryRun: *dryRun})
		}
	}
	if len(reqs) == 0 {
		ui.Warning("no statement files found")
		return nil
	}
	for i := range reqs {
		reqs[i].Mapping = mapping
		if f != "" {
			reqs[i].Format = f
		}
	}

	if !a.json {
		title := "Importing Statements"
		if *dryRun {
			title = "Import Plan (dry run)"
		}
		ui.Header(title)
	}
	summary, err := svc.ImportFiles(ctx, uuid.NewString(), reqs)
	if err != nil {
		return err
	}
	if err := a.emit(summary, func() { printImport(summary, *dryRun) }); err != nil {
		return err
	}
	if summary.FileErrors > 0 {
		return fmt.Errorf("%d of %d files failed to import", summary.FileErrors, len(summary.Files))
	}
	return nil
}

func printImport(s *pipeline.BatchSummary, dryRun bool) {
	rows := make([][]string, 0, len(s.Files))
	for _, fi := range s.Files {
		row := []string{filepath.Base(fi.Path), fi.Source, "-", "-", "-", "ok"}
		switch {
		case fi.Result != nil:
			row[2], row[3], row[4] = strconv.Itoa(fi.Result.Imported), strconv.Itoa(fi.Result.Skipped), strconv.Itoa(fi.Result.Failed)
		case fi.Plan != nil:
			row[2], row[3], row[4] = strconv.Itoa(fi.Plan.WouldImport), strconv.Itoa(fi.Plan.WouldSkip), strconv.Itoa(fi.Plan.Invalid)
		}
		if fi.Error != "" {
			row[5] = "error"
		}
		rows = append(rows, row)
	}
	ui.Table([]string{"File", "Source", "Import", "Skip", "Invalid", "Status"}, rows)

	for _, fi := range s.Files {
		name := filepath.Base(fi.Path)
		for _, re := range fi.RowErrors {
			ui.Warning(name + ": " + re)
		}
		printValidation(name, fi.Validation)
		if fi.Error != "" {
			ui.Error(name + ": " + fi.Error)
		}
	}

	if dryRun {
		ui.Info(ui.YellowText("Dry run: nothing was written"))
		return
	}
	ui.Success(fmt.Sprintf("Imported %d transactions, skipped %d duplicates, categorized %d",
		s.Imported, s.Skipped, s.Categorized))
}

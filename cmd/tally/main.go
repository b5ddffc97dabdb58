package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/tally/internal/config"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/output"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/document"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/registry"
	"github.com/rumor-ml/commons.systems/tally/internal/store/sqlite"
	"github.com/rumor-ml/commons.systems/tally/internal/ui"
)

const (
	version = "0.1.0"
)

// errUsage marks command line mistakes; main exits 2 for them.
var errUsage = errors.New("usage")

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

func commands() []command {
	return []command{
		{"preview", "Show the first rows of a statement", cmdPreview},
		{"parse", "Parse a statement without importing it", cmdParse},
		{"import", "Import statements into the ledger", cmdImport},
		{"categorize", "Apply category rules to uncategorized transactions", cmdCategorize},
		{"recurring", "Detect recurring payments", cmdRecurring},
		{"transfers", "Detect, link, or unlink transfers", cmdTransfers},
		{"rules", "List, seed, add, or delete category rules", cmdRules},
		{"accounts", "List or add accounts", cmdAccounts},
		{"categories", "List or add categories", cmdCategories},
		{"serve", "Run the HTTP API", cmdServe},
		{"sync", "Mirror the ledger to Firestore", cmdSync},
		{"export", "Write a JSON snapshot of the ledger", cmdExport},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprint(w, `tally - statement ingestion and reconciliation

Usage:
  tally [flags] <command> [command flags] [args]

Commands:
`)
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-11s %s\n", c.name, c.summary)
	}
	fmt.Fprint(w, "  version     Show version\n\nFlags:\n")
	fs.PrintDefaults()
	fmt.Fprint(w, `
Examples:
  # Import a directory of statements, one subdirectory per account
  tally import -dir ~/statements

  # See what a file would import without writing
  tally import -account "Chase Checking" -dry-run march.csv -mapping chase.yaml

  # Seed the default rules and categorize
  tally rules seed && tally categorize
`)
}

// run parses global flags and dispatches to a command. It is main without
// the process exit, so tests can drive it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tally", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file (default: $XDG_CONFIG_HOME/tally/config.yaml)")
	dbPath := fs.String("db", "", "SQLite database, overriding the config")
	verbose := fs.Bool("verbose", false, "Show debug logs")
	jsonOut := fs.Bool("json", false, "Print JSON to stdout instead of tables")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("%w: a command is required", errUsage)
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	if name == "version" {
		fmt.Fprintf(stdout, "tally version %s\n", version)
		return nil
	}
	var cmd *command
	for _, c := range commands() {
		if c.name == name {
			cmd = &c
			break
		}
	}
	if cmd == nil {
		fs.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	log, err := logger.NewWithWriter(stderr, level)
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, log)

	prevOut, prevErr := ui.Out, ui.ErrOut
	ui.Out, ui.ErrOut = stdout, stderr
	defer func() { ui.Out, ui.ErrOut = prevOut, prevErr }()

	a := &app{cfg: cfg, log: log, stdout: stdout, stderr: stderr, json: *jsonOut}
	defer a.close()
	if err := cmd.run(ctx, a, rest); !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

// app carries what every command shares. The database is opened on first
// use.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	stdout io.Writer
	stderr io.Writer
	json   bool

	store *sqlite.Store
	svc   *pipeline.Service
}

// service opens the ledger and returns the import service over it.
func (a *app) service(ctx context.Context, opts ...pipeline.Option) (*pipeline.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	st, err := sqlite.Open(ctx, a.cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Str("db", a.cfg.DatabasePath).Msg("opened ledger")

	base := []pipeline.Option{
		pipeline.WithExtractor(document.PDFToText{Binary: a.cfg.PDFToText}),
		pipeline.WithLimits(pipeline.Limits{
			Tabular:     a.cfg.Preview.Tabular,
			FixedLayout: a.cfg.Preview.FixedLayout,
			Document:    a.cfg.Preview.Document,
		}),
	}
	reg, err := registry.New()
	if err != nil {
		st.Close()
		return nil, err
	}
	a.store = st
	a.svc = pipeline.New(ledger.New(st), reg, append(base, opts...)...)
	return a.svc, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close ledger")
		}
	}
}

// flags creates a command's flag set.
func (a *app) flags(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: tally %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags wraps flag errors as usage errors. -h passes through as
// flag.ErrHelp.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// emit prints v as JSON when -json is set, otherwise calls table.
func (a *app) emit(v interface{}, table func()) error {
	if a.json {
		return output.WriteJSON(v, a.stdout)
	}
	table()
	return nil
}

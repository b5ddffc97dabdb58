package main

import (
	"context"
	"fmt"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/firestore"
	"github.com/rumor-ml/commons.systems/tally/internal/output"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/server"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
	"github.com/rumor-ml/commons.systems/tally/internal/ui"
)

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := a.flags("serve", "")
	addr := fs.String("addr", a.cfg.Addr, "Listen address")
	static := fs.String("static", "", "Directory of frontend files to serve at /")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	hub := streaming.NewStreamHub()
	svc, err := a.service(ctx, pipeline.WithBroadcaster(hub))
	if err != nil {
		return err
	}

	opts := server.Options{
		Service:        svc,
		Hub:            hub,
		AllowedOrigins: a.cfg.AllowedOrigins,
		StaticDir:      *static,
		Logger:         a.log,
	}
	if a.cfg.ProjectID != "" {
		client, err := firestore.NewClient(ctx, a.cfg.ProjectID, a.cfg.CredentialsFile)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.Verifier = client.Auth
		opts.Sessions = client
		a.log.Info().Str("project", client.ProjectID()).Msg("verifying Firebase tokens")
	} else {
		a.log.Warn().Str("user", server.LocalUser).Msg("no project configured; serving without authentication")
	}

	return server.New(opts).ListenAndServe(ctx, *addr)
}

func cmdSync(ctx context.Context, a *app, args []string) error {
	fs := a.flags("sync", "")
	user := fs.String("user", "", "Firebase user id that owns the mirrored documents (required)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("%w: -user is required", errUsage)
	}
	if a.cfg.ProjectID == "" {
		return fmt.Errorf("%w: sync needs project_id in the config or $GOOGLE_CLOUD_PROJECT", domain.ErrValidation)
	}

	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		return err
	}

	client, err := firestore.NewClient(ctx, a.cfg.ProjectID, a.cfg.CredentialsFile)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.SyncLedger(ctx, *user, snap)
	if err != nil {
		return err
	}
	return a.emit(res, func() {
		ui.Success(fmt.Sprintf("Mirrored %d accounts and %d transactions to %s", res.Accounts, res.Transactions, client.ProjectID()))
	})
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := a.flags("export", "")
	file := fs.String("o", "", "Output file (default: stdout)")
	merge := fs.Bool("merge", false, "Merge into the snapshot already in the output file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *merge && *file == "" {
		return fmt.Errorf("%w: -merge needs -o", errUsage)
	}

	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		return err
	}

	if *file == "" {
		return output.WriteJSON(snap, a.stdout)
	}
	if err := output.WriteSnapshot(snap, output.WriteOptions{FilePath: *file, MergeMode: *merge}); err != nil {
		return err
	}
	if !a.json {
		ui.Success(fmt.Sprintf("Wrote %d transactions to %s", len(snap.Transactions), *file))
	}
	return nil
}

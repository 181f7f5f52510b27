package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/internal/app"
	"github.com/charlesng35/estatedir/internal/records"
	"github.com/charlesng35/estatedir/internal/syncer"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and replay the pending action queue",
	}
	cmd.AddCommand(
		newSyncStatusCmd(root),
		newSyncActionsCmd(root),
		newSyncRunCmd(root),
	)
	return cmd
}

func (e *cliEnv) coordinator(ctx context.Context, online bool) (*syncer.Coordinator, *records.Store, error) {
	db, err := e.database()
	if err != nil {
		return nil, nil, err
	}
	store, err := records.Open(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("open record store: %w", err)
	}
	lastSync, err := app.LoadLastSync(ctx, db)
	if err != nil {
		e.log.Warn("last sync time unavailable", zap.Error(err))
	}
	coordinator, err := syncer.NewCoordinator(store,
		syncer.WithHTTPClient(&http.Client{}),
		syncer.WithRequestTimeout(e.cfg.Sync.RequestTimeout),
		syncer.WithInitialOnline(online),
		syncer.WithLastSync(lastSync),
		syncer.WithPassHook(app.RecordLastSync(db, e.log)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise sync coordinator: %w", err)
	}
	if err := coordinator.RefreshPending(ctx); err != nil {
		_ = coordinator.Close()
		return nil, nil, err
	}
	return coordinator, store, nil
}

func newSyncStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pending count and the last completed pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			coordinator, _, err := env.coordinator(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = coordinator.Close() }()

			status := coordinator.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pending:   %d\n", status.Pending)
			if status.LastSyncAt != nil {
				fmt.Fprintf(out, "last sync: %s\n", status.LastSyncAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "last sync: never")
			}
			return nil
		},
	}
}

func newSyncActionsCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List queued actions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			db, err := env.database()
			if err != nil {
				return err
			}
			store, err := records.Open(cmd.Context(), db)
			if err != nil {
				return err
			}
			actions, err := store.Actions(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(actions)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tPROCESSED\tATTEMPTS\tLAST ERROR")
			for _, action := range actions {
				fmt.Fprintf(w, "%d\t%s\t%t\t%d\t%s\n", action.ID, action.Type, action.Processed, action.Attempts, action.LastError)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of actions to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print actions as JSON")
	return cmd
}

func newSyncRunCmd(root *rootOptions) *cobra.Command {
	var skipProbe bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay pending actions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			online := true
			if !skipProbe {
				client, err := env.sheetsClient()
				if err != nil {
					return err
				}
				probeCtx, cancel := context.WithTimeout(ctx, env.cfg.Sync.ProbeTimeout)
				probeErr := client.Probe(probeCtx)
				cancel()
				if probeErr != nil {
					env.log.Debug("probe failed", zap.Error(probeErr))
					online = false
				}
			}

			coordinator, _, err := env.coordinator(ctx, online)
			if err != nil {
				return err
			}
			defer func() { _ = coordinator.Close() }()

			out := cmd.OutOrStdout()
			result := coordinator.SyncNow(ctx)
			if result.Skipped {
				fmt.Fprintln(out, "offline: sync skipped")
				return nil
			}
			status := coordinator.Status()
			fmt.Fprintf(out, "processed %d, failed %d, pending %d\n", result.Processed, result.Failed, status.Pending)
			if status.LastError != "" {
				fmt.Fprintf(out, "last error: %s\n", status.LastError)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "Replay without checking spreadsheet reachability first")
	return cmd
}

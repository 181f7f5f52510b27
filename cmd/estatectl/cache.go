package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/charlesng35/estatedir/internal/app"
	"github.com/charlesng35/estatedir/internal/cache"
)

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the sheet cache",
	}
	cmd.AddCommand(
		newCacheKeysCmd(root),
		newCacheClearCmd(root),
		newCachePurgeCmd(root),
	)
	return cmd
}

func (e *cliEnv) sheetCache() (*cache.Cache, app.PurgingStore, error) {
	db, err := e.database()
	if err != nil {
		return nil, nil, err
	}
	store, err := e.cfg.Cache.NewStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise cache store: %w", err)
	}
	c, err := cache.New(store, e.cfg.Cache.CacheOptions()...)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise cache: %w", err)
	}
	return c, store, nil
}

// memoryBackend reports whether the configured cache lives only inside the server process,
// which this command cannot reach.
func (e *cliEnv) memoryBackend() bool {
	return strings.EqualFold(strings.TrimSpace(e.cfg.Cache.Backend), app.CacheBackendMemory)
}

func newCacheKeysCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List cached keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			c, _, err := env.sheetCache()
			if err != nil {
				return err
			}
			keys, err := c.Keys(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func newCacheClearCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			if env.memoryBackend() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: cache backend is memory; use POST /api/cache/clear on the running server")
			}
			c, _, err := env.sheetCache()
			if err != nil {
				return err
			}
			removed, err := c.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries\n", removed)
			return nil
		},
	}
}

func newCachePurgeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-expired",
		Short: "Remove expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			c, store, err := env.sheetCache()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cleared, clearErr := c.ClearExpired(ctx)
			purged, purgeErr := store.PurgeExpired(ctx)
			if err := multierr.Combine(clearErr, purgeErr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", int64(cleared)+purged)
			return nil
		},
	}
}

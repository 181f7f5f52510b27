// Command estatectl administers an estate directory installation: it provisions accounts and
// their one-time code secrets, manages the cache and the offline action queue, and inspects
// the spreadsheet.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "estatectl",
		Short:         "Administer the estate directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration directory or file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for diagnostic output")

	cmd.AddCommand(
		newUserCmd(opts),
		newCacheCmd(opts),
		newSyncCmd(opts),
		newSheetsCmd(opts),
	)
	return cmd
}

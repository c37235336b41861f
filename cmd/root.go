// Package cmd defines the CLI commands for the harvester executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Batch URL scraping service with proxy failover",
		Long: `harvester runs batches of URL fetches through per-owner proxy pools,
packages the results into verified zip archives, and notifies owners on
completion. It exposes an HTTP API for job submission, proxy and profile
management, and sitemap expansion.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars with HARVESTER_ prefix override)")
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

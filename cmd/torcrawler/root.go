package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for torcrawler.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torcrawler",
		Short: "Resumable template crawler with Tor identity rotation",
		Long: `torcrawler crawls every URL produced by a parameterized template through
Tor and caches the scraped records on disk.

Requests already completed are never repeated, so an interrupted crawl can
simply be restarted. The Tor circuit is replaced every requestsPerIdentity
requests and, when enforceRotation is set, the new exit address is verified.

The job is described by a YAML file, searched for at --config, then
./torcrawler.yaml, then $XDG_CONFIG_HOME/torcrawler/torcrawler.yaml.
Run "torcrawler init" to create one.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Job configuration file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewSelfTestCmd())
	cmd.AddCommand(NewExportCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/torcrawler/internal/report"
	"github.com/nao1215/torcrawler/internal/store"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress of the crawl job",
		Long: `Status reports how many requests are done and how many records, unique
records and duplicates are in the record log, without touching the network.

Examples:
  torcrawler status
  torcrawler status --markdown > STATUS.md`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}

	cmd.Flags().BoolP("markdown", "m", false, "Print the status as Markdown")
	cmd.Flags().Bool("json", false, "Print the status as JSON")
	cmd.MarkFlagsMutuallyExclusive("markdown", "json")

	return cmd
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadJob(cmd)
	if err != nil {
		return err
	}
	w, err := summaryWriter(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, cancel := signalContext(cmd)
	defer cancel()

	requests, err := openRequestLog(cfg, logger)
	if err != nil {
		return err
	}
	defer requests.Close()

	records, err := store.OpenRecordStore(cfg.DataPath, store.WithRecordStoreLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open record log: %w", err)
	}
	defer records.Close()

	summary, err := report.Collect(ctx, requests, records, cfg.ExportPath)
	if err != nil {
		return err
	}
	fillSummary(summary, cfg, requests)
	if requests.db != nil {
		if last, err := requests.db.LastDone(ctx); err == nil {
			summary.LastRequest = last
		}
	}

	_, err = w.Write(summary)
	return err
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/torcrawler/internal/store"
)

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the deduplicated records as CSV",
		Long: `Export reads the record log, removes duplicate records and writes them to
exportPath as CSV. The header is the field names of the first record, and
every record must have the same fields.

With --compact the record log itself is rewritten without duplicates.

Examples:
  torcrawler export
  torcrawler export -o people.csv
  torcrawler export --compact`,
		Args: cobra.NoArgs,
		RunE: runExportCmd,
	}

	cmd.Flags().StringP("output", "o", "", "CSV output path (default: exportPath from the job file)")
	cmd.Flags().Bool("compact", false, "Rewrite the record log without duplicates")

	return cmd
}

func runExportCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadJob(cmd)
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if output != "" {
		cfg.ExportPath = output
	}
	compact, err := cmd.Flags().GetBool("compact")
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	records, err := store.OpenRecordStore(cfg.DataPath, store.WithRecordStoreLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open record log: %w", err)
	}
	defer records.Close()

	if _, err := records.LoadAll(); err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	if compact {
		removed, err := records.Deduplicate()
		if err != nil {
			return err
		}
		if err := records.Rewrite(); err != nil {
			return fmt.Errorf("failed to compact record log: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Compacted %s (%d duplicates removed)\n", cfg.DataPath, removed)
	}

	return exportRecords(cmd.OutOrStdout(), records, cfg.ExportPath, logger)
}

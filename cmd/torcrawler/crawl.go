package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nao1215/torcrawler/internal/config"
	"github.com/nao1215/torcrawler/internal/crawler"
	"github.com/nao1215/torcrawler/internal/document"
	"github.com/nao1215/torcrawler/internal/fetch"
	"github.com/nao1215/torcrawler/internal/report"
	"github.com/nao1215/torcrawler/internal/store"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every params tuple of the job",
		Long: `Crawl fetches the template URL for every params tuple that is not yet in
the request log, extracts records with the job's extract rule and appends
them to the record log.

Failed requests are logged and retried on the next run. The crawl stops on
errors that would affect every later request, such as a lost control port
or, with strictRotation, an identity that cannot be changed.

Examples:
  # Crawl with ./torcrawler.yaml
  torcrawler crawl

  # Crawl with a specific job file and export afterwards
  torcrawler crawl -c people.yaml --export

  # Print the summary as Markdown
  torcrawler crawl --markdown`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	cmd.Flags().Bool("export", false, "Export the deduplicated records to exportPath after the crawl")
	cmd.Flags().BoolP("markdown", "m", false, "Print the summary as Markdown")
	cmd.Flags().Bool("json", false, "Print the summary as JSON")
	cmd.MarkFlagsMutuallyExclusive("markdown", "json")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadJob(cmd)
	if err != nil {
		return err
	}
	if cfg.Extract.IsZero() {
		return errors.New("configuration error: extract rule is required for crawl")
	}
	exportAfter, err := cmd.Flags().GetBool("export")
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

	src, closeSrc, err := paramsSource(cfg)
	if err != nil {
		return err
	}
	defer closeSrc() //nolint:errcheck // read-only source

	requests, err := openRequestLog(cfg, logger)
	if err != nil {
		return err
	}
	records, err := store.OpenRecordStore(cfg.DataPath, store.WithRecordStoreLogger(logger))
	if err != nil {
		_ = requests.Close() //nolint:errcheck // already failing
		return fmt.Errorf("failed to open record log: %w", err)
	}
	defer records.Close()

	nw, err := setupNetwork(ctx, cfg, logger)
	if err != nil {
		_ = requests.Close() //nolint:errcheck // already failing
		return err
	}
	defer nw.Close()

	if err := nw.prepareIdentity(ctx, cfg.SelfTest); err != nil {
		_ = requests.Close() //nolint:errcheck // already failing
		return err
	}

	fetchOpts := []fetch.Option{
		fetch.WithCrawlDelay(cfg.CrawlDelay),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithLogger(logger),
	}
	if nw.policy != nil {
		fetchOpts = append(fetchOpts, fetch.WithTicker(nw.policy))
	}
	fetcher := fetch.NewClient(nw.httpClient, fetchOpts...)

	session, err := crawler.NewSession(cfg.Template(), fetcher, requests, records,
		crawler.WithSuccessMarker(cfg.SuccessMarker),
		crawler.WithFailureMarkers(cfg.FailureMarkers),
		crawler.WithLogger(logger),
	)
	if err != nil {
		_ = requests.Close() //nolint:errcheck // already failing
		return err
	}
	defer session.Close()

	stats, runErr := session.Run(ctx, src, document.NewRuleExtractor(cfg.Extract))

	// Summarize even after an interrupt.
	summary, err := report.Collect(context.WithoutCancel(ctx), requests, records, cfg.ExportPath)
	if err != nil {
		logger.Error("failed to collect summary", "error", err)
		return errors.Join(runErr, err)
	}
	fillSummary(summary, cfg, requests)
	summary.Run = runStats(stats, runErr)
	if nw.policy != nil {
		s := nw.policy.Session()
		summary.Identity = &report.IdentityStats{
			Mode:                  nw.policy.Mode().String(),
			State:                 s.State.String(),
			Address:               s.Address,
			Rotations:             s.Rotations,
			Exhaustions:           s.Exhaustions,
			RequestsSinceRotation: s.RequestsSinceRotation,
		}
	}

	if runErr == nil && exportAfter {
		if _, err := records.LoadAll(); err != nil {
			return fmt.Errorf("failed to load records: %w", err)
		}
		if err := exportRecords(cmd.OutOrStdout(), records, cfg.ExportPath, logger); err != nil {
			return err
		}
		summary.Exported = true
	}

	if _, err := w.Write(summary); err != nil {
		return err
	}
	return runErr
}

func runStats(s crawler.Stats, err error) *report.RunStats {
	r := &report.RunStats{
		Attempted: s.Attempted,
		Fetched:   s.Fetched,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Records:   s.Records,
		Elapsed:   s.Elapsed,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// fillSummary sets the job fields of a collected summary.
func fillSummary(s *report.Summary, cfg *config.Config, requests *requestLog) {
	s.Template = report.TemplateString(cfg.BaseURLTemplate)
	s.Backend = cfg.RequestLogBackend
	s.RequestLogPath = requests.path
}

// exportRecords writes the deduplicated working set as CSV. An empty
// working set is not an error.
func exportRecords(out io.Writer, records *store.RecordStore, path string, logger *slog.Logger) error {
	n, err := records.ExportCSV(path)
	if errors.Is(err, store.ErrNoRecords) {
		logger.Warn("no records to export")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to export records: %w", err)
	}
	fmt.Fprintf(out, "Exported %d records to %s\n", n, path)
	return nil
}

// summaryWriter returns the writer selected by --markdown or --json.
func summaryWriter(cmd *cobra.Command) (report.Writer, error) {
	markdown, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	switch {
	case markdown:
		return report.NewMarkdownWriter(out), nil
	case asJSON:
		return report.NewJSONWriter(out, report.WithPrettyPrint()), nil
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(verbose)), nil
	}
}

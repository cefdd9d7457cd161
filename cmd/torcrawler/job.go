package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/torcrawler/internal/config"
	"github.com/nao1215/torcrawler/internal/crawler"
	"github.com/nao1215/torcrawler/internal/database"
	"github.com/nao1215/torcrawler/internal/log"
	"github.com/nao1215/torcrawler/internal/model"
	"github.com/nao1215/torcrawler/internal/store"
)

// loadJob finds, loads and validates the job file and applies the global
// flags. An explicit --config that does not exist is an error.
func loadJob(cmd *cobra.Command) (*config.Config, error) {
	explicit, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	path := config.FindConfigFile(explicit)
	if path == "" {
		if explicit != "" {
			return nil, fmt.Errorf("configuration file not found: %s", explicit)
		}
		return nil, fmt.Errorf("%w: create one with 'torcrawler init'", config.ErrConfigNotFound)
	}

	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if cfg.Verbose, err = cmd.Flags().GetBool("verbose"); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = cmd.Flags().GetBool("log-json"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error in %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger builds the logger for cfg and installs it as the default so
// that tornago logs through it too.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := log.New(os.Stderr, log.Options{
		Verbose: cfg.Verbose,
		JSON:    cfg.LogJSON,
		Secrets: []string{cfg.ControlSecret, cfg.Cookie},
	})
	slog.SetDefault(logger)
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// requestLog is a request log plus the backend-specific extras used by
// the status report.
type requestLog struct {
	store.RequestLog
	path string
	db   *database.RequestDB
}

// openRequestLog opens the configured request log backend.
func openRequestLog(cfg *config.Config, logger *slog.Logger) (*requestLog, error) {
	switch cfg.RequestLogBackend {
	case config.BackendSQLite:
		db, err := database.Open(cfg.RequestLogPath, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open request database: %w", err)
		}
		return &requestLog{RequestLog: db, path: db.Path(), db: db}, nil
	default:
		l, err := store.OpenRequestLog(cfg.RequestLogPath, store.WithRequestLogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open request log: %w", err)
		}
		return &requestLog{RequestLog: l, path: l.Path()}, nil
	}
}

// paramsSource returns the configured params source. The returned close
// function must be called when the crawl is done.
func paramsSource(cfg *config.Config) (crawler.ParamsSource, func() error, error) {
	noop := func() error { return nil }

	switch {
	case cfg.ParamsFile != "":
		f, err := os.Open(cfg.ParamsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open params file: %w", err)
		}
		return crawler.NewCSVSource(f), f.Close, nil
	case !cfg.Combinations.IsZero():
		return crawler.NewCombinationSource(cfg.Combinations.Alphabet, cfg.Combinations.Length), noop, nil
	case len(cfg.Params) > 0:
		list := make([]model.Params, len(cfg.Params))
		for i, p := range cfg.Params {
			list[i] = model.Params(p)
		}
		return crawler.NewSliceSource(list), noop, nil
	default:
		return nil, nil, errNoParams
	}
}

var errNoParams = errors.New("no params configured: set one of params, paramsFile or combinations")

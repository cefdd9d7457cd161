// Package log builds the torcrawler logger: log/slog behind a handler that
// masks secrets before they reach any output.
//
// Masked values include control port passwords and cookies, HTTP cookies
// and authorization headers, and any exact secret registered with
// WithSecrets, wherever it appears in a string attribute or message.
// This holds in verbose mode too, since crawl logs are often shared.
//
//	logger := log.New(os.Stderr, log.Options{
//	    Verbose: true,
//	    Secrets: []string{cfg.ControlSecret},
//	})
//	logger.Debug("authenticating", "controlSecret", cfg.ControlSecret) // masked
//
// The returned *slog.Logger can be passed to tornago, which logs through
// slog as well.
package log

package tor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout is how long the embedded daemon may take to
// bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// cookieFileName is where tornago tells the daemon to write its control
// auth cookie, inside the data directory.
const cookieFileName = "control_auth_cookie"

// EmbeddedTor runs a private Tor daemon through tornago for crawls that
// have no external Tor. Bootstrapping usually takes one to three minutes.
type EmbeddedTor struct {
	// process is the running Tor daemon process.
	process *tornago.TorProcess

	// socksAddr and controlAddr are set after a successful Start.
	socksAddr   string
	controlAddr string
	dataDir     string

	startupTimeout time.Duration
}

// EmbeddedTorOption configures an EmbeddedTor instance.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.startupTimeout = timeout
	}
}

// NewEmbeddedTor creates a new embedded Tor manager.
// Call Start to launch the daemon.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: DefaultStartupTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the daemon on OS-assigned ports and blocks until it has
// bootstrapped or the startup timeout expires.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	select {
	case <-ctx.Done():
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return ctx.Err()
	default:
	}

	e.process = process
	e.socksAddr = process.SocksAddr()
	e.controlAddr = process.ControlAddr()
	e.dataDir = process.DataDir()
	return nil
}

// Stop shuts the daemon down. It is safe to call more than once or on an
// instance that was never started.
func (e *EmbeddedTor) Stop() error {
	if e.process == nil {
		return nil
	}

	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	e.controlAddr = ""
	e.dataDir = ""
	return err
}

// SocksAddr returns the SOCKS5 address, or "" if the daemon is not running.
func (e *EmbeddedTor) SocksAddr() string {
	return e.socksAddr
}

// ControlAddr returns the control port address, or "" if the daemon is
// not running.
func (e *EmbeddedTor) ControlAddr() string {
	return e.controlAddr
}

// CookiePath returns the control auth cookie written by the daemon, or ""
// if the daemon is not running. The daemon only accepts cookie
// authentication.
func (e *EmbeddedTor) CookiePath() string {
	if e.dataDir == "" {
		return ""
	}
	return filepath.Join(e.dataDir, cookieFileName)
}

// IsRunning returns true if the daemon is running.
func (e *EmbeddedTor) IsRunning() bool {
	return e.process != nil
}

// ProxyConfig returns base pointed at the daemon's SOCKS port.
func (e *EmbeddedTor) ProxyConfig(base ProxyConfig) (ProxyConfig, error) {
	if !e.IsRunning() {
		return ProxyConfig{}, ErrNotRunning
	}
	base.Address = e.socksAddr
	return base, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nao1215/torcrawler/internal/config"
	"github.com/nao1215/torcrawler/internal/rotation"
	"github.com/nao1215/torcrawler/internal/tor"
)

// network is the outbound path of a crawl: the HTTP client, and with Tor
// the identity controller, the rotation policy and possibly an embedded
// daemon.
type network struct {
	httpClient *http.Client
	controller *tor.Controller
	policy     *rotation.Policy
	embedded   *tor.EmbeddedTor
	logger     *slog.Logger
}

// setupNetwork prepares the outbound path for cfg. With useProxy it
// verifies the SOCKS proxy and authenticates to the control port, so a
// broken Tor setup fails here before any crawl traffic.
func setupNetwork(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*network, error) {
	n := &network{logger: logger}
	base := tor.ProxyConfig{
		Timeout: cfg.Timeout,
		Headers: cfg.RequestHeaders(),
	}

	if !cfg.UseProxy {
		logger.Warn("useProxy is false: requests go out directly and identity rotation is disabled")
		client, err := tor.NewClient(base)
		if err != nil {
			return nil, err
		}
		n.httpClient = client.NewHTTPClient()
		return n, nil
	}

	proxyCfg := base
	controlAddr := cfg.TorControlAddress
	if cfg.UseExternalTor {
		proxyCfg.Address = cfg.TorProxyAddress
	} else {
		var err error
		if proxyCfg, controlAddr, err = n.startEmbedded(ctx, cfg, base); err != nil {
			return nil, err
		}
	}

	client, err := tor.NewClient(proxyCfg)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		n.Close()
		return nil, fmt.Errorf("tor proxy check failed at %s: %w (make sure Tor is running)",
			proxyCfg.Address, status.Error())
	}
	logger.Info("Tor proxy connection verified", "address", proxyCfg.Address)

	n.httpClient = client.NewHTTPClient()
	n.controller = tor.NewController(controlAddr, n.httpClient, controllerOptions(cfg, n.controlCookie(cfg), logger)...)

	if err := n.controller.Authenticate(ctx); err != nil {
		n.Close()
		return nil, fmt.Errorf("tor control port %s: %w", controlAddr, err)
	}
	if v, err := n.controller.Version(ctx); err == nil {
		logger.Info("connected to Tor control port", "address", controlAddr, "version", v)
	}

	n.policy = rotation.NewPolicy(n.controller,
		rotation.WithEnabled(cfg.RotationEnabled()),
		rotation.WithMode(rotation.ModeFromFlags(cfg.EnforceRotation, cfg.StrictRotation)),
		rotation.WithLimit(cfg.Limit()),
		rotation.WithQuota(cfg.RequestsPerIdentity),
		rotation.WithBackoff(cfg.RotationBackoff),
		rotation.WithLogger(logger),
	)
	return n, nil
}

func (n *network) startEmbedded(ctx context.Context, cfg *config.Config, base tor.ProxyConfig) (tor.ProxyConfig, string, error) {
	n.logger.Warn("starting embedded Tor daemon; bootstrapping may take 1-3 minutes")

	n.embedded = tor.NewEmbeddedTor(tor.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := n.embedded.Start(ctx); err != nil {
		n.embedded = nil
		return tor.ProxyConfig{}, "", fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	n.logger.Info("embedded Tor daemon started",
		"socksAddr", n.embedded.SocksAddr(),
		"controlAddr", n.embedded.ControlAddr(),
	)

	proxyCfg, err := n.embedded.ProxyConfig(base)
	if err != nil {
		n.Close()
		return tor.ProxyConfig{}, "", err
	}
	return proxyCfg, n.embedded.ControlAddr(), nil
}

// controlCookie returns the cookie file to authenticate with: the
// configured one, or else the embedded daemon's.
func (n *network) controlCookie(cfg *config.Config) string {
	if cfg.ControlCookiePath != "" {
		return cfg.ControlCookiePath
	}
	if n.embedded != nil {
		return n.embedded.CookiePath()
	}
	return ""
}

func controllerOptions(cfg *config.Config, cookiePath string, logger *slog.Logger) []tor.ControllerOption {
	opts := []tor.ControllerOption{
		tor.WithLogger(logger),
		tor.WithIPCheckURL(cfg.IPCheckURL),
		tor.WithTorCheck(cfg.TorCheckURL, cfg.TorCheckMarker),
	}
	if cfg.ControlSecret != "" {
		opts = append(opts, tor.WithPassword(cfg.ControlSecret))
	}
	if cookiePath != "" {
		opts = append(opts, tor.WithCookieFile(cookiePath))
	}
	return opts
}

// prepareIdentity runs the self-test, or with selfTest disabled only
// records the starting address. It does nothing without Tor.
func (n *network) prepareIdentity(ctx context.Context, selfTest bool) error {
	if n.policy == nil {
		return nil
	}
	if !selfTest {
		return n.policy.Init(ctx)
	}
	report, err := n.policy.SelfTest(ctx, n.controller)
	if err != nil {
		return fmt.Errorf("self-test failed: %w", err)
	}
	n.logger.Info("self-test passed", "addresses", len(report.Addresses), "distinct", report.Distinct)
	return nil
}

// Close releases the control connection and stops an embedded daemon.
func (n *network) Close() {
	if n.controller != nil {
		if err := n.controller.Close(); err != nil {
			n.logger.Debug("failed to close control connection", "error", err)
		}
		n.controller = nil
	}
	if n.embedded != nil {
		n.logger.Info("stopping embedded Tor daemon")
		if err := n.embedded.Stop(); err != nil {
			n.logger.Error("failed to stop embedded Tor", "error", err)
		}
		n.embedded = nil
	}
}

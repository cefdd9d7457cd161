package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/tornago"

	"github.com/nao1215/torcrawler/internal/document"
	"github.com/nao1215/torcrawler/internal/model"
)

const (
	// DefaultIPCheckURL returns the caller's address as plain text.
	DefaultIPCheckURL = "https://icanhazip.com"

	// DefaultTorCheckURL is the Tor Project's "am I using Tor" page.
	DefaultTorCheckURL = "https://check.torproject.org"

	// maxProbeBody bounds the address probe response.
	maxProbeBody = 1024

	// maxCheckBody bounds the Tor check page.
	maxCheckBody = 1 << 20

	// defaultControlTimeout bounds dialing, authentication and each
	// control command; a sooner context deadline wins for commands.
	defaultControlTimeout = 10 * time.Second
)

// DefaultTorCheckMarker is found on the Tor check page only when the
// request arrived through Tor.
var DefaultTorCheckMarker = model.Marker{Selector: "title", Contains: "Congratulations"}

// Controller owns the control port connection and probes the external
// address through the proxied HTTP client.
type Controller struct {
	controlAddr string
	password    string
	cookiePath  string

	httpClient     *http.Client
	ipCheckURL     string
	torCheckURL    string
	torCheckMarker model.Marker

	logger *slog.Logger

	mu   sync.Mutex
	conn *tornago.ControlClient
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithPassword authenticates with a HashedControlPassword secret.
func WithPassword(password string) ControllerOption {
	return func(c *Controller) {
		c.password = password
	}
}

// WithCookieFile authenticates with the contents of Tor's control auth cookie.
func WithCookieFile(path string) ControllerOption {
	return func(c *Controller) {
		c.cookiePath = path
	}
}

// WithIPCheckURL sets the URL used by ExternalAddress.
func WithIPCheckURL(url string) ControllerOption {
	return func(c *Controller) {
		c.ipCheckURL = url
	}
}

// WithTorCheck sets the page and marker used by UsingTor.
func WithTorCheck(url string, marker model.Marker) ControllerOption {
	return func(c *Controller) {
		c.torCheckURL = url
		c.torCheckMarker = marker
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a controller for the control port at controlAddr.
// httpClient must route through the same proxy as crawl traffic so that
// ExternalAddress observes the crawl's identity. No connection is made
// until the first command.
func NewController(controlAddr string, httpClient *http.Client, opts ...ControllerOption) *Controller {
	c := &Controller{
		controlAddr:    controlAddr,
		httpClient:     httpClient,
		ipCheckURL:     DefaultIPCheckURL,
		torCheckURL:    DefaultTorCheckURL,
		torCheckMarker: DefaultTorCheckMarker,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// controlAuth returns the credential to present. The password takes
// precedence over the cookie file; with neither, the null method is used.
func (c *Controller) controlAuth() tornago.ControlAuth {
	switch {
	case c.password != "":
		return tornago.ControlAuthFromPassword(c.password)
	case c.cookiePath != "":
		return tornago.ControlAuthFromCookie(c.cookiePath)
	default:
		return tornago.ControlAuth{}
	}
}

// Authenticate authenticates the control connection, dialing it first if
// needed.
func (c *Controller) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.clientLocked(ctx)
	return err
}

// clientLocked returns an authenticated control client, dialing and
// authenticating on first use.
func (c *Controller) clientLocked(ctx context.Context) (*tornago.ControlClient, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := tornago.NewControlClient(c.controlAddr, c.controlAuth(), defaultControlTimeout)
	if err != nil {
		return nil, controlError("dial "+c.controlAddr, err)
	}
	if err := conn.Authenticate(); err != nil {
		_ = conn.Close()
		return nil, controlError("AUTHENTICATE", err)
	}

	c.conn = conn
	c.logger.Debug("authenticated to tor control port", "addr", c.controlAddr)
	return conn, nil
}

// NewCircuit asks Tor for a new circuit with SIGNAL NEWNYM. Tor only moves
// new streams to the new circuit, so idle proxied connections are closed
// afterwards and the next request dials a fresh stream. Whether the exit
// address changes is up to Tor; verify with ExternalAddress.
func (c *Controller) NewCircuit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.clientLocked(ctx)
	if err != nil {
		return err
	}
	if err := conn.NewIdentity(ctx); err != nil {
		c.dropLocked()
		return controlError("SIGNAL NEWNYM", err)
	}
	c.httpClient.CloseIdleConnections()
	c.logger.Debug("requested new tor circuit")
	return nil
}

// Version returns the Tor version reported by GETINFO version.
func (c *Controller) Version(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.clientLocked(ctx)
	if err != nil {
		return "", err
	}
	v, err := conn.GetInfo(ctx, "version")
	if err != nil {
		return "", controlError("GETINFO version", err)
	}
	return v, nil
}

// ExternalAddress fetches the IP check URL through the proxy and returns
// the trimmed body. It does not count as crawl traffic.
func (c *Controller) ExternalAddress(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.ipCheckURL, maxProbeBody)
	if err != nil {
		return "", err
	}
	addr := strings.TrimSpace(string(body))
	if addr == "" {
		return "", fmt.Errorf("%w: empty response from %s", ErrProbe, c.ipCheckURL)
	}
	return addr, nil
}

// UsingTor fetches the Tor check page and reports whether its marker is
// present. Network failures are ErrProbe.
func (c *Controller) UsingTor(ctx context.Context) (bool, error) {
	body, err := c.get(ctx, c.torCheckURL, maxCheckBody)
	if err != nil {
		return false, err
	}
	doc, err := document.Parse(c.torCheckURL, http.StatusOK, body)
	if err != nil {
		return false, fmt.Errorf("%w: parse %s: %w", ErrProbe, c.torCheckURL, err)
	}
	return doc.Matches(c.torCheckMarker), nil
}

func (c *Controller) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrProbe, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrProbe, url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrProbe, url, err)
	}
	return body, nil
}

// Close closes the control connection. It is safe to call on a
// controller that never connected.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// dropLocked discards a connection in an unknown state so the next
// command redials.
func (c *Controller) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
}

// controlError maps a tornago control failure onto ErrAuth or
// ErrControlChannel. Tor answers a bad credential with 515 and a missing
// one with 514; an unreadable cookie file is also an auth failure.
func controlError(op string, err error) error {
	var te *tornago.TornagoError
	if errors.As(err, &te) {
		switch {
		case te.Kind == tornago.ErrControlAuthFailed,
			te.Kind == tornago.ErrIO,
			strings.HasPrefix(te.Msg, "514 "),
			strings.HasPrefix(te.Msg, "515 "):
			return fmt.Errorf("%w: %s: %w", ErrAuth, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrControlChannel, op, err)
}

package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the SOCKS5 handshake done by CheckConnection.
const checkProxyTimeout = 2 * time.Second

// ProxyConfig describes how outbound requests reach the network.
// An empty Address means a direct connection.
type ProxyConfig struct {
	// Address is the Tor SOCKS5 proxy in "host:port" format.
	Address string

	// Timeout is the overall timeout of HTTP requests.
	Timeout time.Duration

	// Headers are set on every request, for example User-Agent.
	Headers map[string]string
}

// Direct reports whether the configuration bypasses the proxy.
func (pc ProxyConfig) Direct() bool {
	return pc.Address == ""
}

// Client dials through the configured proxy. Every Client carries its
// own dialer, so sessions with different proxies can coexist.
type Client struct {
	cfg ProxyConfig

	// dialer is the SOCKS5 dialer, or proxy.Direct.
	dialer proxy.Dialer
}

// NewClient creates a client for cfg. It validates the proxy address but
// does not connect; call CheckConnection to verify the proxy.
func NewClient(cfg ProxyConfig) (*Client, error) {
	if cfg.Direct() {
		return &Client{cfg: cfg, dialer: proxy.Direct}, nil
	}

	if !isValidProxyAddress(cfg.Address) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port does not require auth.
	dialer, err := proxy.SOCKS5("tcp", cfg.Address, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	return &Client{
		cfg:    cfg,
		dialer: dialer,
	}, nil
}

// isValidProxyAddress checks for "host:port" with a port in 1..65535.
func isValidProxyAddress(address string) bool {
	parts := strings.Split(address, ":")
	if len(parts) != 2 {
		return false
	}

	host := parts[0]
	port := parts[1]
	if host == "" || port == "" {
		return false
	}

	portNum := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
		portNum = portNum*10 + int(c-'0')
		if portNum > 65535 {
			return false
		}
	}
	return portNum >= 1
}

// SOCKS5 protocol constants
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// socks5TestHost is only used to see that the proxy answers a CONNECT.
	socks5TestHost = "check.torproject.org"
)

// CheckConnection verifies that a SOCKS5 proxy is listening at the
// configured address by performing the handshake and one CONNECT request.
// A direct configuration always reports ProxyStatusOK.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	if c.cfg.Direct() {
		return ProxyStatusOK
	}

	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	// Greeting: version, one method, no auth.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if authResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	if authResp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	// CONNECT to a domain name. Any well-formed reply, success or failure,
	// shows the proxy is relaying.
	testPort := uint16(443)
	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomID,
		byte(len(socks5TestHost)),
	}
	connectReq = append(connectReq, []byte(socks5TestHost)...)
	connectReq = append(connectReq, byte(testPort>>8), byte(testPort&0xFF))

	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// NewHTTPClient creates an HTTP client that routes every request through
// the configured proxy and sets the configured headers.
func (c *Client) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: c.DialContext,
		// Each connection holds a Tor circuit; keep the pool small.
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		// Compressed response sizes leak content (CRIME/BREACH).
		DisableCompression: true,
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	var rt http.RoundTripper = transport
	if len(c.cfg.Headers) > 0 {
		rt = &headerInjectingTransport{
			base:    transport,
			headers: c.cfg.Headers,
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   c.cfg.Timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// DialContext establishes a connection through the proxy.
// If the dialer cannot take a context, the dial runs in a goroutine and
// cancellation abandons it.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := c.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := c.dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Config returns the proxy configuration.
func (c *Client) Config() ProxyConfig {
	return c.cfg
}

// headerInjectingTransport sets fixed headers on every request.
type headerInjectingTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for key, value := range t.headers {
		if clone.Header.Get(key) == "" {
			clone.Header.Set(key, value)
		}
	}
	return t.base.RoundTrip(clone)
}

// CloseIdleConnections closes idle connections of the base transport.
func (t *headerInjectingTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := t.base.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

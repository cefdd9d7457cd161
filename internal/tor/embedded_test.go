package tor

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// TestNewEmbeddedTor tests EmbeddedTor constructor.
func TestNewEmbeddedTor(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		opts     []EmbeddedTorOption
		expected time.Duration
	}{
		{"default timeout", nil, DefaultStartupTimeout},
		{"30 seconds", []EmbeddedTorOption{WithStartupTimeout(30 * time.Second)}, 30 * time.Second},
		{"5 minutes", []EmbeddedTorOption{WithStartupTimeout(5 * time.Minute)}, 5 * time.Minute},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			embedded := NewEmbeddedTor(tc.opts...)
			if embedded.startupTimeout != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, embedded.startupTimeout)
			}
		})
	}
}

// TestEmbeddedTorMethods tests EmbeddedTor methods without starting Tor.
func TestEmbeddedTorMethods(t *testing.T) {
	t.Parallel()

	embedded := NewEmbeddedTor()

	if embedded.SocksAddr() != "" {
		t.Error("expected empty SocksAddr before start")
	}
	if embedded.ControlAddr() != "" {
		t.Error("expected empty ControlAddr before start")
	}
	if embedded.IsRunning() {
		t.Error("expected IsRunning to be false before start")
	}
	if err := embedded.Stop(); err != nil {
		t.Errorf("expected no error stopping unstarted instance, got %v", err)
	}
	if _, err := embedded.ProxyConfig(ProxyConfig{Timeout: time.Second}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestEmbeddedTorCookieAuthentication(t *testing.T) {
	t.Parallel()

	embedded := &EmbeddedTor{dataDir: t.TempDir()}
	cookie := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}
	if err := os.WriteFile(embedded.CookiePath(), cookie, 0600); err != nil {
		t.Fatalf("failed to write cookie: %v", err)
	}

	port := newFakeControlPort(t, "AUTHENTICATE "+strings.ToUpper(hex.EncodeToString(cookie)))

	t.Run("cookie from data dir authenticates", func(t *testing.T) {
		t.Parallel()

		c := NewController(port.addr, http.DefaultClient, WithCookieFile(embedded.CookiePath()))
		defer c.Close()

		if err := c.Authenticate(context.Background()); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
	})

	t.Run("without the cookie the daemon refuses", func(t *testing.T) {
		t.Parallel()

		c := NewController(port.addr, http.DefaultClient)
		defer c.Close()

		if err := c.Authenticate(context.Background()); !errors.Is(err, ErrAuth) {
			t.Fatalf("Authenticate() error = %v, want ErrAuth", err)
		}
	})

	if got := NewEmbeddedTor().CookiePath(); got != "" {
		t.Errorf("CookiePath() before start = %q, want empty", got)
	}
}

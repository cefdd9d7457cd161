package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/torcrawler/internal/model"
)

// TestNewConfig documents the default values. Changes to defaults should
// be intentional and show up here.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("default paths", func(t *testing.T) {
		t.Parallel()
		if cfg.DataPath != "data.records" || cfg.RequestLogPath != "requests.log" || cfg.ExportPath != "data.csv" {
			t.Errorf("unexpected default paths: %q %q %q", cfg.DataPath, cfg.RequestLogPath, cfg.ExportPath)
		}
		if cfg.RequestLogBackend != BackendFile {
			t.Errorf("expected backend %q, got %q", BackendFile, cfg.RequestLogBackend)
		}
	})

	t.Run("default rotation flags", func(t *testing.T) {
		t.Parallel()
		if !cfg.UseProxy || !cfg.RotateIdentity || !cfg.EnforceRotation || cfg.StrictRotation {
			t.Errorf("unexpected rotation flags: proxy=%v rotate=%v enforce=%v strict=%v",
				cfg.UseProxy, cfg.RotateIdentity, cfg.EnforceRotation, cfg.StrictRotation)
		}
		if cfg.EnforceLimit != 3 {
			t.Errorf("expected EnforceLimit 3, got %d", cfg.EnforceLimit)
		}
		if cfg.RequestsPerIdentity != 25 {
			t.Errorf("expected RequestsPerIdentity 25, got %d", cfg.RequestsPerIdentity)
		}
	})

	t.Run("default Tor addresses", func(t *testing.T) {
		t.Parallel()
		if cfg.TorProxyAddress != "127.0.0.1:9050" {
			t.Errorf("expected TorProxyAddress '127.0.0.1:9050', got '%s'", cfg.TorProxyAddress)
		}
		if cfg.TorControlAddress != "127.0.0.1:9051" {
			t.Errorf("expected TorControlAddress '127.0.0.1:9051', got '%s'", cfg.TorControlAddress)
		}
		if !cfg.UseExternalTor {
			t.Error("expected UseExternalTor to be true")
		}
	})

	t.Run("default durations", func(t *testing.T) {
		t.Parallel()
		if cfg.Timeout != 120*time.Second {
			t.Errorf("expected Timeout 120s, got %v", cfg.Timeout)
		}
		if cfg.CrawlDelay != time.Second {
			t.Errorf("expected CrawlDelay 1s, got %v", cfg.CrawlDelay)
		}
		if cfg.RotationBackoff != 2*time.Second {
			t.Errorf("expected RotationBackoff 2s, got %v", cfg.RotationBackoff)
		}
		if cfg.TorStartupTimeout != 3*time.Minute {
			t.Errorf("expected TorStartupTimeout 3m, got %v", cfg.TorStartupTimeout)
		}
	})

	t.Run("default probes", func(t *testing.T) {
		t.Parallel()
		if cfg.IPCheckURL != DefaultIPCheckURL || cfg.TorCheckURL != DefaultTorCheckURL {
			t.Errorf("unexpected probe URLs: %q %q", cfg.IPCheckURL, cfg.TorCheckURL)
		}
		if cfg.TorCheckMarker != DefaultTorCheckMarker {
			t.Errorf("unexpected TorCheckMarker: %+v", cfg.TorCheckMarker)
		}
		if !cfg.SelfTest {
			t.Error("expected SelfTest to be true")
		}
	})
}

// TestConfigValidate tests each validation rule on top of a minimal
// valid configuration.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	validConfig := func() *Config {
		cfg := NewConfig()
		cfg.BaseURLTemplate = []string{"http://example.onion/search?name=", "&city=", ""}
		return cfg
	}

	t.Run("valid config returns nil", func(t *testing.T) {
		t.Parallel()
		if err := validConfig().Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"missing template", func(c *Config) { c.BaseURLTemplate = nil }, ErrNoTemplate},
		{"empty data path", func(c *Config) { c.DataPath = "" }, ErrEmptyPath},
		{"empty export path", func(c *Config) { c.ExportPath = "" }, ErrEmptyPath},
		{"unknown backend", func(c *Config) { c.RequestLogBackend = "redis" }, ErrInvalidBackend},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, ErrInvalidTimeout},
		{"negative crawl delay", func(c *Config) { c.CrawlDelay = -time.Second }, ErrInvalidCrawlDelay},
		{"negative backoff", func(c *Config) { c.RotationBackoff = -time.Second }, ErrInvalidRotationBackoff},
		{"negative body size", func(c *Config) { c.MaxBodySize = -1 }, ErrInvalidMaxBodySize},
		{"zero quota", func(c *Config) { c.RequestsPerIdentity = 0 }, ErrInvalidRequestsPerIdentity},
		{"success marker without selector", func(c *Config) {
			c.SuccessMarker = model.Marker{Contains: "Results"}
		}, ErrInvalidMarker},
		{"failure marker without selector", func(c *Config) {
			c.FailureMarkers = []model.Marker{{Selector: "div.captcha"}, {}}
		}, ErrInvalidMarker},
		{"combinations without alphabet", func(c *Config) {
			c.BaseURLTemplate = []string{"http://example.onion/", ""}
			c.Combinations = Combinations{Length: 2}
		}, ErrInvalidCombinations},
		{"combinations with two-slot template", func(c *Config) {
			c.Combinations = Combinations{Alphabet: "ab", Length: 2}
		}, ErrInvalidCombinations},
		{"params and params file", func(c *Config) {
			c.Params = [][]string{{"alice", "Paris"}}
			c.ParamsFile = "params.csv"
		}, ErrConflictingParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("out of range enforce limit is clamped, not rejected", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.EnforceLimit = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("single-slot template with combinations is valid", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.BaseURLTemplate = []string{"http://example.onion/user/", ""}
		cfg.Combinations = Combinations{Alphabet: "abc", Length: 3}
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})
}

func TestConfigLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{3, 3},
		{100, 100},
		{101, 100},
	}
	for _, tt := range tests {
		cfg := NewConfig()
		cfg.EnforceLimit = tt.in
		if got := cfg.Limit(); got != tt.want {
			t.Errorf("Limit() with EnforceLimit=%d = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestConfigRotationEnabled(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	if !cfg.RotationEnabled() {
		t.Error("expected rotation enabled by default")
	}
	cfg.UseProxy = false
	if cfg.RotationEnabled() {
		t.Error("expected rotation disabled without proxy")
	}
	cfg.UseProxy = true
	cfg.RotateIdentity = false
	if cfg.RotationEnabled() {
		t.Error("expected rotation disabled when rotateIdentity is false")
	}
}

func TestConfigRequestHeaders(t *testing.T) {
	t.Parallel()

	t.Run("merges user agent and cookie", func(t *testing.T) {
		t.Parallel()
		cfg := NewConfig()
		cfg.Headers = map[string]string{"Accept-Language": "en-US"}
		cfg.Cookie = "session=abc"

		h := cfg.RequestHeaders()
		if h["Accept-Language"] != "en-US" {
			t.Errorf("expected Accept-Language to be kept, got %q", h["Accept-Language"])
		}
		if h["User-Agent"] != DefaultUserAgent {
			t.Errorf("expected default User-Agent, got %q", h["User-Agent"])
		}
		if h["Cookie"] != "session=abc" {
			t.Errorf("expected Cookie 'session=abc', got %q", h["Cookie"])
		}
	})

	t.Run("does not modify configured headers", func(t *testing.T) {
		t.Parallel()
		cfg := NewConfig()
		cfg.Headers = map[string]string{"X-Test": "1"}
		_ = cfg.RequestHeaders()
		if len(cfg.Headers) != 1 {
			t.Errorf("expected Headers to be unchanged, got %v", cfg.Headers)
		}
	})

	t.Run("empty user agent is omitted", func(t *testing.T) {
		t.Parallel()
		cfg := NewConfig()
		cfg.UserAgent = ""
		if _, ok := cfg.RequestHeaders()["User-Agent"]; ok {
			t.Error("expected no User-Agent header")
		}
	})
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("loads values on top of defaults", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "torcrawler.yaml")
		content := `baseUrlTemplate:
  - "http://example.onion/search?name="
  - "&city="
  - ""
requestLogBackend: sqlite
strictRotation: true
enforceLimit: 5
crawlDelay: 250ms
successMarker:
  selector: "ul.results"
failureMarkers:
  - selector: "title"
    contains: "Captcha"
params:
  - ["alice", "Paris"]
extract:
  item: "li.person"
  fields:
    name: ".name"
headers:
  Accept-Language: en-US
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("LoadConfigFile() error = %v", err)
		}
		if len(cfg.BaseURLTemplate) != 3 || cfg.BaseURLTemplate[1] != "&city=" {
			t.Errorf("unexpected template: %v", cfg.BaseURLTemplate)
		}
		if cfg.RequestLogBackend != BackendSQLite {
			t.Errorf("expected sqlite backend, got %q", cfg.RequestLogBackend)
		}
		if !cfg.StrictRotation || cfg.EnforceLimit != 5 {
			t.Errorf("unexpected rotation settings: strict=%v limit=%d", cfg.StrictRotation, cfg.EnforceLimit)
		}
		if cfg.CrawlDelay != 250*time.Millisecond {
			t.Errorf("expected crawl delay 250ms, got %v", cfg.CrawlDelay)
		}
		if cfg.SuccessMarker.Selector != "ul.results" {
			t.Errorf("unexpected success marker: %+v", cfg.SuccessMarker)
		}
		if len(cfg.FailureMarkers) != 1 || cfg.FailureMarkers[0].Contains != "Captcha" {
			t.Errorf("unexpected failure markers: %+v", cfg.FailureMarkers)
		}
		if len(cfg.Params) != 1 || cfg.Params[0][1] != "Paris" {
			t.Errorf("unexpected params: %v", cfg.Params)
		}
		if cfg.Extract.Fields["name"] != ".name" {
			t.Errorf("unexpected extract rule: %+v", cfg.Extract)
		}
		if cfg.Headers["Accept-Language"] != "en-US" {
			t.Errorf("unexpected headers: %v", cfg.Headers)
		}

		// Keys absent from the file keep their defaults.
		if cfg.Timeout != DefaultTimeout || !cfg.UseProxy || cfg.RequestsPerIdentity != DefaultRequestsPerIdentity {
			t.Errorf("expected defaults to be kept, got timeout=%v proxy=%v quota=%d",
				cfg.Timeout, cfg.UseProxy, cfg.RequestsPerIdentity)
		}
		if cfg.ConfigFilePath != path {
			t.Errorf("expected ConfigFilePath %q, got %q", path, cfg.ConfigFilePath)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected loaded config to be valid, got %v", err)
		}
	})

	t.Run("missing file returns ErrConfigNotFound", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "torcrawler.yaml")
		if err := os.WriteFile(path, []byte("baseUrlTemplat:\n  - x\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := LoadConfigFile(path)
		if err == nil || !strings.Contains(err.Error(), "baseUrlTemplat") {
			t.Errorf("expected unknown field error, got %v", err)
		}
	})

	t.Run("empty file yields defaults", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "torcrawler.yaml")
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("LoadConfigFile() error = %v", err)
		}
		if cfg.DataPath != DefaultDataPath {
			t.Errorf("expected default DataPath, got %q", cfg.DataPath)
		}
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("explicit path that exists", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "job.yaml")
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
		if got := FindConfigFile(path); got != path {
			t.Errorf("expected %q, got %q", path, got)
		}
	})

	t.Run("explicit path that does not exist", func(t *testing.T) {
		t.Parallel()
		if got := FindConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})
}

func TestXDGDirs(t *testing.T) {
	t.Parallel()

	if !strings.HasSuffix(XDGDataDir(), AppName) {
		t.Errorf("expected XDGDataDir to end with %q, got %q", AppName, XDGDataDir())
	}
	if !strings.HasSuffix(XDGConfigDir(), AppName) {
		t.Errorf("expected XDGConfigDir to end with %q, got %q", AppName, XDGConfigDir())
	}
}

func TestConfigTemplate(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.BaseURLTemplate = []string{"http://example.onion/?q=", ""}
	if got := cfg.Template().Slots(); got != 1 {
		t.Errorf("expected 1 slot, got %d", got)
	}
}

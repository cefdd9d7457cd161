package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/torcrawler/internal/model"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "torcrawler"

	// DefaultDataPath is the record log file.
	DefaultDataPath = "data.records"

	// DefaultRequestLogPath is the request log file, or the database
	// directory with the sqlite backend.
	DefaultRequestLogPath = "requests.log"

	// DefaultExportPath is the CSV export file.
	DefaultExportPath = "data.csv"

	// BackendFile keeps the request log in an append-only file.
	BackendFile = "file"

	// BackendSQLite keeps the request log in a SQLite database, which is safe
	// to share between processes.
	BackendSQLite = "sqlite"

	// DefaultTorProxyAddress is the Tor daemon's SOCKS port. 127.0.0.1
	// avoids resolving localhost to ::1 on some systems.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTorControlAddress is the Tor daemon's control port.
	DefaultTorControlAddress = "127.0.0.1:9051"

	// DefaultEnforceLimit is the number of attempts per rotation.
	DefaultEnforceLimit = 3

	// MaxEnforceLimit caps attempts per rotation to bound load on the Tor
	// network.
	MaxEnforceLimit = 100

	// DefaultRequestsPerIdentity is how many requests an identity serves.
	DefaultRequestsPerIdentity = 25

	// DefaultTimeout is generous because every request crosses three relays.
	DefaultTimeout = 120 * time.Second

	// DefaultCrawlDelay is the minimum time between crawl requests.
	DefaultCrawlDelay = 1 * time.Second

	// DefaultRotationBackoff is the pause between rotation attempts.
	DefaultRotationBackoff = 2 * time.Second

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultUserAgent matches Tor Browser so crawl traffic does not stand
	// out among other Tor users.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0"

	// DefaultMaxBodySize limits the response body size to read.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultIPCheckURL returns the caller's address as plain text.
	DefaultIPCheckURL = "https://icanhazip.com"

	// DefaultTorCheckURL is the Tor Project's "am I using Tor" page.
	DefaultTorCheckURL = "https://check.torproject.org"
)

// DefaultTorCheckMarker matches the Tor check page only when the request
// came through Tor.
var DefaultTorCheckMarker = model.Marker{Selector: "title", Contains: "Congratulations"}

// Combinations generates params from every string of Length characters
// over Alphabet.
type Combinations struct {
	Alphabet string `yaml:"alphabet"`
	Length   int    `yaml:"length"`
}

// IsZero reports whether combinations are not configured.
func (c Combinations) IsZero() bool {
	return c.Alphabet == "" && c.Length == 0
}

// Config holds every option of a crawl job. It is loaded from YAML on top
// of NewConfig defaults, then adjusted by CLI flags, and passed down by
// value rather than kept in a global.
type Config struct {
	// BaseURLTemplate is the ordered list of URL fragments. Params are
	// inserted between consecutive fragments.
	BaseURLTemplate []string `yaml:"baseUrlTemplate"`

	DataPath          string `yaml:"dataPath"`
	RequestLogPath    string `yaml:"requestLogPath"`
	ExportPath        string `yaml:"exportPath"`
	RequestLogBackend string `yaml:"requestLogBackend"`

	// SuccessMarker, when set, must match every fetched page.
	SuccessMarker model.Marker `yaml:"successMarker"`

	// FailureMarkers identify known failure pages such as captchas.
	FailureMarkers []model.Marker `yaml:"failureMarkers"`

	// UseProxy gates all Tor behavior. When false, requests go out directly
	// and identity rotation is disabled.
	UseProxy bool `yaml:"useProxy"`

	// RotateIdentity rotates the circuit after RequestsPerIdentity requests.
	RotateIdentity bool `yaml:"rotateIdentity"`

	// EnforceRotation verifies that a rotation changed the external address
	// and retries if it did not.
	EnforceRotation bool `yaml:"enforceRotation"`

	// StrictRotation makes a failed verification fatal instead of a warning.
	StrictRotation bool `yaml:"strictRotation"`

	// EnforceLimit is the number of attempts per rotation. Values outside
	// [1, MaxEnforceLimit] are clamped.
	EnforceLimit int `yaml:"enforceLimit"`

	RequestsPerIdentity int `yaml:"requestsPerIdentity"`

	// ControlSecret is the control port password. ControlCookiePath is used
	// when no secret is set. With neither, no authentication is sent.
	ControlSecret     string `yaml:"controlSecret"`
	ControlCookiePath string `yaml:"controlCookiePath"`

	TorProxyAddress   string `yaml:"torProxyAddress"`
	TorControlAddress string `yaml:"torControlAddress"`

	// UseExternalTor uses the daemon at TorProxyAddress. When false an
	// embedded daemon is started and both addresses are ignored.
	UseExternalTor bool `yaml:"useExternalTor"`

	TorStartupTimeout time.Duration `yaml:"torStartupTimeout"`
	Timeout           time.Duration `yaml:"timeout"`
	CrawlDelay        time.Duration `yaml:"crawlDelay"`
	RotationBackoff   time.Duration `yaml:"rotationBackoff"`

	UserAgent   string `yaml:"userAgent"`
	MaxBodySize int64  `yaml:"maxBodySize"`

	// Headers are added to every crawl request.
	Headers map[string]string `yaml:"headers"`

	// Cookie is sent with every crawl request, for example "session=abc".
	Cookie string `yaml:"cookie"`

	IPCheckURL     string       `yaml:"ipCheckURL"`
	TorCheckURL    string       `yaml:"torCheckURL"`
	TorCheckMarker model.Marker `yaml:"torCheckMarker"`

	// SelfTest validates Tor and rotation before the crawl starts.
	SelfTest bool `yaml:"selfTest"`

	// Exactly one params source may be set.
	Params       [][]string   `yaml:"params"`
	ParamsFile   string       `yaml:"paramsFile"`
	Combinations Combinations `yaml:"combinations"`

	// Extract turns each fetched page into records.
	Extract model.ExtractRule `yaml:"extract"`

	// Verbose enables debug logging. Otherwise only warnings and errors
	// are logged.
	Verbose bool `yaml:"-"`

	// LogJSON writes logs as JSON.
	LogJSON bool `yaml:"-"`

	// ConfigFilePath is the file the configuration was loaded from.
	ConfigFilePath string `yaml:"-"`
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		DataPath:            DefaultDataPath,
		RequestLogPath:      DefaultRequestLogPath,
		ExportPath:          DefaultExportPath,
		RequestLogBackend:   BackendFile,
		UseProxy:            true,
		RotateIdentity:      true,
		EnforceRotation:     true,
		EnforceLimit:        DefaultEnforceLimit,
		RequestsPerIdentity: DefaultRequestsPerIdentity,
		TorProxyAddress:     DefaultTorProxyAddress,
		TorControlAddress:   DefaultTorControlAddress,
		UseExternalTor:      true,
		TorStartupTimeout:   DefaultTorStartupTimeout,
		Timeout:             DefaultTimeout,
		CrawlDelay:          DefaultCrawlDelay,
		RotationBackoff:     DefaultRotationBackoff,
		UserAgent:           DefaultUserAgent,
		MaxBodySize:         DefaultMaxBodySize,
		IPCheckURL:          DefaultIPCheckURL,
		TorCheckURL:         DefaultTorCheckURL,
		TorCheckMarker:      DefaultTorCheckMarker,
		SelfTest:            true,
	}
}

// Template returns the URL template.
func (c *Config) Template() model.Template {
	return model.Template(c.BaseURLTemplate)
}

// Limit returns EnforceLimit clamped to [1, MaxEnforceLimit].
func (c *Config) Limit() int {
	return min(max(c.EnforceLimit, 1), MaxEnforceLimit)
}

// RotationEnabled reports whether the identity is rotated on quota.
func (c *Config) RotationEnabled() bool {
	return c.UseProxy && c.RotateIdentity
}

// RequestHeaders returns the headers for crawl requests, including
// User-Agent and Cookie.
func (c *Config) RequestHeaders() map[string]string {
	h := make(map[string]string, len(c.Headers)+2)
	for k, v := range c.Headers {
		h[k] = v
	}
	if c.UserAgent != "" {
		h["User-Agent"] = c.UserAgent
	}
	if c.Cookie != "" {
		h["Cookie"] = c.Cookie
	}
	return h
}

// XDGDataDir returns the XDG data directory for torcrawler.
// On Linux: ~/.local/share/torcrawler
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for torcrawler.
// On Linux: ~/.config/torcrawler
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
// EnforceLimit is not an error when out of range; it is clamped by Limit.
func (c *Config) Validate() error {
	if len(c.BaseURLTemplate) == 0 {
		return ErrNoTemplate
	}
	if c.DataPath == "" || c.RequestLogPath == "" || c.ExportPath == "" {
		return ErrEmptyPath
	}
	if c.RequestLogBackend != BackendFile && c.RequestLogBackend != BackendSQLite {
		return ErrInvalidBackend
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if c.RotationBackoff < 0 {
		return ErrInvalidRotationBackoff
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.RequestsPerIdentity < 1 {
		return ErrInvalidRequestsPerIdentity
	}
	if c.SuccessMarker.Contains != "" && c.SuccessMarker.Selector == "" {
		return ErrInvalidMarker
	}
	for _, m := range c.FailureMarkers {
		if m.Selector == "" {
			return ErrInvalidMarker
		}
	}

	sources := 0
	if len(c.Params) > 0 {
		sources++
	}
	if c.ParamsFile != "" {
		sources++
	}
	if !c.Combinations.IsZero() {
		sources++
		if c.Combinations.Alphabet == "" || c.Combinations.Length < 1 {
			return ErrInvalidCombinations
		}
		if len(c.BaseURLTemplate) != 2 {
			return ErrInvalidCombinations
		}
	}
	if sources > 1 {
		return ErrConflictingParams
	}
	return nil
}

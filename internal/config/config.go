package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/al-bashkir/reachable/internal/portal"
	"github.com/al-bashkir/reachable/internal/sso"
	"github.com/al-bashkir/reachable/internal/store"
)

// Browser modes.
const (
	BrowserHeadless    = "headless"
	BrowserInteractive = "interactive"
)

// Config represents the complete application configuration
type Config struct {
	Portal         PortalConfig  `yaml:"portal"`
	Login          LoginConfig   `yaml:"login"`
	Store          StoreConfig   `yaml:"store"`
	Browser        BrowserConfig `yaml:"browser"`
	Search         SearchConfig  `yaml:"search"`
	RequestTimeout int           `yaml:"request_timeout_seconds"` // Per-command timeout in seconds
	Log            LogConfig     `yaml:"log"`
}

// PortalConfig defines how portal backends are contacted
type PortalConfig struct {
	SearchURL         string  `yaml:"search_url"`          // School directory search endpoint
	UserAgent         string  `yaml:"user_agent"`          // User-Agent header for every request
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Outbound rate per portal host
	Burst             int     `yaml:"burst"`
}

// LoginConfig holds defaults for the login command
type LoginConfig struct {
	Host   string `yaml:"host"`   // Portal host, e.g. school.reachboarding.com
	Method string `yaml:"method"` // direct, saml, blackbaud
	Token  string `yaml:"token"`  // Direct login token
}

// StoreConfig defines where the session database lives
type StoreConfig struct {
	Path string `yaml:"path"` // Empty means the per-user default
}

// BrowserConfig defines how redirect logins are driven
type BrowserConfig struct {
	Mode                      string `yaml:"mode"`                        // headless, interactive
	MaxHops                   int    `yaml:"max_hops"`                    // Navigation limit for the headless browser
	InteractiveTimeoutSeconds int    `yaml:"interactive_timeout_seconds"` // Time a user has to finish an interactive login
}

// SearchConfig defines school search behavior
type SearchConfig struct {
	CacheSize       int `yaml:"cache_size"`        // 0 disables the cache
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"` // Cache entry lifetime
	MinQueryLength  int `yaml:"min_query_length"`  // Shorter queries return no results
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist. Any other error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	slog.Debug("config file not found, using defaults", "path", path)
	return finish(DefaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			SearchURL:         portal.DefaultSearchURL,
			UserAgent:         "reachable",
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Login: LoginConfig{
			Method: string(sso.ProviderBlackbaud),
		},
		Browser: BrowserConfig{
			Mode:                      BrowserHeadless,
			MaxHops:                   30,
			InteractiveTimeoutSeconds: 900, // 15 minutes
		},
		Search: SearchConfig{
			CacheSize:       128,
			CacheTTLSeconds: 300, // 5 minutes
			MinQueryLength:  3,
		},
		RequestTimeout: 120,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// Portal overrides
	if v := os.Getenv("REACHABLE_SEARCH_URL"); v != "" {
		c.Portal.SearchURL = v
	}
	if v := os.Getenv("REACHABLE_USER_AGENT"); v != "" {
		c.Portal.UserAgent = v
	}

	// Login overrides
	if v := os.Getenv("REACHABLE_LOGIN_HOST"); v != "" {
		c.Login.Host = v
	}
	if v := os.Getenv("REACHABLE_LOGIN_METHOD"); v != "" {
		c.Login.Method = v
	}
	if v := os.Getenv("REACHABLE_LOGIN_TOKEN"); v != "" {
		c.Login.Token = v
	}

	// Store and browser overrides
	if v := os.Getenv("REACHABLE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("REACHABLE_BROWSER_MODE"); v != "" {
		c.Browser.Mode = v
	}
	if v := os.Getenv("REACHABLE_INTERACTIVE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Browser.InteractiveTimeoutSeconds = n
		} else {
			slog.Warn("ignoring invalid REACHABLE_INTERACTIVE_TIMEOUT", "value", v)
		}
	}
	if v := os.Getenv("REACHABLE_REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = n
		} else {
			slog.Warn("ignoring invalid REACHABLE_REQUEST_TIMEOUT", "value", v)
		}
	}

	// Log overrides
	if v := os.Getenv("REACHABLE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REACHABLE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate portal config
	u, err := url.Parse(c.Portal.SearchURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("portal.search_url must be a valid HTTP(S) URL")
	}
	if c.Portal.RequestsPerSecond <= 0 {
		return fmt.Errorf("portal.requests_per_second must be positive")
	}
	if c.Portal.Burst < 1 {
		return fmt.Errorf("portal.burst must be at least 1")
	}

	// Validate login config
	if c.Login.Host != "" {
		if _, err := portal.BaseURL(c.Login.Host); err != nil {
			return fmt.Errorf("login.host: %w", err)
		}
	}
	if _, err := sso.ParseProvider(c.Login.Method); err != nil {
		return fmt.Errorf("login.method must be one of: direct, saml, blackbaud")
	}

	// Validate browser config
	if c.Browser.Mode != BrowserHeadless && c.Browser.Mode != BrowserInteractive {
		return fmt.Errorf("browser.mode must be one of: headless, interactive")
	}
	if c.Browser.MaxHops <= 0 {
		return fmt.Errorf("browser.max_hops must be positive")
	}
	if c.Browser.MaxHops > 100 {
		return fmt.Errorf("browser.max_hops should not exceed 100")
	}
	if c.Browser.InteractiveTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.interactive_timeout_seconds must be positive")
	}
	if c.Browser.InteractiveTimeoutSeconds > 7200 {
		return fmt.Errorf("browser.interactive_timeout_seconds should not exceed 7200 seconds (2 hours)")
	}

	// Validate search config
	if c.Search.CacheSize < 0 {
		return fmt.Errorf("search.cache_size must not be negative")
	}
	if c.Search.CacheSize > 0 && c.Search.CacheTTLSeconds <= 0 {
		return fmt.Errorf("search.cache_ttl_seconds must be positive when the cache is enabled")
	}
	if c.Search.MinQueryLength < 0 {
		return fmt.Errorf("search.min_query_length must not be negative")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive")
	}
	if c.RequestTimeout > 3600 {
		return fmt.Errorf("request_timeout_seconds should not exceed 3600 seconds (1 hour)")
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// StorePath returns the configured store path or the per-user default.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	return store.DefaultPath()
}

// Timeout returns the per-command timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// LoginTimeout returns how long a login may take. Interactive logins wait
// on a person, so they get the longer of the two limits.
func (c *Config) LoginTimeout(interactive bool) time.Duration {
	if !interactive {
		return c.Timeout()
	}
	return max(c.Timeout(), time.Duration(c.Browser.InteractiveTimeoutSeconds)*time.Second)
}

// PortalOptions returns the portal client options this config describes.
func (c *Config) PortalOptions() []portal.Option {
	return []portal.Option{
		portal.WithSearchURL(c.Portal.SearchURL),
		portal.WithUserAgent(c.Portal.UserAgent),
		portal.WithRateLimit(c.Portal.RequestsPerSecond, c.Portal.Burst),
		portal.WithSearchCache(c.Search.CacheSize, time.Duration(c.Search.CacheTTLSeconds)*time.Second),
		portal.WithMinQueryLength(c.Search.MinQueryLength),
	}
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	if redacted.Login.Token != "" {
		redacted.Login.Token = "[REDACTED]"
	}
	return &redacted
}

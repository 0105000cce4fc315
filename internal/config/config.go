// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/api-proxy/config.toml",
	"configs/config.toml",
}

// reservedPaths are served by the proxy itself and cannot be route prefixes.
var reservedPaths = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream string `kong:"help='Upstream host URL (overrides proxy.host).',env='API_PROXY_UPSTREAM'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxySettings  `toml:"proxy"`
	Routes   []RouteConfig  `toml:"routes"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection pool settings shared by all routes.
type UpstreamConfig struct {
	IdleConnections int                  `toml:"idle_connections"`
	CircuitBreaker  CircuitBreakerConfig `toml:"circuit_breaker"`
}

// CircuitBreakerConfig controls the per-host upstream circuit breaker.
type CircuitBreakerConfig struct {
	Enabled     bool `toml:"enabled"`
	MaxFailures int  `toml:"max_failures"`
	OpenSeconds int  `toml:"open_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/api-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Proxy.Host = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validateProxy("proxy", c.Proxy.Host, c.Proxy.TimeoutSeconds, c.Proxy.DefaultContentType, c.Proxy.Auth); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, r := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if r.Prefix == "" || r.Prefix[0] != '/' {
			return fmt.Errorf("%s.prefix must start with '/'; got %q", field, r.Prefix)
		}
		prefix := normalizePrefix(r.Prefix)
		if seen[prefix] {
			return fmt.Errorf("%s.prefix %q is declared more than once", field, r.Prefix)
		}
		seen[prefix] = true
		if conflictsWithReserved(prefix) {
			return fmt.Errorf("%s.prefix %q conflicts with a reserved route", field, r.Prefix)
		}
		eff := r.Effective(c.Proxy)
		if err := validateProxy(field, eff.Host, eff.TimeoutSeconds, eff.DefaultContentType, eff.Auth); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.CircuitBreaker.MaxFailures < 0 || c.Upstream.CircuitBreaker.OpenSeconds < 0 {
		return fmt.Errorf("upstream.circuit_breaker values must be non-negative")
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if conflictsWithReserved(p) {
			return fmt.Errorf("metrics.path %q conflicts with a reserved route", p)
		}
	}

	return nil
}

// validateProxy checks the keys of a proxy section. An empty host is allowed
// here; requests fail with a configuration error when they reach it.
func validateProxy(field, host string, timeout float64, contentType string, auth AuthConfig) error {
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return fmt.Errorf("%s.host is not a valid URL: %w", field, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s.host must use http or https; got %q", field, host)
		}
		if u.Host == "" {
			return fmt.Errorf("%s.host has no host part; got %q", field, host)
		}
	}
	if timeout < 0 {
		return fmt.Errorf("%s.timeout_seconds must be non-negative; got %v", field, timeout)
	}
	if contentType != "" {
		if _, _, err := mime.ParseMediaType(contentType); err != nil {
			return fmt.Errorf("%s.default_content_type is not a media type: %w", field, err)
		}
	}
	if (auth.User == "") != (auth.Password == "") && auth.Token == "" {
		return fmt.Errorf("%s.auth needs both user and password for basic auth", field)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	c.Proxy.setDefaults()
	if len(c.Routes) == 0 {
		c.Routes = []RouteConfig{{Prefix: "/"}}
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.CircuitBreaker.MaxFailures == 0 {
		c.Upstream.CircuitBreaker.MaxFailures = 5
	}
	if c.Upstream.CircuitBreaker.OpenSeconds == 0 {
		c.Upstream.CircuitBreaker.OpenSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// RoutePrefix returns the route prefix without a trailing slash ("/" stays "/").
func (r RouteConfig) RoutePrefix() string {
	return normalizePrefix(r.Prefix)
}

func normalizePrefix(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}

func conflictsWithReserved(p string) bool {
	for _, reserved := range reservedPaths {
		if p == reserved || strings.HasPrefix(p, reserved+"/") || strings.HasPrefix(reserved, p+"/") {
			return true
		}
	}
	return false
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may hold upstream credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnMissingHosts logs every route that has no upstream host. Requests to
// those routes fail until a host is configured.
func (c *Config) WarnMissingHosts(logger *slog.Logger) {
	for _, r := range c.Routes {
		if r.Effective(c.Proxy).Host == "" {
			logger.Warn("route has no upstream host; requests will fail", "prefix", r.Prefix)
		}
	}
}

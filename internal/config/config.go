// Package config loads the service configuration: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/sanonone/jsonqueryflow/pkg/llm"
	"github.com/sanonone/jsonqueryflow/pkg/retry"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Gateway  llm.GatewayConfig `yaml:"gateway"`
	Local    llm.LocalConfig   `yaml:"local"`
	Retry    retry.Config      `yaml:"retry"`
	LogLevel string            `yaml:"log_level"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	ServiceName string `yaml:"service_name"`

	// AllowedOrigins restricts callers by Origin/Referer. Empty disables
	// the check.
	AllowedOrigins []string `yaml:"allowed_origins"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableMCP mounts the MCP tool server at /mcp.
	EnableMCP bool `yaml:"enable_mcp"`
}

// RateLimitConfig bounds the model-backed endpoints. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// NewLimiter returns the token bucket described by c, or nil when disabled.
func (c RateLimitConfig) NewLimiter() *rate.Limiter {
	if c.RPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RPS), c.Burst)
}

// DefaultConfig returns a configuration that runs locally without a file.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8787",
			ServiceName:  "json-query-flow",
			RateLimit:    RateLimitConfig{RPS: 5, Burst: 10},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
			EnableMCP:    true,
		},
		Gateway:  llm.DefaultGatewayConfig(),
		Local:    llm.DefaultLocalConfig(),
		Retry:    retry.DefaultConfig(),
		LogLevel: "info",
	}
}

// Load reads the YAML configuration file using strict parsing and applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// 1. Open File
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()

		// 2. Setup Strict Decoder
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)

		// 3. Decode
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overlays the environment variables the deployment sets.
func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("JQF_HTTP_ADDR", &cfg.Server.Addr)
	setString("JQF_LOG_LEVEL", &cfg.LogLevel)
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = SplitOrigins(v)
	}
	if v, ok := os.LookupEnv("JQF_ENABLE_MCP"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("JQF_ENABLE_MCP: %w", err)
		}
		cfg.Server.EnableMCP = b
	}

	setString("DEFAULT_MODEL", &cfg.Gateway.DefaultModel)
	setString("CF_ACCOUNT_ID", &cfg.Gateway.AccountID)
	setString("CF_AI_GATEWAY", &cfg.Gateway.GatewayID)
	setString("CF_AI_GATEWAY_TOKEN", &cfg.Gateway.Token)
	setString("GEMINI_API_KEY", &cfg.Gateway.APIKey)

	if v, ok := os.LookupEnv("LOCAL_LLM_URL"); ok && v != "" {
		cfg.Local.BaseURL = v
		cfg.Local.Enabled = true
	}
	setString("LOCAL_LLM_MODEL", &cfg.Local.Model)
	return nil
}

// SplitOrigins parses a comma separated origin list, dropping blanks.
func SplitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// NormalizeOrigin reduces an origin or referer URL to scheme://host[:port].
func NormalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("origin %q has no scheme or host", raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return errors.New("server timeouts cannot be negative")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0 {
		return errors.New("server.rate_limit.burst must be positive when rps is set")
	}
	for _, o := range c.Server.AllowedOrigins {
		if _, err := NormalizeOrigin(o); err != nil {
			return fmt.Errorf("server.allowed_origins: %w", err)
		}
	}
	if c.Gateway.Timeout < 0 || c.Local.Timeout < 0 {
		return errors.New("model timeouts cannot be negative")
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug|info|warn|error to a slog level. Empty is info.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// ABOUTME: Configuration loading and parsing for agent-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agent-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Workers   []WorkerConfig  `yaml:"workers"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds caller authentication configuration.
// Either api_keys or jwt_secret (or both) may be set; a caller is accepted
// if any configured credential scheme validates.
type AuthConfig struct {
	JWTSecret string            `yaml:"jwt_secret"`
	APIKeys   map[string]string `yaml:"api_keys"` // caller name -> key
}

// WorkerConfig describes one remote worker endpoint and its allowed actions.
type WorkerConfig struct {
	Name     string         `yaml:"name"`
	BaseURL  string         `yaml:"base_url"`
	APIKey   string         `yaml:"api_key"`
	Wildcard bool           `yaml:"wildcard"` // accept unlisted actions with no field rules
	Actions  []ActionConfig `yaml:"actions"`
}

// ActionConfig describes the validation rule for one worker action.
type ActionConfig struct {
	Name     string            `yaml:"name"`
	Required []string          `yaml:"required"`
	Fields   map[string]string `yaml:"fields"` // field name -> type (string, number, boolean, array, object)
	Async    bool              `yaml:"async"`
	ReadOnly bool              `yaml:"read_only"`

	// Per-action rate limit override; zero values fall back to the defaults.
	RateLimit     int           `yaml:"rate_limit"`
	RateWindow    time.Duration `yaml:"-"`
	RateWindowRaw string        `yaml:"rate_window"`
}

// RateLimitConfig holds sliding-window rate limiter configuration
type RateLimitConfig struct {
	Enabled bool   `yaml:"enabled"`
	Limit   int    `yaml:"limit"`
	Backend string `yaml:"backend"` // "memory" (default) or "redis"
	Redis   string `yaml:"redis"`   // redis address, required for the redis backend

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// WebhookConfig holds inbound callback configuration
type WebhookConfig struct {
	Secret  string   `yaml:"secret"`
	Events  []string `yaml:"events"`   // registration allow-list; empty means built-in defaults
	HookURL string   `yaml:"hook_url"` // optional host-side notification endpoint
}

// RetentionConfig holds communication log retention configuration
type RetentionConfig struct {
	CommLog    time.Duration `yaml:"-"`
	CommLogRaw string        `yaml:"comm_log"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when the corresponding config values are absent.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultRateWindow     = 60 * time.Second
	DefaultRateLimit      = 100
	DefaultCommLogMaxAge  = 30 * 24 * time.Hour
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional settings.
func applyDefaults(cfg *Config) {
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultRateWindow
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = DefaultRateLimit
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.Retention.CommLog == 0 {
		cfg.Retention.CommLog = DefaultCommLogMaxAge
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker must be configured")
	}

	seen := make(map[string]bool)
	for i, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("workers[%d].name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate worker name %q", w.Name)
		}
		seen[w.Name] = true

		if w.BaseURL == "" {
			return fmt.Errorf("workers[%d].base_url is required", i)
		}
		u, err := url.Parse(w.BaseURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("workers[%d].base_url must be an absolute http(s) URL", i)
		}

		for j, a := range w.Actions {
			if a.Name == "" {
				return fmt.Errorf("workers[%d].actions[%d].name is required", i, j)
			}
			for field, typ := range a.Fields {
				if !validFieldType(typ) {
					return fmt.Errorf("worker %q action %q: field %q has unknown type %q", w.Name, a.Name, field, typ)
				}
			}
		}
	}

	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return fmt.Errorf("rate_limit.backend must be \"memory\" or \"redis\"")
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.Redis == "" {
		return fmt.Errorf("rate_limit.redis address is required for the redis backend")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required")
	}

	return nil
}

// validFieldType reports whether a configured field type name is recognized.
func validFieldType(t string) bool {
	switch t {
	case "string", "number", "boolean", "array", "object":
		return true
	}
	return false
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.RequestTimeoutRaw != "" {
		cfg.Server.RequestTimeout, err = time.ParseDuration(cfg.Server.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Server.RequestTimeoutRaw, err)
		}
	}

	if cfg.RateLimit.WindowRaw != "" {
		cfg.RateLimit.Window, err = time.ParseDuration(cfg.RateLimit.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limit.window %q: %w", cfg.RateLimit.WindowRaw, err)
		}
	}

	if cfg.Retention.CommLogRaw != "" {
		cfg.Retention.CommLog, err = time.ParseDuration(cfg.Retention.CommLogRaw)
		if err != nil {
			return fmt.Errorf("parsing retention.comm_log %q: %w", cfg.Retention.CommLogRaw, err)
		}
	}

	for i := range cfg.Workers {
		for j := range cfg.Workers[i].Actions {
			a := &cfg.Workers[i].Actions[j]
			if a.RateWindowRaw == "" {
				continue
			}
			a.RateWindow, err = time.ParseDuration(a.RateWindowRaw)
			if err != nil {
				return fmt.Errorf("parsing rate_window %q for action %q: %w", a.RateWindowRaw, a.Name, err)
			}
		}
	}

	return nil
}

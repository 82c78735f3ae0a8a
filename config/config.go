// Package config loads the configuration of the throttled binary and turns it
// into throttling gates.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jassus213/throttle"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Policies []PolicyConfig `yaml:"policies"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// Upstream is the URL requests are proxied to. Empty serves a built-in echo handler.
	Upstream string `yaml:"upstream"`

	// TrustProxy honors X-Forwarded-For and X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy"`

	// TrustedProxies restricts TrustProxy to these IPs or CIDR blocks.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the logging backend.
type LogConfig struct {
	// Backend is one of "zap", "zerolog", "logrus" or "std".
	Backend string `yaml:"backend"`

	// Level is one of "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
}

// StoreConfig selects where windows are counted.
type StoreConfig struct {
	// Type is "memory" or "redis".
	Type string `yaml:"type"`

	// SweepInterval is how often expired windows are dropped from memory.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
	// Prefix is prepended to every key; the policy name follows it.
	Prefix string `yaml:"prefix"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// IsEnabled returns true if metrics are exported.
func (c *MetricsConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

// PolicyConfig describes one throttling policy.
type PolicyConfig struct {
	Name   string        `yaml:"name"`
	Window time.Duration `yaml:"window"`
	Limit  int64         `yaml:"limit"`

	// Key is "ip", "user", "endpoint" or "composite".
	Key string `yaml:"key"`

	Paths      []string      `yaml:"paths"`
	Methods    []string      `yaml:"methods"`
	SkipRoutes []RouteConfig `yaml:"skip_routes"`

	SkipSuccessful bool `yaml:"skip_successful"`
	SkipFailed     bool `yaml:"skip_failed"`

	// Headers is "both", "standard", "legacy" or "none".
	Headers string `yaml:"headers"`
	Message string `yaml:"message"`

	Disabled bool `yaml:"disabled"`
}

// RouteConfig names a route that is never counted.
type RouteConfig struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// DefaultPolicies is the policy set used when none is configured: a general
// API budget, a strict login budget that only counts failures and a per user
// budget for expensive endpoints.
func DefaultPolicies() []PolicyConfig {
	return []PolicyConfig{
		{
			Name:   "api",
			Window: 15 * time.Minute,
			Limit:  100,
			Key:    "ip",
			Paths:  []string{"/api/*"},
		},
		{
			Name:           "auth",
			Window:         15 * time.Minute,
			Limit:          5,
			Key:            "endpoint",
			Paths:          []string{"/api/auth/*"},
			SkipSuccessful: true,
		},
		{
			Name:   "ai",
			Window: time.Hour,
			Limit:  20,
			Key:    "user",
			Paths:  []string{"/api/ai/*"},
		},
	}
}

// SetDefaults sets default values.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Log.Backend == "" {
		c.Log.Backend = "zap"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.SweepInterval == 0 {
		c.Store.SweepInterval = time.Minute
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Store.Redis.Timeout == 0 {
		c.Store.Redis.Timeout = 500 * time.Millisecond
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "throttle:"
	}

	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if len(c.Policies) == 0 {
		c.Policies = DefaultPolicies()
	}
	for i := range c.Policies {
		c.Policies[i].SetDefaults()
	}
}

// SetDefaults sets default values for PolicyConfig.
func (p *PolicyConfig) SetDefaults() {
	if p.Key == "" {
		p.Key = "ip"
	}
	if p.Headers == "" {
		p.Headers = "both"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Log.Backend {
	case "zap", "zerolog", "logrus", "std":
	default:
		return &throttle.ConfigError{Field: "log.backend", Reason: fmt.Sprintf("unknown backend %q", c.Log.Backend)}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &throttle.ConfigError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}

	switch c.Store.Type {
	case "memory", "redis":
	default:
		return &throttle.ConfigError{Field: "store.type", Reason: fmt.Sprintf("unknown store %q", c.Store.Type)}
	}
	if c.Store.SweepInterval < 0 {
		return &throttle.ConfigError{Field: "store.sweep_interval", Reason: "must not be negative"}
	}

	if _, err := throttle.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return &throttle.ConfigError{Field: "server.trusted_proxies", Reason: err.Error()}
	}

	if c.Metrics.IsEnabled() && !strings.HasPrefix(c.Metrics.Path, "/") {
		return &throttle.ConfigError{Field: "metrics.path", Reason: "must start with /"}
	}

	seen := make(map[string]bool, len(c.Policies))
	for i := range c.Policies {
		p := &c.Policies[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policies[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return &throttle.ConfigError{Field: fmt.Sprintf("policies[%d].name", i), Reason: fmt.Sprintf("duplicate policy %q", p.Name)}
		}
		seen[p.Name] = true
	}
	return nil
}

// Validate validates the PolicyConfig.
func (p *PolicyConfig) Validate() error {
	if p.Name == "" {
		return &throttle.ConfigError{Field: "name", Reason: "is required"}
	}
	if p.Window <= 0 {
		return &throttle.ConfigError{Field: "window", Reason: "must be positive"}
	}
	if p.Limit <= 0 {
		return &throttle.ConfigError{Field: "limit", Reason: "must be positive"}
	}
	if _, err := keyFunc(p.Key, throttle.IPConfig{}); err != nil {
		return err
	}
	if _, err := throttle.ParseHeaderMode(p.Headers); err != nil {
		return err
	}
	for _, r := range p.SkipRoutes {
		if r.Path == "" {
			return &throttle.ConfigError{Field: "skip_routes", Reason: "path is required"}
		}
	}
	return nil
}

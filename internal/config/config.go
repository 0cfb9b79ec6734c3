package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. Nested keys use a double
// underscore, e.g. EVENTCLUB_GATEWAY__RATE_LIMIT__BURST.
const EnvPrefix = "EVENTCLUB_"

type Config struct {
	API         APIConfig         `koanf:"api"`
	TokenStore  TokenStoreConfig  `koanf:"token_store"`
	HealthCheck HealthCheckConfig `koanf:"health_check"`
	Fallback    FallbackConfig    `koanf:"fallback"`
	Gateway     GatewayConfig     `koanf:"gateway"`
	Logging     LoggingConfig     `koanf:"logging"`
}

type APIConfig struct {
	BaseURL            string        `koanf:"base_url"`
	Timeout            time.Duration `koanf:"timeout"`
	FailoverTarget     string        `koanf:"failover_target"`
	DefaultEventID     string        `koanf:"default_event_id"`
	CAFile             string        `koanf:"ca_file"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

type TokenStoreConfig struct {
	Type          string        `koanf:"type"`
	Path          string        `koanf:"path"`
	RedisURL      string        `koanf:"redis_url"`
	RedisPassword string        `koanf:"redis_password"`
	RedisPrefix   string        `koanf:"redis_prefix"`
	TTL           time.Duration `koanf:"ttl"`
}

type HealthCheckConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Endpoint         string        `koanf:"endpoint"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	RetryCount       int           `koanf:"retry_count"`
	RetryDelay       time.Duration `koanf:"retry_delay"`
	FailureThreshold int           `koanf:"failure_threshold"`
}

type FallbackConfig struct {
	MockEnabled  bool          `koanf:"mock_enabled"`
	StaleEnabled bool          `koanf:"stale_enabled"`
	StaleTTL     time.Duration `koanf:"stale_ttl"`
	MaxEntries   int           `koanf:"max_entries"`
}

type GatewayConfig struct {
	Host            string          `koanf:"host"`
	Port            int             `koanf:"port"`
	ReadTimeout     time.Duration   `koanf:"read_timeout"`
	WriteTimeout    time.Duration   `koanf:"write_timeout"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
	JanitorInterval time.Duration   `koanf:"janitor_interval"`
	InfoPage        string          `koanf:"info_page"`
	TLS             TLSConfig       `koanf:"tls"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type RateLimitConfig struct {
	Enabled           bool          `koanf:"enabled"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	Burst             int           `koanf:"burst"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Addr is the gateway listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:3000/api",
			Timeout:        15 * time.Second,
			FailoverTarget: "/info.html",
		},
		TokenStore: TokenStoreConfig{
			Type:        "memory",
			RedisPrefix: "eventclub",
		},
		HealthCheck: HealthCheckConfig{
			Enabled:          true,
			Endpoint:         "/api/health",
			Interval:         30 * time.Second,
			Timeout:          5 * time.Second,
			RetryCount:       2,
			RetryDelay:       time.Second,
			FailureThreshold: 3,
		},
		Fallback: FallbackConfig{
			MockEnabled:  true,
			StaleEnabled: true,
			StaleTTL:     24 * time.Hour,
			MaxEntries:   512,
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			JanitorInterval: time.Minute,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             100,
				IdleTimeout:       10 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}

// Load layers defaults, the optional YAML file at path, and EVENTCLUB_
// environment variables, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api base_url must be an absolute http(s) URL: %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if c.API.FailoverTarget == "" {
		return fmt.Errorf("api failover_target cannot be empty")
	}
	if c.API.CAFile != "" {
		if _, err := os.Stat(c.API.CAFile); os.IsNotExist(err) {
			return fmt.Errorf("api CA file does not exist: %s", c.API.CAFile)
		}
	}

	switch c.TokenStore.Type {
	case "memory":
	case "file":
		if c.TokenStore.Path == "" {
			return fmt.Errorf("token_store path is required for the file store")
		}
	case "redis":
		if c.TokenStore.RedisURL == "" {
			return fmt.Errorf("token_store redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid token_store type: %q", c.TokenStore.Type)
	}
	if c.TokenStore.TTL < 0 {
		return fmt.Errorf("token_store ttl cannot be negative")
	}

	if c.HealthCheck.Enabled {
		if !strings.HasPrefix(c.HealthCheck.Endpoint, "/") {
			return fmt.Errorf("health check endpoint must start with '/'")
		}
		if c.HealthCheck.Interval <= 0 {
			return fmt.Errorf("health check interval must be positive")
		}
		if c.HealthCheck.Timeout <= 0 {
			return fmt.Errorf("health check timeout must be positive")
		}
		if c.HealthCheck.RetryCount < 0 {
			return fmt.Errorf("health check retry count cannot be negative")
		}
		if c.HealthCheck.RetryDelay < 0 {
			return fmt.Errorf("health check retry delay cannot be negative")
		}
		if c.HealthCheck.FailureThreshold <= 0 {
			return fmt.Errorf("health check failure threshold must be positive")
		}
	}

	if c.Fallback.StaleTTL < 0 {
		return fmt.Errorf("fallback stale TTL cannot be negative")
	}
	if c.Fallback.MaxEntries <= 0 {
		return fmt.Errorf("fallback max entries must be positive")
	}

	g := c.Gateway
	if g.Port <= 0 || g.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", g.Port)
	}
	if g.ShutdownTimeout <= 0 {
		return fmt.Errorf("gateway shutdown timeout must be positive")
	}
	if g.JanitorInterval <= 0 {
		return fmt.Errorf("gateway janitor interval must be positive")
	}

	if g.TLS.Enabled {
		if g.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if g.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
		if _, err := os.Stat(g.TLS.CertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS cert file does not exist: %s", g.TLS.CertFile)
		}
		if _, err := os.Stat(g.TLS.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", g.TLS.KeyFile)
		}
	}

	if g.RateLimit.Enabled {
		if g.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate limit requests per minute must be positive")
		}
		if g.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
		if g.RateLimit.IdleTimeout <= 0 {
			return fmt.Errorf("rate limit idle timeout must be positive")
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

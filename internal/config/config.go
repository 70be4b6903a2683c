// Package config loads the gateway configuration from a YAML file with
// environment overrides for secrets and connection strings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the gateway configuration.
type Config struct {
	Server struct {
		Port         int      `yaml:"port"`
		ReadTimeout  Duration `yaml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Upstream struct {
		// URL is the downstream platform service the gateway proxies to.
		URL string `yaml:"url"`
	} `yaml:"upstream"`

	Gateway struct {
		PathPrefixes   []string `yaml:"path_prefixes"`
		ExcludedPaths  []string `yaml:"excluded_paths"`
		AuthTimeout    Duration `yaml:"auth_timeout"`
		ProductionMode bool     `yaml:"production_mode"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"gateway"`

	Auth struct {
		DefaultRateLimitPerMinute int64    `yaml:"default_rate_limit_per_minute"`
		DefaultDailyQuota         int64    `yaml:"default_daily_quota"`
		TokenSecret               string   `yaml:"token_secret"`
		TokenIssuer               string   `yaml:"token_issuer"`
		TokenTTL                  Duration `yaml:"token_ttl"`
		AdminScope                string   `yaml:"admin_scope"`
	} `yaml:"auth"`

	Providers struct {
		Google struct {
			Enabled bool     `yaml:"enabled"`
			Timeout Duration `yaml:"timeout"`
		} `yaml:"google"`
		Facebook struct {
			Enabled  bool     `yaml:"enabled"`
			AppToken string   `yaml:"app_token"`
			Timeout  Duration `yaml:"timeout"`
		} `yaml:"facebook"`
	} `yaml:"providers"`

	Resilience struct {
		TripThreshold     int      `yaml:"trip_threshold"`
		TrackingPeriod    Duration `yaml:"tracking_period"`
		ResetInterval     Duration `yaml:"reset_interval"`
		ActiveThreshold   int      `yaml:"active_threshold"`
		MaxRetries        int      `yaml:"max_retries"`
		InitialBackoff    Duration `yaml:"initial_backoff"`
		MaxBackoff        Duration `yaml:"max_backoff"`
		BackoffMultiplier float64  `yaml:"backoff_multiplier"`
		Jitter            float64  `yaml:"jitter"`
		CallTimeout       Duration `yaml:"call_timeout"`
		CacheTTL          Duration `yaml:"cache_ttl"`
	} `yaml:"resilience"`

	Storage struct {
		// Driver is "memory" or "postgres".
		Driver      string `yaml:"driver"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	EdgeLimit struct {
		RequestsPerSecond int `yaml:"requests_per_second"`
		Burst             int `yaml:"burst"`
	} `yaml:"edge_limit"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads the config file at path, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	// Local development keeps secrets in .env; absence is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = Duration(15 * time.Second)
	cfg.Server.WriteTimeout = Duration(30 * time.Second)

	cfg.Gateway.PathPrefixes = []string{"/api/", "/admin/"}
	cfg.Gateway.ExcludedPaths = []string{"/health", "/metrics", "/swagger"}
	cfg.Gateway.AuthTimeout = Duration(5 * time.Second)
	cfg.Gateway.AllowedOrigins = []string{"*"}

	cfg.Auth.DefaultRateLimitPerMinute = 100
	cfg.Auth.DefaultDailyQuota = 10000
	cfg.Auth.TokenIssuer = "finvault-gateway"
	cfg.Auth.TokenTTL = Duration(5 * time.Minute)
	cfg.Auth.AdminScope = "keys:admin"

	cfg.Providers.Google.Enabled = true
	cfg.Providers.Google.Timeout = Duration(5 * time.Second)
	cfg.Providers.Facebook.Timeout = Duration(5 * time.Second)

	cfg.Resilience.TripThreshold = 5
	cfg.Resilience.TrackingPeriod = Duration(time.Minute)
	cfg.Resilience.ResetInterval = Duration(30 * time.Second)
	cfg.Resilience.ActiveThreshold = 1
	cfg.Resilience.MaxRetries = 3
	cfg.Resilience.InitialBackoff = Duration(100 * time.Millisecond)
	cfg.Resilience.MaxBackoff = Duration(5 * time.Second)
	cfg.Resilience.BackoffMultiplier = 2.0
	cfg.Resilience.Jitter = 0.1
	cfg.Resilience.CallTimeout = Duration(5 * time.Second)
	cfg.Resilience.CacheTTL = Duration(time.Hour)

	cfg.Storage.Driver = "memory"

	cfg.Redis.Addr = "localhost:6379"

	cfg.EdgeLimit.RequestsPerSecond = 20
	cfg.EdgeLimit.Burst = 40

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("GATEWAY_TOKEN_SECRET"); v != "" {
		cfg.Auth.TokenSecret = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FACEBOOK_APP_TOKEN"); v != "" {
		cfg.Providers.Facebook.AppToken = v
		cfg.Providers.Facebook.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required (set GATEWAY_TOKEN_SECRET)")
	}
	if c.Auth.TokenTTL.Std() <= 0 || c.Auth.TokenTTL.Std() > time.Hour {
		return fmt.Errorf("auth.token_ttl must be positive and at most an hour")
	}
	if c.Storage.Driver != "memory" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("storage.driver %q unknown", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
	}
	if c.Resilience.TripThreshold <= 0 {
		return fmt.Errorf("resilience.trip_threshold must be positive")
	}
	if c.Resilience.BackoffMultiplier < 1 {
		return fmt.Errorf("resilience.backoff_multiplier must be at least 1")
	}
	return nil
}

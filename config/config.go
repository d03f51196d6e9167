package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the portfolio service.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Database    DatabaseConfig  `toml:"database"`
	Redis       RedisConfig     `toml:"redis"`
	Cache       CacheConfig     `toml:"cache"`
	Analytics   AnalyticsConfig `toml:"analytics"`
	Outbox      OutboxConfig    `toml:"outbox"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the holding store. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver   string `toml:"driver"`
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
	TimeZone string `toml:"timezone"`
	LogLevel string `toml:"log_level"` // gorm logger: silent, error, warn, info
}

// DSN builds the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode, c.TimeZone)
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// CacheConfig selects the cache backend ("redis" or "memory") and TTLs.
type CacheConfig struct {
	Driver        string `toml:"driver"`
	PortfolioTTL  string `toml:"portfolio_ttl"`
	QuoteTTL      string `toml:"quote_ttl"`
	PredictionTTL string `toml:"prediction_ttl"`
}

type AnalyticsConfig struct {
	BaseURL   string `toml:"base_url"`
	Timeout   string `toml:"timeout"`
	RateLimit int    `toml:"rate_limit"` // requests per second
}

type OutboxConfig struct {
	PollInterval string `toml:"poll_interval"`
	Lease        string `toml:"lease"`
	BatchSize    int    `toml:"batch_size"`
	MaxAttempts  int    `toml:"max_attempts"`
	BaseBackoff  string `toml:"base_backoff"`
	MaxBackoff   string `toml:"max_backoff"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// NewDefaultConfig returns a Config with development defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Name:     "portfolio",
			SSLMode:  "disable",
			TimeZone: "UTC",
			LogLevel: "warn",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Cache: CacheConfig{
			Driver:        "redis",
			PortfolioTTL:  "1m",
			QuoteTTL:      "5m",
			PredictionTTL: "1h",
		},
		Analytics: AnalyticsConfig{
			BaseURL:   "http://127.0.0.1:5000",
			Timeout:   "10s",
			RateLimit: 20,
		},
		Outbox: OutboxConfig{
			PollInterval: "2s",
			Lease:        "30s",
			BatchSize:    50,
			MaxAttempts:  8,
			BaseBackoff:  "1s",
			MaxBackoff:   "5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, then each TOML file in order
// (missing files are skipped), then a .env file, then the environment.
func Load(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("APP_ENV", &cfg.Environment)
	setString("HOST", &cfg.Server.Host)
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	setString("DB_DRIVER", &cfg.Database.Driver)
	setString("DB_HOST", &cfg.Database.Host)
	setString("DB_PORT", &cfg.Database.Port)
	setString("DB_USER", &cfg.Database.User)
	setString("DB_PASSWORD", &cfg.Database.Password)
	setString("DB_NAME", &cfg.Database.Name)
	setString("DB_SSLMODE", &cfg.Database.SSLMode)

	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setString("CACHE_DRIVER", &cfg.Cache.Driver)

	setString("ANALYTICS_URL", &cfg.Analytics.BaseURL)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
}

// Validate rejects driver names the service does not know.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Analytics.BaseURL == "" {
		return fmt.Errorf("analytics base_url is required")
	}

	durations := []struct {
		key, value string
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"cache.portfolio_ttl", c.Cache.PortfolioTTL},
		{"cache.quote_ttl", c.Cache.QuoteTTL},
		{"cache.prediction_ttl", c.Cache.PredictionTTL},
		{"analytics.timeout", c.Analytics.Timeout},
		{"outbox.poll_interval", c.Outbox.PollInterval},
		{"outbox.lease", c.Outbox.Lease},
		{"outbox.base_backoff", c.Outbox.BaseBackoff},
		{"outbox.max_backoff", c.Outbox.MaxBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("invalid %s %q: must be positive", d.key, d.value)
		}
	}
	return nil
}

// Duration parses s, falling back to def when s is empty. Load has already
// rejected malformed values through Validate.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

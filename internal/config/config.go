package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Splitflow application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Reporting   ReportingConfig
	Aggregation AggregationConfig
	Session     SessionConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ClickHouseConfig configures the optional append-only event archive.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
	// BatchSize is how many archived events are buffered before a flush.
	BatchSize     int
	FlushInterval time.Duration
}

// ReportingConfig points at the external reporting service that receives
// aggregated analytics and serves the upstream product/param catalog.
type ReportingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type AggregationConfig struct {
	Enabled  bool
	Interval time.Duration
}

type SessionConfig struct {
	CookieName string
	TTL        time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP lookup for session enrichment.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("SPLITFLOW_HTTP_ADDR", ":8080"),
			Env:             getEnv("SPLITFLOW_ENV", "development"),
			ShutdownTimeout: getDurationEnv("SPLITFLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("SPLITFLOW_DB_HOST", "localhost"),
			Port:     getIntEnv("SPLITFLOW_DB_PORT", 5432),
			User:     getEnv("SPLITFLOW_DB_USER", "splitflow"),
			Password: getEnv("SPLITFLOW_DB_PASSWORD", "splitflow_secret"),
			DBName:   getEnv("SPLITFLOW_DB_NAME", "splitflow"),
			SSLMode:  getEnv("SPLITFLOW_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("SPLITFLOW_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("SPLITFLOW_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("SPLITFLOW_REDIS_ENABLED", true),
			Addr:     getEnv("SPLITFLOW_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("SPLITFLOW_REDIS_PASSWORD", ""),
			DB:       getIntEnv("SPLITFLOW_REDIS_DB", 0),
			TTL:      getDurationEnv("SPLITFLOW_REDIS_TTL", time.Hour),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:       getBoolEnv("SPLITFLOW_CLICKHOUSE_ENABLED", false),
			Addr:          getEnv("SPLITFLOW_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:      getEnv("SPLITFLOW_CLICKHOUSE_DB", "splitflow"),
			User:          getEnv("SPLITFLOW_CLICKHOUSE_USER", "default"),
			Password:      getEnv("SPLITFLOW_CLICKHOUSE_PASSWORD", ""),
			BatchSize:     getIntEnv("SPLITFLOW_CLICKHOUSE_BATCH_SIZE", 500),
			FlushInterval: getDurationEnv("SPLITFLOW_CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
		},
		Reporting: ReportingConfig{
			BaseURL: strings.TrimSuffix(getEnv("SPLITFLOW_REPORTING_BASE_URL", ""), "/"),
			APIKey:  getEnv("SPLITFLOW_REPORTING_API_KEY", ""),
			Timeout: getDurationEnv("SPLITFLOW_REPORTING_TIMEOUT", 10*time.Second),
		},
		Aggregation: AggregationConfig{
			Enabled:  getBoolEnv("SPLITFLOW_AGGREGATION_ENABLED", true),
			Interval: getDurationEnv("SPLITFLOW_AGGREGATION_INTERVAL", time.Hour),
		},
		Session: SessionConfig{
			CookieName: getEnv("SPLITFLOW_SESSION_COOKIE", "sf_session"),
			TTL:        getDurationEnv("SPLITFLOW_SESSION_TTL", 30*24*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("SPLITFLOW_LOG_LEVEL", "info"),
			Format: getEnv("SPLITFLOW_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("SPLITFLOW_METRICS_ENABLED", true),
			Path:    getEnv("SPLITFLOW_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("SPLITFLOW_GEO_ENABLED", false),
			DatabasePath: getEnv("SPLITFLOW_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Aggregation.Enabled && c.Reporting.BaseURL == "" {
		return fmt.Errorf("SPLITFLOW_REPORTING_BASE_URL is required when aggregation is enabled")
	}
	if c.Aggregation.Enabled && c.Aggregation.Interval <= 0 {
		return fmt.Errorf("SPLITFLOW_AGGREGATION_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

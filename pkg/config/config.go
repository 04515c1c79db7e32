package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `env:", prefix=SERVER_"`
	Redis    RedisConfig    `env:", prefix=REDIS_"`
	InfluxDB InfluxConfig   `env:", prefix=INFLUXDB_"`
	NATS     NATSConfig     `env:", prefix=NATS_"`
	Provider ProviderConfig `env:", prefix=PROVIDER_"`
	Refresh  RefreshConfig  `env:", prefix=REFRESH_"`
	Logging  LoggingConfig  `env:", prefix=LOG_"`
}

// ServerConfig holds the HTTP read-surface configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=true"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=5"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
}

// InfluxConfig holds InfluxDB configuration for the OHLCV bar mirror
type InfluxConfig struct {
	Enabled bool          `env:"ENABLED, default=false"`
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=quotecache"`
	Bucket  string        `env:"BUCKET, default=bars"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
}

// ProviderConfig holds the market-data provider endpoints and limits
type ProviderConfig struct {
	ChartURL         string        `env:"CHART_URL, default=https://query2.finance.yahoo.com/v8/finance/chart"`
	QuoteURL         string        `env:"QUOTE_URL, default=https://query1.finance.yahoo.com/v7/finance/quote"`
	UserAgent        string        `env:"USER_AGENT"` // falls back to a browser-like UA; empty UA gets 429s
	ThrottleInterval time.Duration `env:"THROTTLE_INTERVAL, default=50ms"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT, default=30s"`
	MaxRetries       int           `env:"MAX_RETRIES, default=3"`
	RetryPause       time.Duration `env:"RETRY_PAUSE, default=3s"`
}

// RefreshConfig holds the quote/history refresh cadence
type RefreshConfig struct {
	HighFreqInterval time.Duration `env:"HIGH_FREQ_INTERVAL, default=4s"`
	LowFreqInterval  time.Duration `env:"LOW_FREQ_INTERVAL, default=30m"`
	PollInterval     time.Duration `env:"POLL_INTERVAL, default=10s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("Redis host is required")
	}

	if c.Provider.ChartURL == "" || c.Provider.QuoteURL == "" {
		return fmt.Errorf("provider URLs are required")
	}

	if c.Provider.ThrottleInterval <= 0 {
		return fmt.Errorf("provider throttle interval must be positive")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		return fmt.Errorf("InfluxDB URL is required when the bar mirror is enabled")
	}

	return nil
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

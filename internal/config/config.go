package config

import (
	"fmt"

	pkgconfig "github.com/zaidandhul/bismarshop-promo-engine/pkg/config"
)

// Config holds all configuration for the promotion engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"PROMO_HTTP_PORT" envDefault:"8012"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"bismarshop"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"bismarshop_secret"`
	PostgresDB   string `env:"PROMO_DB_NAME" envDefault:"promo_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Promotion set cache TTL in seconds
	CacheTTL int `env:"PROMO_CACHE_TTL_SECONDS" envDefault:"30"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Reservation lease TTL in seconds (default 15 minutes)
	ReservationTTL int `env:"RESERVATION_TTL_SECONDS" envDefault:"900"`

	// Expiry sweep interval in seconds
	SweepInterval int `env:"RESERVATION_SWEEP_INTERVAL_SECONDS" envDefault:"60"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load promo engine config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be > 0, got %d", c.ReservationTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("RESERVATION_SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.SweepInterval)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("PROMO_CACHE_TTL_SECONDS must not be negative, got %d", c.CacheTTL)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

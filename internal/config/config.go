package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Auction AuctionConfig
	Store   StoreConfig
	Cache   CacheConfig
	Seed    bool `envconfig:"SEED_DEMO_AUCTIONS" default:"true"`
	Metrics bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// AuctionConfig holds the bidding engine settings
type AuctionConfig struct {
	ExtensionWindow     time.Duration `envconfig:"AUCTION_EXTENSION_WINDOW" default:"5m"`
	SweepInterval       time.Duration `envconfig:"AUCTION_SWEEP_INTERVAL" default:"1s"`
	LockWait            time.Duration `envconfig:"AUCTION_LOCK_WAIT" default:"2s"`
	DefaultMinIncrement string        `envconfig:"AUCTION_DEFAULT_MIN_INCREMENT" default:"1"`
	AfterCommitTimeout  time.Duration `envconfig:"AUCTION_AFTER_COMMIT_TIMEOUT" default:"5s"`
}

// StoreConfig selects where auctions and the bid ledger live
type StoreConfig struct {
	Type       string `envconfig:"STORE_TYPE" default:"memory"` // memory or sqlite
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./data/auctions.db"`
}

// CacheConfig holds view cache and Redis settings
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	EventRelay    bool   `envconfig:"REDIS_EVENT_RELAY" default:"false"`
}

// Address returns the server address in host:port format
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// UsesRedis reports whether any component needs a Redis client
func (c *CacheConfig) UsesRedis() bool {
	return c.Type == "redis" || c.EventRelay
}

// MinIncrement parses the default minimum increment
func (a *AuctionConfig) MinIncrement() (decimal.Decimal, error) {
	inc, err := decimal.NewFromString(a.DefaultMinIncrement)
	if err != nil {
		return decimal.Zero, fmt.Errorf("AUCTION_DEFAULT_MIN_INCREMENT: %w", err)
	}
	if !inc.IsPositive() {
		return decimal.Zero, fmt.Errorf("AUCTION_DEFAULT_MIN_INCREMENT must be positive, got %s", inc)
	}
	return inc, nil
}

// Load reads configuration from a .env file, when present, and the environment
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("STORE_TYPE must be memory or sqlite, got %q", c.Store.Type)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_TYPE must be memory or redis, got %q", c.Cache.Type)
	}
	if c.Auction.ExtensionWindow < 0 {
		return fmt.Errorf("AUCTION_EXTENSION_WINDOW must not be negative")
	}
	if c.Auction.LockWait <= 0 {
		return fmt.Errorf("AUCTION_LOCK_WAIT must be positive")
	}
	if c.Auction.AfterCommitTimeout <= 0 {
		return fmt.Errorf("AUCTION_AFTER_COMMIT_TIMEOUT must be positive")
	}
	if _, err := c.Auction.MinIncrement(); err != nil {
		return err
	}
	return nil
}

// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config is the environment of one peer process and the historian.
type Config struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	PeerAddress  string `env:"PEER_ADDRESS" envDefault:"localhost"`
	PeerProtocol string `env:"PEER_PROTOCOL" envDefault:"ws"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"cluedo.db"`

	RedisAddr    string `env:"REDIS_ADDR"`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`
	QueueName    string `env:"HISTORIAN_QUEUE_NAME" envDefault:"cluedo_actions"`
	PeerRegistry string `env:"PEER_REGISTRY" envDefault:"memory"`

	TokenExpireTime string `env:"TOKEN_EXPIRE_TIME" envDefault:"never"`
	PrivateKeyPath  string `env:"PRIVATE_KEY_PATH"`
	PublicKeyPath   string `env:"PUBLIC_KEY_PATH"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON       bool   `env:"LOG_JSON" envDefault:"false"`
	ActionRetries int    `env:"ACTION_RETRIES" envDefault:"3"`

	HistorianBatchSize int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	HistorianFlush     time.Duration `env:"HISTORIAN_FLUSH" envDefault:"500ms"`
}

// Load parses the process environment. Values from a .env file are already present
// when the caller imports godotenv/autoload.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.PeerRegistry {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis peer registry")
		}
	default:
		return fmt.Errorf("unknown PEER_REGISTRY %q", c.PeerRegistry)
	}
	if c.ActionRetries < 1 {
		return fmt.Errorf("ACTION_RETRIES must be at least 1")
	}
	return nil
}

// Logger builds the process logger from LOG_LEVEL and LOG_JSON.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// StateFile is used unless DatabaseURL selects the Postgres store.
	StateFile   string `env:"STATE_FILE" default:"store.json"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	WebhookCallbackURL string `env:"WEBHOOK_CALLBACK_URL"`
	EventSubSecret     string `env:"EVENTSUB_SECRET"`

	DefaultAdminUsername string `env:"DEFAULT_ADMIN_USERNAME" default:"admin"`
	DefaultAdminPassword string `env:"DEFAULT_ADMIN_PASSWORD" default:"changeme"`
	AdminRateLimit       float64 `env:"ADMIN_RATE_LIMIT" default:"2"`

	NotifyTimeout   time.Duration `env:"NOTIFY_TIMEOUT" default:"10s"`
	NotifyQueueSize int           `env:"NOTIFY_QUEUE_SIZE" default:"64"`
	EventQueueSize  int           `env:"EVENT_QUEUE_SIZE" default:"256"`

	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"1000"`
}

// EventSubEnabled reports whether a public callback is configured for EventSub delivery.
func (c *Config) EventSubEnabled() bool {
	return c.WebhookCallbackURL != ""
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.StateFile == "" && cfg.DatabaseURL == "" {
		return errors.New("either STATE_FILE or DATABASE_URL is required")
	}
	if cfg.DefaultAdminUsername == "" || cfg.DefaultAdminPassword == "" {
		return errors.New("DEFAULT_ADMIN_USERNAME and DEFAULT_ADMIN_PASSWORD must not be empty")
	}

	if cfg.EventSubEnabled() {
		u, err := url.Parse(cfg.WebhookCallbackURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("WEBHOOK_CALLBACK_URL must be an absolute https URL, got %q", cfg.WebhookCallbackURL)
		}
		if len(cfg.EventSubSecret) < 10 || len(cfg.EventSubSecret) > 100 {
			return errors.New("EVENTSUB_SECRET must be between 10 and 100 characters")
		}
	}

	positive := map[string]int{
		"NOTIFY_QUEUE_SIZE":         cfg.NotifyQueueSize,
		"EVENT_QUEUE_SIZE":          cfg.EventQueueSize,
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.NotifyTimeout <= 0 {
		return errors.New("NOTIFY_TIMEOUT must be positive")
	}
	if cfg.AdminRateLimit <= 0 {
		return errors.New("ADMIN_RATE_LIMIT must be positive")
	}

	return nil
}

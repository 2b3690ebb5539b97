package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultRedirectURI = "http://localhost:3000/oauth/redirect"

type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	DBDSN     string `yaml:"db_dsn"`
	JWTSecret string `yaml:"jwt_secret"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	ChatContextWindowSize int `yaml:"chat_context_window_size"`

	// webhook relay
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	AppSource      string        `yaml:"app_source"`

	// google oauth + calendar
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURI  string `yaml:"google_redirect_uri"`
	CalendarPageSize   int    `yaml:"calendar_page_size"`

	// rabbitMQ chat events fan-out; empty URL keeps events in-process
	RabbitURL      string `yaml:"rabbit_url"`
	RabbitExchange string `yaml:"rabbit_exchange"`
}

// Load reads the YAML file at path (if any) as a base and overrides it with the environment.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = envOr("HTTP_ADDR", cfg.HTTPAddr, ":8080")

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/alan_ai?charset=utf8mb4&parseTime=true&loc=Local
	// sqlite:alan.db
	cfg.DBDSN = envOr("DB_DSN", cfg.DBDSN, "sqlite:alan.db")
	cfg.JWTSecret = envOr("JWT_SECRET", cfg.JWTSecret, "dev-secret-change-me")

	cfg.RedisAddr = envOr("REDIS_ADDR", cfg.RedisAddr, "")
	cfg.RedisPassword = envOr("REDIS_PASSWORD", cfg.RedisPassword, "")
	cfg.RedisDB = envInt("REDIS_DB", cfg.RedisDB, 0)

	cfg.ChatContextWindowSize = envInt("CHAT_CONTEXT_WINDOW_SIZE", cfg.ChatContextWindowSize, 20)

	cfg.WebhookURL = envOr("N8N_WEBHOOK_URL", cfg.WebhookURL, os.Getenv("WEBHOOK_URL"))
	cfg.WebhookTimeout = envDuration("WEBHOOK_TIMEOUT", cfg.WebhookTimeout, 90*time.Second)
	cfg.AppSource = envOr("APP_SOURCE", cfg.AppSource, "alan-ai-web")

	cfg.GoogleClientID = envOr("GOOGLE_CLIENT_ID", cfg.GoogleClientID, "")
	cfg.GoogleClientSecret = envOr("GOOGLE_CLIENT_SECRET", cfg.GoogleClientSecret, "")
	cfg.GoogleRedirectURI = envOr("GOOGLE_REDIRECT_URI", cfg.GoogleRedirectURI, DefaultRedirectURI)
	cfg.CalendarPageSize = envInt("CALENDAR_PAGE_SIZE", cfg.CalendarPageSize, 10)

	cfg.RabbitURL = envOr("RABBIT_URL", cfg.RabbitURL, "")
	cfg.RabbitExchange = envOr("RABBIT_EXCHANGE", cfg.RabbitExchange, "chat_events")


	return cfg, nil
}

// Validate reports every required input that is missing.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.WebhookURL) == "" {
		missing = append(missing, "N8N_WEBHOOK_URL")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if strings.TrimSpace(c.GoogleClientSecret) == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// envOr prefers the environment, then the file value, then the default.
func envOr(key, fileValue, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return def
}

func envInt(key string, fileValue, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fileValue != 0 {
		return fileValue
	}
	return def
}

func envDuration(key string, fileValue, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if fileValue != 0 {
		return fileValue
	}
	return def
}

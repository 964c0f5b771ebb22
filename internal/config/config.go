// internal/config/config.go
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort   string        `yaml:"server_port"`
	DBConn       string        `yaml:"database_url"`
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTExpiresIn time.Duration `yaml:"jwt_expires_in"`
	BotToken     string        `yaml:"telegram_bot_token"`
}

// MustLoad reads configuration from an optional config.yaml, then lets
// environment variables (including a local .env) override it. It never fails:
// every field has a development default.
func MustLoad() Config {
	_ = godotenv.Load()

	cfg := Config{
		ServerPort:   ":8080",
		DBConn:       "", // empty selects the in-memory store
		JWTSecret:    "dev-secret-change-in-prod",
		JWTExpiresIn: 24 * time.Hour,
	}

	if data, err := os.ReadFile("config.yaml"); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			slog.Warn("config.yaml is malformed, ignoring", "error", err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBConn = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.ServerPort = ":" + v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JWTExpiresIn = d
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	return cfg
}

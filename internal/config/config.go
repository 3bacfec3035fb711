// Package config loads service configuration from the environment.
package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// DatabaseURL enables the postgres store when set; the in-memory store
	// is used otherwise.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisAddr enables durable scheduler/webhook registrations when set.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	// AI completion endpoint (OpenAI-compatible chat completions API).
	AIBaseURL string `env:"AI_BASE_URL"`
	AIAPIKey  string `env:"AI_API_KEY"`
	AIModel   string `env:"AI_MODEL,default=gpt-4o-mini"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`

	RateLimitPerSecond int `env:"RATE_LIMIT_PER_SECOND,default=20"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST,default=40"`
}

// Load reads .env (when present) and decodes the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ストレージの種類
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:5173" envSeparator:","`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Generator
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	GeneratorTimeout time.Duration `env:"GENERATOR_TIMEOUT" envDefault:"20s"`

	// Game
	MinPlayers            int `env:"MIN_PLAYERS" envDefault:"3"`
	MaxQuestionsPerPlayer int `env:"MAX_QUESTIONS_PER_PLAYER" envDefault:"5"`
	GameCodeLength        int `env:"GAME_CODE_LENGTH" envDefault:"4"`

	// Rate Limit（1分あたり、クライアントIPごと）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"600"`
	RateLimitCreate  int `env:"RATE_LIMIT_CREATE" envDefault:"10"`

	// Cleanup
	GameRetention   time.Duration `env:"GAME_RETENTION" envDefault:"24h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"MIN_PLAYERS", c.MinPlayers},
		{"MAX_QUESTIONS_PER_PLAYER", c.MaxQuestionsPerPlayer},
		{"GAME_CODE_LENGTH", c.GameCodeLength},
		{"RATE_LIMIT_GENERAL", c.RateLimitGeneral},
		{"RATE_LIMIT_CREATE", c.RateLimitCreate},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if c.GeneratorTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GENERATOR_TIMEOUT must be positive, got %s", c.GeneratorTimeout))
	}
	if c.GameRetention <= 0 || c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("GAME_RETENTION and CLEANUP_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

// SlogLevel はLOG_LEVELをslog.Levelに変換する。
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL is invalid: %q", c.LogLevel)
	}
	return level, nil
}

// GeneratorEnabled はAI回答の生成にOpenAIを使うかどうかを返す。
func (c *Config) GeneratorEnabled() bool {
	return c.OpenAIAPIKey != ""
}

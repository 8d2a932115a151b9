package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `yaml:"app_env" env:"APP_ENV" env-default:"staging"`
	Port     string `yaml:"port" env:"PORT" env-default:"5000"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	JWTSecret   string   `yaml:"jwt_secret" env:"JWT_SECRET_KEY"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000,http://127.0.0.1:3000,http://localhost:5173,http://127.0.0.1:5173"`

	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Chat     Chat     `yaml:"chat"`
	Gemini   Gemini   `yaml:"gemini"`
	OpenAI   OpenAI   `yaml:"openai"`
	Limits   Limits   `yaml:"limits"`
}

type Database struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"DB_DSN" env-default:"app.db?_busy_timeout=5000&_foreign_keys=on"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Chat struct {
	SessionStore     string        `yaml:"session_store" env:"SESSION_STORE" env-default:"sql"`
	SentimentBackend string        `yaml:"sentiment_backend" env:"SENTIMENT_BACKEND" env-default:"keyword"`
	ReplyBackend     string        `yaml:"reply_backend" env:"REPLY_BACKEND" env-default:"rules"`
	TaggerTimeout    time.Duration `yaml:"tagger_timeout" env:"TAGGER_TIMEOUT" env-default:"5s"`
	GeneratorTimeout time.Duration `yaml:"generator_timeout" env:"GENERATOR_TIMEOUT" env-default:"20s"`
	HistoryLimit     int           `yaml:"history_limit" env:"HISTORY_LIMIT" env-default:"6"`
	CacheTTL         time.Duration `yaml:"cache_ttl" env:"CHAT_CACHE_TTL" env-default:"10m"`
	CacheMaxItems    int           `yaml:"cache_max_items" env:"CHAT_CACHE_MAX_ITEMS" env-default:"500"`
}

type Gemini struct {
	// Enabled is the IS_GEMINI_ENABLED switch ("1" or "0").
	Enabled bool   `yaml:"enabled" env:"IS_GEMINI_ENABLED" env-default:"false"`
	APIKey  string `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model   string `yaml:"model" env:"GEMINI_MODEL" env-default:"gemini-2.0-flash"`
}

type OpenAI struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
	Model   string `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
}

type Limits struct {
	RateLimitWindow      time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW" env-default:"10s"`
	RateLimitCapacity    int           `yaml:"rate_limit_capacity" env:"RATE_LIMIT_CAPACITY" env-default:"5"`
	UserConcurrencyLimit int           `yaml:"user_concurrency_limit" env:"USER_CONCURRENCY_LIMIT" env-default:"2"`
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// loadAppEnv loads .env unless APP_ENV is production. A missing .env file is
// not an error; the host environment is used as is.
func loadAppEnv() error {
	if os.Getenv("APP_ENV") == "production" {
		return nil
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	return nil
}

// Load reads configuration from the environment and, when CONFIG_FILE is
// set, from that YAML file first. Environment values win over the file.
func Load() (*Config, error) {
	if err := loadAppEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !slices.Contains([]string{"development", "staging", "production"}, c.AppEnv) {
		return fmt.Errorf("environment variable APP_ENV must be 'development', 'staging' or 'production', got %q", c.AppEnv)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET_KEY must be set in production")
	}
	if !slices.Contains([]string{"sql", "redis", "memory"}, c.Chat.SessionStore) {
		return fmt.Errorf("SESSION_STORE must be sql, redis or memory, got %q", c.Chat.SessionStore)
	}
	if !slices.Contains([]string{"sqlite", "mysql"}, c.Database.Driver) {
		return fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.Database.Driver)
	}
	if !slices.Contains([]string{"keyword", "openai"}, c.Chat.SentimentBackend) {
		return fmt.Errorf("SENTIMENT_BACKEND must be keyword or openai, got %q", c.Chat.SentimentBackend)
	}
	if !slices.Contains([]string{"rules", "gemini", "openai"}, c.Chat.ReplyBackend) {
		return fmt.Errorf("REPLY_BACKEND must be rules, gemini or openai, got %q", c.Chat.ReplyBackend)
	}
	if c.Chat.TaggerTimeout <= 0 || c.Chat.GeneratorTimeout <= 0 {
		return fmt.Errorf("TAGGER_TIMEOUT and GENERATOR_TIMEOUT must be positive")
	}
	if c.Chat.HistoryLimit < 1 {
		c.Chat.HistoryLimit = 6
	}
	return nil
}

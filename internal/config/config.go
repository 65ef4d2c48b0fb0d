package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is supplied.
const DefaultConfigPath = "config.yaml"

// Environment variables that override file values.
const (
	EnvConfigPath  = "CHATGATE_CONFIG"
	EnvDatabaseDSN = "CHATGATE_DATABASE_DSN"
	EnvJWTSecret   = "CHATGATE_JWT_SECRET"
	EnvRedisURL    = "CHATGATE_REDIS_URL"
	EnvAIAPIKey    = "CHATGATE_AI_API_KEY"
	EnvListen      = "CHATGATE_LISTEN"
)

// ErrMissingJWTSecret is returned when no signing secret is configured.
var ErrMissingJWTSecret = errors.New("config: jwt secret is required")

// AppConfig holds process-level inputs from the command line.
type AppConfig struct {
	ConfigPath string
}

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Reputation ReputationConfig `yaml:"reputation"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Plans      map[string]int64 `yaml:"plans"`
	AI         AIConfig         `yaml:"ai"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig configures the persistent store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// JWTConfig configures bearer token signing and verification.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// RedisConfig configures the optional shared rate-limit store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RateBand is one rate-limit budget.
type RateBand struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// RateLimitConfig configures the request-rate gates.
type RateLimitConfig struct {
	Store         string        `yaml:"store"`     // memory or redis
	Algorithm     string        `yaml:"algorithm"` // fixed or sliding
	General       RateBand      `yaml:"general"`
	Admin         RateBand      `yaml:"admin"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ReputationConfig configures the IP reputation gate.
type ReputationConfig struct {
	MaxAccountsPerIP int `yaml:"max_accounts_per_ip"`
}

// LedgerConfig configures quota accounting.
type LedgerConfig struct {
	Strict bool `yaml:"strict"`
}

// AIConfig configures the completion provider and its runtime defaults.
type AIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	SystemPrompt  string        `yaml:"system_prompt"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	AllowedModels []string      `yaml:"allowed_models"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AuditConfig configures admin log retention.
type AuditConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// defaultTemperature is seeded before decoding, since 0 is a valid setting.
const defaultTemperature = 0.7

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := Config{}
	cfg.AI.Temperature = defaultTemperature
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = ":8317"
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = "file:data/chatgate.db"
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = 24 * time.Hour
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}
	if c.RateLimit.Algorithm == "" {
		c.RateLimit.Algorithm = "sliding"
	}
	if c.RateLimit.General.Window <= 0 {
		c.RateLimit.General.Window = time.Minute
	}
	if c.RateLimit.General.Max <= 0 {
		c.RateLimit.General.Max = 100
	}
	if c.RateLimit.Admin.Window <= 0 {
		c.RateLimit.Admin.Window = time.Minute
	}
	if c.RateLimit.Admin.Max <= 0 {
		c.RateLimit.Admin.Max = 10
	}
	if c.RateLimit.IdleTimeout <= 0 {
		c.RateLimit.IdleTimeout = 5 * time.Minute
	}
	if c.RateLimit.SweepInterval <= 0 {
		c.RateLimit.SweepInterval = time.Minute
	}
	if c.Reputation.MaxAccountsPerIP <= 0 {
		c.Reputation.MaxAccountsPerIP = 3
	}
	if strings.TrimSpace(c.AI.BaseURL) == "" {
		c.AI.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(c.AI.Model) == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 1024
	}
	if len(c.AI.AllowedModels) == 0 {
		c.AI.AllowedModels = []string{c.AI.Model}
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return ErrMissingJWTSecret
	}
	if c.Reputation.MaxAccountsPerIP < 1 || c.Reputation.MaxAccountsPerIP > 10 {
		return fmt.Errorf("config: reputation.max_accounts_per_ip must be between 1 and 10")
	}
	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("config: rate_limit.store=redis requires redis.url")
		}
	default:
		return fmt.Errorf("config: unsupported rate_limit.store %q", c.RateLimit.Store)
	}
	switch c.RateLimit.Algorithm {
	case "fixed", "sliding":
	default:
		return fmt.Errorf("config: unsupported rate_limit.algorithm %q", c.RateLimit.Algorithm)
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("config: audit.retention_days cannot be negative")
	}
	return nil
}

// ResolveConfigPath picks the config path from the flag, env, or default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultConfigPath
}

// ConfigExists reports whether a config file is present at path.
func ConfigExists(path string) bool {
	info, err := os.Stat(ResolveConfigPath(path))
	return err == nil && !info.IsDir()
}

// LoadDotEnv loads .env.local and .env when present. System environment wins.
func LoadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads the YAML file at path, applies env overrides and defaults.
// A missing file yields defaults plus env overrides.
func Load(path string) (Config, error) {
	var cfg Config
	cfg.AI.Temperature = defaultTemperature
	resolved := ResolveConfigPath(path)
	data, errRead := os.ReadFile(resolved)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", resolved, errUnmarshal)
		}
	case os.IsNotExist(errRead):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", resolved, errRead)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		c.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		c.Redis.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAIAPIKey)); v != "" {
		c.AI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvListen)); v != "" {
		c.Server.Listen = v
	}
}

// Package config loads the gateway's configuration from config.yaml with
// environment-variable overrides, following the same cleanenv-based
// layering used throughout the service: YAML for defaults and
// non-secret tuning knobs, environment variables for secrets and
// deployment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the gateway.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Database configuration (PostgreSQL) — audit trail, query history, and
	// the allowlisted data tables all live in one database.
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration for the short-term plan cache. Host empty means
	// Redis is unconfigured and the cache runs in-memory only.
	Redis RedisConfig `yaml:"redis"`

	// RateLimit bounds how many requests a single caller may issue per window.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Breaker configures the circuit breaker wrapped around the LLM provider.
	Breaker BreakerConfig `yaml:"breaker"`

	// LLM selects and configures the planning provider.
	LLM LLMConfig `yaml:"llm"`

	// Cache configures the short-term plan cache (C8).
	Cache CacheConfig `yaml:"cache"`

	// History configures the query history store's retention policy (C9).
	History HistoryConfig `yaml:"history"`

	// Validator configures the SQL safety validator's table allowlist and
	// default row limit (C1).
	Validator ValidatorConfig `yaml:"validator"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"safequery"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"safequery"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings for the short-term cache.
// Host empty means Redis is unconfigured and the cache degrades to an
// in-memory fallback.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RateLimitConfig bounds request admission per caller (C7).
type RateLimitConfig struct {
	MaxRequests   int `yaml:"max_requests" env:"RATE_LIMIT_MAX_REQUESTS" env-default:"100"`
	WindowSeconds int `yaml:"window_seconds" env:"RATE_LIMIT_WINDOW_SECONDS" env-default:"60"`
}

// BreakerConfig tunes the LLM provider's circuit breaker (C6).
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD" env-default:"5"`
	WindowSeconds    int `yaml:"window_seconds" env:"BREAKER_WINDOW_SECONDS" env-default:"60"`
	RecoverySeconds  int `yaml:"recovery_seconds" env:"BREAKER_RECOVERY_SECONDS" env-default:"30"`
}

// LLMConfig selects and configures the planning provider (C4).
type LLMConfig struct {
	Vendor             string  `yaml:"vendor" env:"LLM_VENDOR" env-default:"mock"` // openai, openrouter, anthropic, mock
	Endpoint           string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model              string  `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey             string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature        float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens          int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	TimeoutSeconds     int     `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"30"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"LLM_CONFIDENCE_THRESHOLD" env-default:"0.7"`
}

// CacheConfig tunes the short-term plan cache (C8).
type CacheConfig struct {
	TTLSeconds   int `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS" env-default:"1800"`
	MaxValueBytes int `yaml:"max_value_bytes" env:"CACHE_MAX_VALUE_BYTES" env-default:"1048576"`
}

// HistoryConfig tunes the query history store's retention (C9).
type HistoryConfig struct {
	RetentionDays int `yaml:"retention_days" env:"HISTORY_RETENTION_DAYS" env-default:"30"`
}

// ValidatorConfig tunes the SQL safety validator (C1). BlockedKeywords is
// intentionally not configurable — it is a fixed security boundary, not a
// tuning knob — so it is not represented here; see pkg/sql.BlockedKeywords.
type ValidatorConfig struct {
	DefaultLimit         int    `yaml:"default_limit" env:"VALIDATOR_DEFAULT_LIMIT" env-default:"200"`
	AllowlistedTablesStr string `yaml:"allowlisted_tables" env:"VALIDATOR_ALLOWLISTED_TABLES" env-default:"sales_fact,job_runs,audit_log"`
}

// AllowlistedTables parses the comma-separated table allowlist.
func (v *ValidatorConfig) AllowlistedTables() []string {
	return splitCSV(v.AllowlistedTablesStr)
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD, REDIS_PASSWORD,
// LLM_API_KEY) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set.
	// Use HTTPS scheme if TLS is configured.
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

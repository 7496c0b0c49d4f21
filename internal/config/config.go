package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the llmgate server configuration.
type Config struct {
	HTTP         HTTPConfig             `yaml:"http"`
	Database     DatabaseConfig         `yaml:"database"`
	Conversation ConversationConfig     `yaml:"conversation"`
	Backend      BackendConfig          `yaml:"backend"`
	Models       map[string]ModelConfig `yaml:"models"`
	Limits       []LimitConfig          `yaml:"limits"`
	Quota        QuotaConfig            `yaml:"quota"`
	Auth         AuthConfig             `yaml:"auth"`
	Storage      StorageConfig          `yaml:"storage"`
	Logging      LoggingConfig          `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// APIKeyConfig binds a static bearer key to an account.
type APIKeyConfig struct {
	Key     string `yaml:"key"`
	Account string `yaml:"account"`
	Role    string `yaml:"role"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys   []APIKeyConfig `yaml:"api_keys"`
	JWTSecret string         `yaml:"jwt_secret"`
	JWTIssuer string         `yaml:"jwt_issuer"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// ConversationConfig selects where conversation turns live.
type ConversationConfig struct {
	Driver       string `yaml:"driver"` // redis, dynamodb (default: redis)
	Table        string `yaml:"table"`
	Region       string `yaml:"region"`
	HistoryLimit int    `yaml:"history_limit"`
	TTLDays      int    `yaml:"ttl_days"` // 0 = keep forever
}

// TTL returns the conversation retention as a duration.
func (c ConversationConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// BackendConfig holds the OpenAI-compatible backend settings.
type BackendConfig struct {
	APIKey       string `yaml:"api_key"`
	APIKeySSM    string `yaml:"api_key_ssm_parameter"`
	BaseURL      string `yaml:"base_url"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	Moderation   bool   `yaml:"moderation"`
	Organization string `yaml:"organization"`
	DefaultModel string `yaml:"default_model"` // used when a request names no model
}

// Timeout returns the wall-clock ceiling for one backend stream.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// PricingConfig holds per-million-token USD prices.
type PricingConfig struct {
	Input     float64 `yaml:"input"`
	Output    float64 `yaml:"output"`
	Reasoning float64 `yaml:"reasoning"`
}

// TuningConfig overrides sampling parameters for one mode.
type TuningConfig struct {
	Temperature     *float32 `yaml:"temperature"`
	TopP            *float32 `yaml:"top_p"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	ReasoningEffort string   `yaml:"reasoning_effort"`
	Verbosity       string   `yaml:"verbosity"`
}

// ModelConfig describes one model of the capability table.
type ModelConfig struct {
	API     string                  `yaml:"api"` // chat, responses
	Pricing PricingConfig           `yaml:"pricing"`
	Quality bool                    `yaml:"quality"`
	Modes   map[string]TuningConfig `yaml:"modes"`
}

// LimitConfig seeds a rate limit policy.
type LimitConfig struct {
	Model             string `yaml:"model"`
	Role              string `yaml:"role"`
	DailyRequestLimit int64  `yaml:"daily_request_limit"` // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
}

// QuotaConfig holds quota gate settings.
type QuotaConfig struct {
	ExemptRoles []string `yaml:"exempt_roles"`
	Timezone    string   `yaml:"timezone"` // IANA name, default Local
}

// Location resolves the configured time zone.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || q.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates raw YAML.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Conversation.Driver == "" {
		c.Conversation.Driver = "redis"
	}
	if c.Conversation.HistoryLimit <= 0 {
		c.Conversation.HistoryLimit = 30
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "https://api.openai.com/v1"
	}
	if c.Backend.TimeoutSec <= 0 {
		c.Backend.TimeoutSec = 120
	}
	if c.Quota.ExemptRoles == nil {
		c.Quota.ExemptRoles = []string{"admin"}
	}
	for name, m := range c.Models {
		if m.API == "" {
			m.API = "chat"
			c.Models[name] = m
		}
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "llmgate:"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Database.Driver {
	case "redis", "valkey":
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	switch c.Conversation.Driver {
	case "redis":
	case "dynamodb":
		if c.Conversation.Table == "" {
			return fmt.Errorf("conversation.table is required for the dynamodb driver")
		}
	default:
		return fmt.Errorf("conversation.driver must be \"redis\" or \"dynamodb\", got %q", c.Conversation.Driver)
	}
	if c.Backend.APIKey == "" && c.Backend.APIKeySSM == "" {
		return fmt.Errorf("backend.api_key or backend.api_key_ssm_parameter is required")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("models must declare at least one model")
	}
	for name, m := range c.Models {
		switch m.API {
		case "chat", "responses":
		default:
			return fmt.Errorf("models.%s.api must be \"chat\" or \"responses\", got %q", name, m.API)
		}
		if m.Pricing.Input < 0 || m.Pricing.Output < 0 || m.Pricing.Reasoning < 0 {
			return fmt.Errorf("models.%s.pricing must not be negative", name)
		}
		for mode := range m.Modes {
			switch mode {
			case "auto", "instant", "thinking", "pro":
			default:
				return fmt.Errorf("models.%s.modes: unknown mode %q", name, mode)
			}
		}
	}
	if c.Backend.DefaultModel != "" {
		if _, ok := c.Models[c.Backend.DefaultModel]; !ok {
			return fmt.Errorf("backend.default_model %q is not declared in models", c.Backend.DefaultModel)
		}
	}
	for i, l := range c.Limits {
		if l.Model == "" || l.Role == "" {
			return fmt.Errorf("limits[%d]: model and role are required", i)
		}
		if _, ok := c.Models[l.Model]; !ok {
			return fmt.Errorf("limits[%d]: unknown model %q", i, l.Model)
		}
		if l.DailyRequestLimit < 0 || l.MonthlyTokenLimit < 0 {
			return fmt.Errorf("limits[%d]: limits must not be negative", i)
		}
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" || k.Account == "" {
			return fmt.Errorf("auth.api_keys[%d]: key and account are required", i)
		}
	}
	if _, err := c.Quota.Location(); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to the source file, for tests and `go run` from subdirectories.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Search backends selectable with SEARCH_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendBleve    = "bleve"
)

type Config struct {
	Port        string        `mapstructure:"PORT"`
	Env         string        `mapstructure:"ENV"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	DBTimeout   time.Duration `mapstructure:"DB_TIMEOUT"`

	SearchBackend     string        `mapstructure:"SEARCH_BACKEND"`
	BleveIndexPath    string        `mapstructure:"BLEVE_INDEX_PATH"`
	CMSCodesFile      string        `mapstructure:"CMS_CODES_FILE"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	SearchCacheTTL    time.Duration `mapstructure:"SEARCH_CACHE_TTL"`
	MaxAllowedResults int           `mapstructure:"MAX_ALLOWED_RESULTS"`
	DefaultMaxResults int           `mapstructure:"DEFAULT_MAX_RESULTS"`

	APISharedSecret string `mapstructure:"API_SHARED_SECRET"`

	AIEndpoint          string        `mapstructure:"AI_ENDPOINT"`
	AIDeployment        string        `mapstructure:"AI_DEPLOYMENT"`
	AIAPIKey            string        `mapstructure:"AI_API_KEY"`
	AIAPIVersion        string        `mapstructure:"AI_API_VERSION"`
	AISystemPrompt      string        `mapstructure:"AI_SYSTEM_PROMPT"`
	AIAdditionalContext string        `mapstructure:"AI_ADDITIONAL_CONTEXT"`
	AIPromptFile        string        `mapstructure:"AI_PROMPT_FILE"`
	AITemperature       float64       `mapstructure:"AI_TEMPERATURE"`
	AITimeout           time.Duration `mapstructure:"AI_TIMEOUT"`
	FilterInvalidCodes  bool          `mapstructure:"FILTER_INVALID_AI_CODES"`

	GPTConsoleLogging bool   `mapstructure:"GPT_CONSOLE_LOGGING"`
	GPTFileLogging    bool   `mapstructure:"GPT_FILE_LOGGING"`
	GPTLogPath        string `mapstructure:"GPT_LOG_PATH"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
}

// PromptFile is the YAML document named by AI_PROMPT_FILE.
type PromptFile struct {
	SystemPrompt      string `yaml:"system_prompt"`
	AdditionalContext string `yaml:"additional_context"`
}

var defaults = map[string]interface{}{
	"PORT":                    "8000",
	"ENV":                     "development",
	"DB_MAX_CONNS":            20,
	"DB_MIN_CONNS":            2,
	"DB_TIMEOUT":              "10s",
	"SEARCH_BACKEND":          BackendPostgres,
	"SEARCH_CACHE_TTL":        "10m",
	"MAX_ALLOWED_RESULTS":     50,
	"DEFAULT_MAX_RESULTS":     10,
	"AI_API_VERSION":          "2024-02-01",
	"AI_TEMPERATURE":          0.3,
	"AI_TIMEOUT":              "30s",
	"FILTER_INVALID_AI_CODES": false,
	"GPT_CONSOLE_LOGGING":     true,
	"GPT_FILE_LOGGING":        false,
	"GPT_LOG_PATH":            "logs",
	"REQUEST_TIMEOUT":         "60s",
	"BODY_LIMIT":              "1M",
	"RATE_LIMIT_RPS":          10,
	"RATE_LIMIT_BURST":        20,
	"CORS_ORIGINS":            "*",
}

// keys lists every setting so Unmarshal sees environment-only values.
var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_TIMEOUT",
	"SEARCH_BACKEND", "BLEVE_INDEX_PATH", "CMS_CODES_FILE", "REDIS_URL",
	"SEARCH_CACHE_TTL", "MAX_ALLOWED_RESULTS", "DEFAULT_MAX_RESULTS",
	"API_SHARED_SECRET",
	"AI_ENDPOINT", "AI_DEPLOYMENT", "AI_API_KEY", "AI_API_VERSION",
	"AI_SYSTEM_PROMPT", "AI_ADDITIONAL_CONTEXT", "AI_PROMPT_FILE",
	"AI_TEMPERATURE", "AI_TIMEOUT", "FILTER_INVALID_AI_CODES",
	"GPT_CONSOLE_LOGGING", "GPT_FILE_LOGGING", "GPT_LOG_PATH",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CORS_ORIGINS",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. When AI_PROMPT_FILE is set its values replace
// AI_SYSTEM_PROMPT and AI_ADDITIONAL_CONTEXT.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.SearchBackend = strings.ToLower(strings.TrimSpace(cfg.SearchBackend))

	if cfg.AIPromptFile != "" {
		pf, err := LoadPromptFile(cfg.AIPromptFile)
		if err != nil {
			return nil, err
		}
		if pf.SystemPrompt != "" {
			cfg.AISystemPrompt = pf.SystemPrompt
		}
		if pf.AdditionalContext != "" {
			cfg.AIAdditionalContext = pf.AdditionalContext
		}
	}

	return cfg, nil
}

// LoadPromptFile parses a YAML prompt file.
func LoadPromptFile(path string) (*PromptFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	pf := &PromptFile{}
	if err := yaml.Unmarshal(data, pf); err != nil {
		return nil, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	pf.SystemPrompt = strings.TrimSpace(pf.SystemPrompt)
	pf.AdditionalContext = strings.TrimSpace(pf.AdditionalContext)
	return pf, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AIEnabled reports whether an AI endpoint is fully configured.
func (c *Config) AIEnabled() bool {
	return c.AIEndpoint != "" && c.AIDeployment != "" && c.AIAPIKey != ""
}

// NeedsDatabase reports whether the configured backend reads from Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.SearchBackend == BackendPostgres
}

// Validate checks that the configuration is complete enough to serve
// requests.
func (c *Config) Validate() error {
	switch c.SearchBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SEARCH_BACKEND is %q", BackendPostgres)
		}
	case BackendBleve:
		if c.BleveIndexPath == "" && c.CMSCodesFile == "" {
			return fmt.Errorf("BLEVE_INDEX_PATH or CMS_CODES_FILE is required when SEARCH_BACKEND is %q", BackendBleve)
		}
	default:
		return fmt.Errorf("SEARCH_BACKEND must be %q or %q, got %q", BackendPostgres, BackendBleve, c.SearchBackend)
	}

	if c.APISharedSecret == "" {
		return fmt.Errorf("API_SHARED_SECRET is required")
	}

	if c.MaxAllowedResults < 1 {
		return fmt.Errorf("MAX_ALLOWED_RESULTS must be at least 1, got %d", c.MaxAllowedResults)
	}
	if c.DefaultMaxResults < 1 || c.DefaultMaxResults > c.MaxAllowedResults {
		return fmt.Errorf("DEFAULT_MAX_RESULTS must be between 1 and MAX_ALLOWED_RESULTS (%d), got %d",
			c.MaxAllowedResults, c.DefaultMaxResults)
	}

	set := 0
	for _, v := range []string{c.AIEndpoint, c.AIDeployment, c.AIAPIKey} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("AI_ENDPOINT, AI_DEPLOYMENT and AI_API_KEY must be set together")
	}
	if c.AIEnabled() && c.AISystemPrompt == "" {
		return fmt.Errorf("AI_SYSTEM_PROMPT or AI_PROMPT_FILE is required when the AI endpoint is configured")
	}
	if c.AITemperature < 0 || c.AITemperature > 2 {
		return fmt.Errorf("AI_TEMPERATURE must be between 0 and 2, got %v", c.AITemperature)
	}

	if c.GPTFileLogging && c.GPTLogPath == "" {
		return fmt.Errorf("GPT_LOG_PATH is required when GPT_FILE_LOGGING is true")
	}

	return nil
}

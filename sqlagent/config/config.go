package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	internal "github.com/ZanzyTHEbar/sql-agent/sqlagent"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Database DatabaseConfig `mapstructure:"database"`
	Harness  HarnessConfig  `mapstructure:"harness"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
}

// AgentConfig bounds each run.
type AgentConfig struct {
	MaxIterations       int           `mapstructure:"max_iterations"`        // Tool-invoking iterations per run
	MaxTime             time.Duration `mapstructure:"max_time"`              // Wall-clock budget, 0 disables
	TolerateParseErrors bool          `mapstructure:"tolerate_parse_errors"` // Feed format errors back to the model
	TopK                int           `mapstructure:"top_k"`                 // Row limit suggested in the prompt
	ToolTimeout         time.Duration `mapstructure:"tool_timeout"`
	ModelTimeout        time.Duration `mapstructure:"model_timeout"`
	ReadOnly            bool          `mapstructure:"read_only"` // Reject DML/DDL in the query tool
}

// LLMConfig stores language model configurations.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"` // "fireworks", "openai", "anthropic"
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	MaxNewTokens int           `mapstructure:"max_new_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"` // HTTP client timeout
}

// DatabaseConfig stores the target database and rendering options.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	SampleRows      int           `mapstructure:"sample_rows"`
	MaxStringLength int           `mapstructure:"max_string_length"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	IncludeTables   []string      `mapstructure:"include_tables"`
	IgnoreTables    []string      `mapstructure:"ignore_tables"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

// HarnessConfig stores LLM harness configurations.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Cache query checker results
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // One token per interval

	// Safety and validation
	EnableGuardrails bool     `mapstructure:"enable_guardrails"`
	BlockedWords     []string `mapstructure:"blocked_words"` // Rejected in questions
	AllowedTools     []string `mapstructure:"allowed_tools"` // Empty means all tools

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`

	// Performance
	BatchConcurrency int `mapstructure:"batch_concurrency"` // Concurrent runs in batch mode
}

// StoreConfig controls run history persistence.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Validate checks the fields every run depends on.
func (c *Config) Validate() error {
	return errors.Join(c.Agent.Validate(), c.LLM.Validate(), c.Database.Validate())
}

// Validate checks the run limits.
func (c AgentConfig) Validate() error {
	var errs []error
	if c.MaxIterations < 1 {
		errs = append(errs, internal.ErrInvalidIterationCap)
	}
	if c.MaxTime < 0 {
		errs = append(errs, fmt.Errorf("max time cannot be negative: %s", c.MaxTime))
	}
	return errors.Join(errs...)
}

// Validate checks the model settings.
func (c LLMConfig) Validate() error {
	var errs []error
	switch c.Provider {
	case "fireworks", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.Provider))
	}
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, internal.ErrMissingAPIKey)
	}
	if c.Model == "" {
		errs = append(errs, errors.New("llm model is required"))
	}
	return errors.Join(errs...)
}

// Validate checks the database settings.
func (c DatabaseConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return internal.ErrMissingConnectionURL
	}
	return nil
}

// LoadDotEnv loads environment files into the process environment. Without paths it loads
// ./.env when present.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if len(paths) == 0 && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment apply.
	}

	return decode(v)
}

// Watch re-reads the config file on change and hands each valid version to onChange.
// It returns an error when there is no config file to watch.
func Watch(configPath string, logger zerolog.Logger, onChange func(*Config)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}
		if err := cfg.Agent.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}
		logger.Info().Str("file", e.Name).Msg("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. agent.max_iterations becomes SQLAGENT_AGENT_MAX_ITERATIONS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unprefixed names accepted for compatibility with existing .env files
	_ = v.BindEnv("llm.api_key", "SQLAGENT_LLM_API_KEY", "FIREWORKS_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("database.url", "SQLAGENT_DATABASE_URL", "DB_CONNECTION_STRING")

	return v
}

func setDefaults(v *viper.Viper) {
	// Agent defaults
	v.SetDefault("agent.max_iterations", internal.DefaultMaxIterations)
	v.SetDefault("agent.max_time", "0s")
	v.SetDefault("agent.tolerate_parse_errors", true)
	v.SetDefault("agent.top_k", internal.DefaultTopK)
	v.SetDefault("agent.tool_timeout", "60s")
	v.SetDefault("agent.model_timeout", "2m")
	v.SetDefault("agent.read_only", false)

	// LLM defaults (Fireworks-hosted llama-v3-70b, greedy)
	v.SetDefault("llm.provider", internal.DefaultLLMProvider)
	v.SetDefault("llm.model", internal.DefaultLLMModel)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_new_tokens", 1024)
	v.SetDefault("llm.temperature", 0)
	v.SetDefault("llm.timeout", "2m")

	// Database defaults
	v.SetDefault("database.sample_rows", internal.DefaultSampleRows)
	v.SetDefault("database.max_string_length", 300)
	v.SetDefault("database.query_timeout", "30s")
	v.SetDefault("database.include_tables", []string{})
	v.SetDefault("database.ignore_tables", []string{})
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	// Harness defaults
	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 1000)
	v.SetDefault("harness.cache_ttl_seconds", 3600) // 1 hour
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_guardrails", true)
	v.SetDefault("harness.blocked_words", []string{})
	v.SetDefault("harness.allowed_tools", []string{}) // Empty means allow all by default
	v.SetDefault("harness.enable_tracing", true)
	v.SetDefault("harness.batch_concurrency", 4)

	// Run history
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", internal.DefaultStorePath)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrNilConfig is returned when a nil Config is provided.
var ErrNilConfig = errors.New("config is nil")

// ErrMissingAPIKey is returned when no completion credential can be resolved.
var ErrMissingAPIKey = errors.New("api key not set")

// Supported completion providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Default models per provider.
var defaultModels = map[string]string{
	ProviderGemini:    "gemini-2.5-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-20250514",
}

// DefaultMaxUploadBytes is the largest PDF accepted at the upload boundary.
const DefaultMaxUploadBytes = 10 << 20

// EnvPrefix is prepended to every environment override (DOCUQUERY_LLM_MODEL, ...).
const EnvPrefix = "DOCUQUERY"

// Config holds the full application configuration.
type Config struct {
	LLM    ProviderConfig `mapstructure:"llm" yaml:"llm"`
	Server ServerConfig   `mapstructure:"server" yaml:"server"`
	Log    LogConfig      `mapstructure:"log" yaml:"log"`
}

// ProviderConfig holds connection details for the completion provider.
type ProviderConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	CORSOrigins    []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	ChatRateLimit  float64  `mapstructure:"chat_rate_limit" yaml:"chat_rate_limit"`
	ChatBurst      int      `mapstructure:"chat_burst" yaml:"chat_burst"`
	MaxSessions    int      `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ConfigurationError reports a setting that makes a boundary unusable.
// It is a server-side fault, never the caller's.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: ProviderConfig{
			Provider:  ProviderGemini,
			Timeout:   2 * time.Minute,
			MaxTokens: 2048,
		},
		Server: ServerConfig{
			Port:           8000,
			MaxUploadBytes: DefaultMaxUploadBytes,
			CORSOrigins:    []string{"*"},
			ChatBurst:      5,
			MaxSessions:    64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.chat_rate_limit", d.Server.ChatRateLimit)
	v.SetDefault("server.chat_burst", d.Server.ChatBurst)
	v.SetDefault("server.max_sessions", d.Server.MaxSessions)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed credentials, first non-empty wins.
	_ = v.BindEnv("credentials.fallback_api_key", "API_KEY", "VITE_API_KEY")
}

// Load reads the global Viper instance into a Config struct.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads a Viper instance into a Config struct.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v.GetString("credentials.fallback_api_key")
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail later at runtime.
// A missing API key is not checked here; see ProviderConfig.ResolveAPIKey.
func Validate(cfg *Config) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	return cfg.Server.Validate()
}

// Validate checks the provider name and timeout.
func (p ProviderConfig) Validate() error {
	if _, ok := defaultModels[p.Provider]; !ok {
		return &ConfigurationError{Key: "llm.provider", Err: fmt.Errorf("unsupported provider %q", p.Provider)}
	}
	if p.Timeout <= 0 {
		return &ConfigurationError{Key: "llm.timeout", Err: errors.New("must be positive")}
	}
	return nil
}

// Validate checks the listening port and request limits.
func (s ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return &ConfigurationError{Key: "server.port", Err: fmt.Errorf("out of range: %d", s.Port)}
	}
	if s.MaxUploadBytes <= 0 {
		return &ConfigurationError{Key: "server.max_upload_bytes", Err: errors.New("must be positive")}
	}
	if s.MaxSessions <= 0 {
		return &ConfigurationError{Key: "server.max_sessions", Err: errors.New("must be positive")}
	}
	if s.ChatRateLimit < 0 {
		return &ConfigurationError{Key: "server.chat_rate_limit", Err: errors.New("must not be negative")}
	}
	return nil
}

// ResolveAPIKey returns the credential or a ConfigurationError when absent.
func (p ProviderConfig) ResolveAPIKey() (string, error) {
	key := strings.TrimSpace(p.APIKey)
	if key == "" {
		return "", &ConfigurationError{Key: "llm.api_key", Err: ErrMissingAPIKey}
	}
	return key, nil
}

// ModelOrDefault returns the configured model or the provider default.
func (p ProviderConfig) ModelOrDefault() string {
	if p.Model != "" {
		return p.Model
	}
	return defaultModels[p.Provider]
}

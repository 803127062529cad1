// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	LLM() LLMConfig
	Browser() BrowserConfig
	Prompt() PromptConfig

	// Agent Setters
	SetAgentMaxSteps(int)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	AgentCfg   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLMCfg     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	PromptCfg  PromptConfig  `mapstructure:"prompt" yaml:"prompt"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig     { return c.AgentCfg }
func (c *Config) LLM() LLMConfig         { return c.LLMCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Prompt() PromptConfig   { return c.PromptCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMaxSteps(n int)    { c.AgentCfg.MaxSteps = n }
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig bounds a single agent run: step budget, history size, retries,
// and the timeouts applied to every model, refresh, and action call.
type AgentConfig struct {
	MaxSteps            int           `mapstructure:"max_steps" yaml:"max_steps"`
	SearchEngine        string        `mapstructure:"search_engine" yaml:"search_engine"`
	MaxHistoryMessages  int           `mapstructure:"max_history_messages" yaml:"max_history_messages"`
	ModelRetryAttempts  int           `mapstructure:"model_retry_attempts" yaml:"model_retry_attempts"`
	ModelRetryBaseDelay time.Duration `mapstructure:"model_retry_base_delay" yaml:"model_retry_base_delay"`
	ModelTimeout        time.Duration `mapstructure:"model_timeout" yaml:"model_timeout"`
	RefreshTimeout      time.Duration `mapstructure:"refresh_timeout" yaml:"refresh_timeout"`
	ActionTimeout       time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	StepTimeout         time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	SettleDelay         time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	FailureSettleDelay  time.Duration `mapstructure:"failure_settle_delay" yaml:"failure_settle_delay"`
	MaxEmptyRetries     int           `mapstructure:"max_empty_retries" yaml:"max_empty_retries"`
}

// LLMConfig holds the settings for the language model endpoint.
type LLMConfig struct {
	Provider          string            `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"-"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// BrowserConfig holds settings for the controlled browser instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	RemoteURL       string         `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir     string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	StartURL        string         `mapstructure:"start_url" yaml:"start_url"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// Optional per-tab overrides. Empty values leave Chrome's own settings.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`
}

// PromptConfig selects the base system instructions. SystemPromptFile wins
// over SystemPrompt when both are set.
type PromptConfig struct {
	SystemPrompt     string `mapstructure:"system_prompt" yaml:"system_prompt"`
	SystemPromptFile string `mapstructure:"system_prompt_file" yaml:"system_prompt_file"`
}

// Model providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGroq      = "groq"
	ProviderMistral   = "mistral"
)

// supportedProviders lists the model providers the client factory can build.
var supportedProviders = map[string]bool{
	ProviderGemini:    true,
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderOllama:    true,
	ProviderGroq:      true,
	ProviderMistral:   true,
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "aibrowser")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Agent --
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.search_engine", "google")
	v.SetDefault("agent.max_history_messages", 40)
	v.SetDefault("agent.model_retry_attempts", 3)
	v.SetDefault("agent.model_retry_base_delay", "2s")
	v.SetDefault("agent.model_timeout", "60s")
	v.SetDefault("agent.refresh_timeout", "30s")
	v.SetDefault("agent.action_timeout", "45s")
	v.SetDefault("agent.step_timeout", "150s")
	v.SetDefault("agent.settle_delay", "500ms")
	v.SetDefault("agent.failure_settle_delay", "200ms")
	v.SetDefault("agent.max_empty_retries", 2)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.max_tokens", 8000)
	v.SetDefault("llm.requests_per_minute", 0)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.start_url", "about:blank")
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.locale", "")
	v.SetDefault("browser.timezone", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("llm.api_key", "AIBROWSER_LLM_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLMCfg.APIKey == "" && cfg.LLMCfg.Provider == "gemini" {
		cfg.LLMCfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return err
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the agent run bounds.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if a.MaxHistoryMessages < 2 {
		return fmt.Errorf("agent.max_history_messages must be at least 2")
	}
	if a.ModelRetryAttempts <= 0 {
		return fmt.Errorf("agent.model_retry_attempts must be a positive integer")
	}
	if a.ModelTimeout <= 0 || a.RefreshTimeout <= 0 || a.ActionTimeout <= 0 || a.StepTimeout <= 0 {
		return fmt.Errorf("agent timeouts must be positive durations")
	}
	if a.SettleDelay < 0 || a.FailureSettleDelay < 0 || a.ModelRetryBaseDelay < 0 {
		return fmt.Errorf("agent delays must not be negative")
	}
	if a.MaxEmptyRetries < 0 {
		return fmt.Errorf("agent.max_empty_retries must not be negative")
	}
	return nil
}

// Validate checks the model endpoint settings.
func (l *LLMConfig) Validate() error {
	provider := strings.ToLower(l.Provider)
	if !supportedProviders[provider] {
		return fmt.Errorf("llm.provider %q is not supported", l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("llm.model is a required configuration field")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}
	return nil
}

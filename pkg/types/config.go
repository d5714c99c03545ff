package types

import (
	"errors"
	"time"
)

// Config holds the runtime settings of the assistant core.
type Config struct {
	DataDir    string         `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	ListenAddr string         `json:"listen_addr" yaml:"listen_addr" mapstructure:"listen_addr"`
	User       string         `json:"user" yaml:"user" mapstructure:"user"`
	LLM        LLMConfig      `json:"llm" yaml:"llm" mapstructure:"llm"`
	Auth       AuthConfig     `json:"auth" yaml:"auth" mapstructure:"auth"`
	Telegram   TelegramConfig `json:"telegram" yaml:"telegram" mapstructure:"telegram"`
	Chat       ChatConfig     `json:"chat" yaml:"chat" mapstructure:"chat"`
	Log        LogConfig      `json:"log" yaml:"log" mapstructure:"log"`
}

// LLMConfig selects and tunes the language model provider.
type LLMConfig struct {
	Provider      string        `json:"provider" yaml:"provider" mapstructure:"provider"`
	APIKey        string        `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	Model         string        `json:"model" yaml:"model" mapstructure:"model"`
	AllowedModels []string      `json:"allowed_models" yaml:"allowed_models" mapstructure:"allowed_models"`
	MaxIterations int           `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// AuthConfig holds the bearer token secret.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	BotToken      string `json:"bot_token" yaml:"bot_token" mapstructure:"bot_token"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret" mapstructure:"webhook_secret"`
	APIBase       string `json:"api_base" yaml:"api_base" mapstructure:"api_base"`
	BotUsername   string `json:"bot_username" yaml:"bot_username" mapstructure:"bot_username"`
}

// ChatConfig tunes turn handling.
type ChatConfig struct {
	HistoryLimit  int `json:"history_limit" yaml:"history_limit" mapstructure:"history_limit"`
	RatePerMinute int `json:"rate_per_minute" yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Supported provider names.
const (
	ProviderGemini = "gemini"
)

// Default values applied by the command layer.
const (
	DefaultModel         = "gemini-2.5-flash"
	DefaultMaxIterations = 5
	DefaultHistoryLimit  = 50
	DefaultListenAddr    = ":8080"
)

// Config validation errors.
var (
	ErrProviderUnknown      = errors.New("unknown llm provider")
	ErrModelNotAllowed      = errors.New("default model is not in allowed_models")
	ErrMaxIterationsInvalid = errors.New("max_iterations must be positive")
	ErrLogFormatUnknown     = errors.New("log format must be json or console")
	ErrWebhookSecretMissing = errors.New("telegram.webhook_secret is required when telegram.bot_token is set")
)

var knownProviders = map[string]bool{
	ProviderGemini: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.LLM.Provider != "" && !knownProviders[c.LLM.Provider] {
		return ErrProviderUnknown
	}
	if c.LLM.MaxIterations < 0 {
		return ErrMaxIterationsInvalid
	}
	if c.LLM.Model != "" && len(c.LLM.AllowedModels) > 0 && !c.LLM.ModelAllowed(c.LLM.Model) {
		return ErrModelNotAllowed
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return ErrLogFormatUnknown
	}
	if c.Telegram.BotToken != "" && c.Telegram.WebhookSecret == "" {
		return ErrWebhookSecretMissing
	}
	return nil
}

// ModelAllowed reports whether model is in the allow-list. An empty list
// allows only the configured default.
func (c LLMConfig) ModelAllowed(model string) bool {
	if len(c.AllowedModels) == 0 {
		return model == c.Model
	}
	for _, m := range c.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// SelectModel returns requested when it is allowed, otherwise the default.
func (c LLMConfig) SelectModel(requested string) string {
	if requested != "" && c.ModelAllowed(requested) {
		return requested
	}
	if c.Model != "" {
		return c.Model
	}
	return DefaultModel
}

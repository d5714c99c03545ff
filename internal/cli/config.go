package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/journey/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "JOURNEY"
)

// defaultConfigYAML is the content written to config.yaml on first run.
const defaultConfigYAML = `# Journey configuration
# Every key can be overridden with a JOURNEY_ environment variable,
# for example JOURNEY_LLM_MODEL or JOURNEY_TELEGRAM_BOT_TOKEN.

# user: default user id for CLI commands
# data_dir:
listen_addr: ":8080"

llm:
  provider: gemini
  model: gemini-2.5-flash
  # api_key: (or GEMINI_API_KEY)
  # allowed_models: [gemini-2.5-flash, gemini-2.5-pro]
  max_iterations: 5
  timeout: 60s

auth:
  jwt_secret: ""

telegram:
  bot_token: ""
  # required when bot_token is set; sent back by Telegram on every delivery
  webhook_secret: ""
  # bot_username enables t.me deep links for chat linking
  bot_username: ""

chat:
  history_limit: 50
  rate_per_minute: 20

log:
  level: info
  format: json
`

// setDefaults registers every key so environment overrides apply even when
// config.yaml omits the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("user", "")
	v.SetDefault("data_dir", "")
	v.SetDefault("listen_addr", types.DefaultListenAddr)
	v.SetDefault("llm.provider", types.ProviderGemini)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", types.DefaultModel)
	v.SetDefault("llm.allowed_models", []string{})
	v.SetDefault("llm.max_iterations", types.DefaultMaxIterations)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.api_base", "")
	v.SetDefault("telegram.bot_username", "")
	v.SetDefault("chat.history_limit", types.DefaultHistoryLimit)
	v.SetDefault("chat.rate_per_minute", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// loadConfig reads config.yaml from configDir, applying .env files and
// JOURNEY_ environment overrides. It creates the directory and a default
// config.yaml on first run.
func loadConfig(configDir string) (types.Config, error) {
	var cfg types.Config
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return cfg, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return cfg, fmt.Errorf("ensure default config: %w", err)
	}
	if err := loadDotEnv(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return cfg, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", envPrefix+"_LLM_API_KEY", "GEMINI_API_KEY"); err != nil {
		return cfg, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", filepath.Join(configDir, configFileExt), err)
	}
	return cfg, nil
}

// loadDotEnv loads the files that exist. Variables already set win.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ensureDefaultConfigFile creates a default config.yaml if the file does not
// exist in the config directory.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o600)
}

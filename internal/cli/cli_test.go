package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journey/internal/auth"
	"github.com/mesh-intelligence/journey/pkg/types"
)

type dirs struct {
	config string
	data   string
}

func newDirs(t *testing.T) dirs {
	t.Helper()
	root := t.TempDir()
	return dirs{config: filepath.Join(root, "config"), data: filepath.Join(root, "data")}
}

func (d dirs) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config-dir", d.config, "--data-dir", d.data}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := newDirs(t).run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "journey v"+Version)
	assert.Contains(t, out, modulePath)
}

func TestInit(t *testing.T) {
	d := newDirs(t)
	out, err := d.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Journey initialized")

	raw, err := os.ReadFile(filepath.Join(d.config, configFileExt))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Journey configuration")

	cfg, err := loadConfig(d.config)
	require.NoError(t, err)
	assert.Len(t, cfg.Auth.JWTSecret, 64)
	assert.Equal(t, d.data, cfg.DataDir)
	assert.Equal(t, types.DefaultModel, cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.DirExists(t, d.data)

	_, err = d.run(t, "init")
	require.NoError(t, err)
	again, err := loadConfig(d.config)
	require.NoError(t, err)
	assert.Equal(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)
}

func TestToken(t *testing.T) {
	d := newDirs(t)
	_, err := d.run(t, "init")
	require.NoError(t, err)

	out, err := d.run(t, "--user", "u1", "token", "--ttl", "1h")
	require.NoError(t, err)

	cfg, err := loadConfig(d.config)
	require.NoError(t, err)
	userID, err := auth.NewTokens(cfg.Auth.JWTSecret).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"--config-dir", d.config, "--data-dir", d.data, "--user", "u1", "token", "--link"})
	require.NoError(t, root.Execute())
	line := strings.TrimSpace(stdout.String())
	require.True(t, strings.HasPrefix(line, "/link "), line)
	tokens := auth.NewTokens(cfg.Auth.JWTSecret)
	userID, err = tokens.VerifyLink(strings.TrimPrefix(line, "/link "))
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	_, err = tokens.Verify(strings.TrimPrefix(line, "/link "))
	assert.ErrorIs(t, err, types.ErrAuthRequired)

	t.Setenv("JOURNEY_USER", "")
	_, err = d.run(t, "token")
	require.ErrorIs(t, err, types.ErrAuthRequired)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestCommands_EmptyStore(t *testing.T) {
	d := newDirs(t)
	_, err := d.run(t, "init")
	require.NoError(t, err)

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string, err error)
	}{
		{
			name: "threads list",
			args: []string{"--user", "u1", "threads", "list"},
			check: func(t *testing.T, out string, err error) {
				require.NoError(t, err)
				assert.Equal(t, "No threads.\n", out)
			},
		},
		{
			name: "threads list json",
			args: []string{"--user", "u1", "--json", "threads", "list"},
			check: func(t *testing.T, out string, err error) {
				require.NoError(t, err)
				assert.JSONEq(t, "[]", out)
			},
		},
		{
			name: "actions list needs a thread",
			args: []string{"--user", "u1", "actions", "list"},
			check: func(t *testing.T, _ string, err error) {
				require.ErrorIs(t, err, errUsage)
				assert.Equal(t, exitUserError, exitCode(err))
			},
		},
		{
			name: "confirm unknown action",
			args: []string{"--user", "u1", "actions", "confirm", "missing"},
			check: func(t *testing.T, _ string, err error) {
				require.ErrorIs(t, err, types.ErrNotFound)
			},
		},
		{
			name: "history of unknown thread",
			args: []string{"--user", "u1", "threads", "history", "missing"},
			check: func(t *testing.T, _ string, err error) {
				require.ErrorIs(t, err, types.ErrNotFound)
			},
		},
		{
			name: "search-all json",
			args: []string{"--user", "u1", "--json", "mentions", "search-all", "milk"},
			check: func(t *testing.T, out string, err error) {
				require.NoError(t, err)
				var grouped map[string][]any
				require.NoError(t, json.Unmarshal([]byte(out), &grouped))
				assert.Empty(t, grouped["tasks"])
				assert.Contains(t, grouped, "memories")
			},
		},
		{
			name: "resolve unknown mention",
			args: []string{"--user", "u1", "mentions", "resolve", "see", "task#4"},
			check: func(t *testing.T, out string, err error) {
				require.NoError(t, err)
				assert.Equal(t, "task#4  (not found)\n", out)
			},
		},
		{
			name: "search rejects files",
			args: []string{"--user", "u1", "mentions", "search", "file", "x"},
			check: func(t *testing.T, _ string, err error) {
				require.ErrorIs(t, err, types.ErrInvalidEntityType)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := d.run(t, tt.args...)
			tt.check(t, out, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg types.Config, err error)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg types.Config, err error) {
				require.NoError(t, err)
				assert.Equal(t, types.ProviderGemini, cfg.LLM.Provider)
				assert.Equal(t, types.DefaultMaxIterations, cfg.LLM.MaxIterations)
				assert.Equal(t, types.DefaultHistoryLimit, cfg.Chat.HistoryLimit)
				assert.Equal(t, types.DefaultListenAddr, cfg.ListenAddr)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"JOURNEY_LLM_MODEL":               "gemini-2.5-pro",
				"JOURNEY_CHAT_HISTORY_LIMIT":      "7",
				"JOURNEY_TELEGRAM_BOT_TOKEN":      "bot-token",
				"JOURNEY_TELEGRAM_WEBHOOK_SECRET": "hook",
				"GEMINI_API_KEY":                  "key",
			},
			check: func(t *testing.T, cfg types.Config, err error) {
				require.NoError(t, err)
				assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
				assert.Equal(t, 7, cfg.Chat.HistoryLimit)
				assert.Equal(t, "bot-token", cfg.Telegram.BotToken)
				assert.Equal(t, "key", cfg.LLM.APIKey)
			},
		},
		{
			name: "invalid log format",
			env:  map[string]string{"JOURNEY_LOG_FORMAT": "xml"},
			check: func(t *testing.T, _ types.Config, err error) {
				require.ErrorIs(t, err, types.ErrLogFormatUnknown)
			},
		},
		{
			name: "bot token without webhook secret",
			env:  map[string]string{"JOURNEY_TELEGRAM_BOT_TOKEN": "bot-token"},
			check: func(t *testing.T, _ types.Config, err error) {
				require.ErrorIs(t, err, types.ErrWebhookSecretMissing)
			},
		},
		{
			name: "unknown provider",
			env:  map[string]string{"JOURNEY_LLM_PROVIDER": "acme"},
			check: func(t *testing.T, _ types.Config, err error) {
				require.ErrorIs(t, err, types.ErrProviderUnknown)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := loadConfig(t.TempDir())
			tt.check(t, cfg, err)
		})
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JOURNEY_USER=dotenv-user\n"), 0o600))

	// Register a cleanup that restores the unset state after godotenv sets it.
	t.Setenv("JOURNEY_USER", "")
	require.NoError(t, os.Unsetenv("JOURNEY_USER"))

	cfg, err := loadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-user", cfg.User)
}

func TestSetConfigValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileExt)
	require.NoError(t, os.WriteFile(path, []byte("# keep me\nllm:\n  model: m\n"), 0o600))

	require.NoError(t, setConfigValues(path, map[string]string{
		"llm.model":       "other",
		"auth.jwt_secret": "s",
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# keep me")

	cfg, err := loadConfig(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "other", cfg.LLM.Model)
	assert.Equal(t, "s", cfg.Auth.JWTSecret)
}

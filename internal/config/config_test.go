package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_DSN", "postgres://localhost/convo")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@bot:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "token")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ProviderAnthropic, cfg.Backend.Provider)
	assert.Equal(t, 2*time.Minute, cfg.Backend.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Chat.ConversationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.EditThrottleInterval)
	assert.Equal(t, 4096, cfg.Chat.MessageLimit)
	assert.Zero(t, cfg.Chat.MaxMessageCount)
	assert.Empty(t, cfg.Redis.URI)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CONVERSATION_TIMEOUT", "15m")
	t.Setenv("MATRIX_ALLOWED_ROOMS", "!a:example.org,!b:example.org")
	t.Setenv("MAX_MESSAGE_COUNT", "20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Chat.ConversationTimeout)
	assert.Equal(t, []string{"!a:example.org", "!b:example.org"}, cfg.Matrix.AllowedRooms)
	assert.Equal(t, 20, cfg.Chat.MaxMessageCount)
}

func TestLoad_GeminiRequiresKey(t *testing.T) {
	setRequired(t)
	t.Setenv("BACKEND_PROVIDER", "gemini")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")

	t.Setenv("GEMINI_API_KEY", "g-test")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("BACKEND_PROVIDER", "openai")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsTinyMessageLimit(t *testing.T) {
	setRequired(t)
	t.Setenv("MESSAGE_LIMIT", "10")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_DSN", "")
	require.NoError(t, os.Unsetenv("DATABASE_DSN"))

	_, err := Load()
	assert.Error(t, err)
}

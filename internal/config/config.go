package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Backend providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// minMessageLimit leaves room for the truncation and generating suffixes.
const minMessageLimit = 100

// Config holds all configuration for the convo-backend service.
type Config struct {
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Backend   BackendConfig
	Anthropic AnthropicConfig
	Gemini    GeminiConfig
	Matrix    MatrixConfig
	Chat      ChatConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host      string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port      string `envconfig:"SERVER_PORT" default:"8080"`
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	DSN string `envconfig:"DATABASE_DSN" required:"true"`
}

// RedisConfig holds Redis configuration. An empty URI disables caching.
type RedisConfig struct {
	URI string `envconfig:"REDIS_URI"`
}

// BackendConfig selects the completion backend.
type BackendConfig struct {
	Provider string        `envconfig:"BACKEND_PROVIDER" default:"anthropic"`
	Timeout  time.Duration `envconfig:"BACKEND_TIMEOUT" default:"2m"`
}

// AnthropicConfig holds Anthropic Claude API configuration.
type AnthropicConfig struct {
	APIKey string `envconfig:"ANTHROPIC_API_KEY"`
	Model  string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
}

// GeminiConfig holds Gemini API configuration.
type GeminiConfig struct {
	APIKey string `envconfig:"GEMINI_API_KEY"`
	Model  string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
}

// MatrixConfig holds the bot account and the rooms it serves.
type MatrixConfig struct {
	Homeserver   string   `envconfig:"MATRIX_HOMESERVER" required:"true"`
	UserID       string   `envconfig:"MATRIX_USER_ID" required:"true"`
	AccessToken  string   `envconfig:"MATRIX_ACCESS_TOKEN" required:"true"`
	AllowedRooms []string `envconfig:"MATRIX_ALLOWED_ROOMS"`
}

// ChatConfig holds conversation behaviour.
type ChatConfig struct {
	// ConversationTimeout expires idle conversations. Zero disables expiry.
	ConversationTimeout  time.Duration `envconfig:"CONVERSATION_TIMEOUT" default:"0"`
	EditThrottleInterval time.Duration `envconfig:"EDIT_THROTTLE_INTERVAL" default:"500ms"`
	MessageLimit         int           `envconfig:"MESSAGE_LIMIT" default:"4096"`
	// MaxMessageCount limits the transcript sent to the backend. Zero sends all.
	MaxMessageCount int    `envconfig:"MAX_MESSAGE_COUNT" default:"0"`
	StartMessage    string `envconfig:"START_MESSAGE" default:"Hi! Send me a message to start a conversation."`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration for logical errors beyond required fields.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the %s backend", ProviderAnthropic)
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the %s backend", ProviderGemini)
		}
	default:
		return fmt.Errorf("unknown BACKEND_PROVIDER %q", c.Backend.Provider)
	}

	if c.Chat.MessageLimit < minMessageLimit {
		return fmt.Errorf("MESSAGE_LIMIT must be at least %d", minMessageLimit)
	}
	if c.Chat.ConversationTimeout < 0 || c.Chat.EditThrottleInterval < 0 || c.Backend.Timeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Chat.MaxMessageCount < 0 {
		return fmt.Errorf("MAX_MESSAGE_COUNT must not be negative")
	}
	return nil
}

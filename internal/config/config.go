// Package config provides environment configuration for the relay worker.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Development mode enables destructive admin operations.
	Development bool

	// Redis settings
	RedisURL string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Channel (outbound messaging API) settings
	ChannelBaseURL     string
	ChannelPhoneID     string
	ChannelAccessToken string
	WebhookVerifyToken string
	WebhookAppSecret   string

	// LLM settings
	OpenAIAPIKey    string
	AnthropicAPIKey string
	DefaultLLM      string
	Model           string
	MaxReplyTokens  int
	Temperature     float64
	PromptTokenCap  int
	PersonaFile     string

	// Conversation state
	HistoryTTL time.Duration
	CacheTTL   time.Duration

	// Outbound rate limiting
	SendLimit   int
	SendWindow  time.Duration
	SendMaxWait time.Duration

	// Delivery retry
	DeliveryAttempts int
	DeliveryBackoff  time.Duration

	// Job queue retry
	JobAttempts int
	JobBackoff  time.Duration

	// Webhook rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// JWT settings for the admin surface
	JWTSecret string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		Development:        getBoolEnv("DEVELOPMENT", false),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Channel
		ChannelBaseURL:     getEnv("CHANNEL_BASE_URL", "https://graph.facebook.com/v17.0"),
		ChannelPhoneID:     getEnv("CHANNEL_PHONE_ID", ""),
		ChannelAccessToken: getEnv("CHANNEL_ACCESS_TOKEN", ""),
		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		WebhookAppSecret:   getEnv("WEBHOOK_APP_SECRET", ""),

		// LLM
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "openai"),
		Model:           getEnv("LLM_MODEL", ""),
		MaxReplyTokens:  getIntEnv("LLM_MAX_REPLY_TOKENS", 1024),
		Temperature:     getFloatEnv("LLM_TEMPERATURE", 0.7),
		PromptTokenCap:  getIntEnv("LLM_PROMPT_TOKEN_CAP", 120000),
		PersonaFile:     getEnv("PERSONA_FILE", "persona.txt"),

		// Conversation state
		HistoryTTL: getDurationEnv("HISTORY_TTL", 24*time.Hour),
		CacheTTL:   getDurationEnv("COMPLETION_CACHE_TTL", time.Hour),

		// Outbound rate limiting
		SendLimit:   getIntEnv("SEND_LIMIT", 30),
		SendWindow:  getDurationEnv("SEND_WINDOW", time.Second),
		SendMaxWait: getDurationEnv("SEND_MAX_WAIT", 30*time.Second),

		// Delivery retry
		DeliveryAttempts: getIntEnv("DELIVERY_ATTEMPTS", 3),
		DeliveryBackoff:  getDurationEnv("DELIVERY_BACKOFF", time.Second),

		// Job queue retry
		JobAttempts: getIntEnv("JOB_ATTEMPTS", 3),
		JobBackoff:  getDurationEnv("JOB_BACKOFF", 2*time.Second),

		// Webhook rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

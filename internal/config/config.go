package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Gateway server
	GatewayHost string
	GatewayPort int

	// Ollama configuration
	OllamaBaseURL string
	OllamaAPIKey  string
	OllamaModel   string
	OllamaTimeout time.Duration

	// CLI bridge
	CLIWrapperPath      string
	ClaudeCodeContainer string
	Workspace           string
	CommandTimeout      time.Duration

	// Intent classification
	ConfidenceThreshold float64

	// Sessions
	SessionTimeout time.Duration

	// NATS intent endpoint (disabled when URL is empty)
	NatsURL     string
	NatsSubject string
	NatsTimeout time.Duration

	// Telegram bot (disabled when token is empty)
	TelegramBotToken string

	// Service configuration
	ServiceName string
}

func Load() (*Config, error) {
	workspace := getEnv("WORKSPACE", "")
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
		workspace = cwd
	}

	threshold := getFloatEnv("CONFIDENCE_THRESHOLD", 0.7)
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", threshold)
	}

	return &Config{
		// Gateway settings
		GatewayHost: getEnv("GATEWAY_HOST", "0.0.0.0"),
		GatewayPort: getIntEnv("GATEWAY_PORT", 18789),

		// Ollama settings
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "https://ollama.com"),
		OllamaAPIKey:  getEnv("OLLAMA_API_KEY", ""),
		OllamaModel:   getEnv("OLLAMA_MODEL", "gemini-3-flash-preview:cloud"),
		OllamaTimeout: getDurationEnv("OLLAMA_TIMEOUT", 2*time.Minute),

		// CLI bridge settings
		CLIWrapperPath:      getEnv("CLI_WRAPPER_PATH", "./server/scripts/claude-wrapper.sh"),
		ClaudeCodeContainer: getEnv("CLAUDE_CODE_CONTAINER", "claude-code-runner"),
		Workspace:           workspace,
		CommandTimeout:      getDurationEnv("COMMAND_TIMEOUT", 2*time.Minute),

		ConfidenceThreshold: threshold,

		SessionTimeout: getDurationEnv("SESSION_TIMEOUT", time.Hour),

		// NATS settings
		NatsURL:     getEnv("NATS_URL", ""),
		NatsSubject: getEnv("NATS_SUBJECT", "intent.classify"),
		NatsTimeout: getDurationEnv("NATS_TIMEOUT", 30*time.Second),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		// Service settings
		ServiceName: getEnv("SERVICE_NAME", "openclaw-gateway"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.GatewayHost)
	assert.Equal(t, 18789, cfg.GatewayPort)
	assert.Equal(t, "https://ollama.com", cfg.OllamaBaseURL)
	assert.Equal(t, 2*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, time.Hour, cfg.SessionTimeout)
	assert.Equal(t, "intent.classify", cfg.NatsSubject)
	assert.Equal(t, "openclaw-gateway", cfg.ServiceName)
	assert.NotEmpty(t, cfg.Workspace)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9000")
	t.Setenv("OLLAMA_MODEL", "llama3")
	t.Setenv("COMMAND_TIMEOUT", "45s")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("WORKSPACE", "/srv/workspace")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.GatewayPort)
	assert.Equal(t, "llama3", cfg.OllamaModel)
	assert.Equal(t, 45*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 0.85, cfg.ConfidenceThreshold)
	assert.Equal(t, "/srv/workspace", cfg.Workspace)
}

func TestLoadInvalidThreshold(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "1.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadMalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "not-a-number")
	t.Setenv("COMMAND_TIMEOUT", "soon")
	t.Setenv("CONFIDENCE_THRESHOLD", "high")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 18789, cfg.GatewayPort)
	assert.Equal(t, 2*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
}

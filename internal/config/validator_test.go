package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("sk-abc", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-abc", "openai"))
	assert.Error(t, v.ValidateAPIKey("abc", "openai"))
	assert.NoError(t, v.ValidateAPIKey("AIzaXYZ", "gemini"))
	assert.Error(t, v.ValidateAPIKey("", "gemini"))
}

func TestValidateEmbeddingDimension(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateEmbeddingDimension("models/embedding-001", 768))
	assert.Error(t, v.ValidateEmbeddingDimension("text-embedding-ada-002", 768))
	assert.NoError(t, v.ValidateEmbeddingDimension("custom-model", 42))
}

func TestValidateConfigCollectsWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{{ID: "a", Provider: "openai", APIKey: "bad"}}
	cfg.Agent.Temperature = 3
	cfg.Logging.Level = "trace"

	errs := NewValidator().ValidateConfig(cfg)
	assert.Len(t, errs, 3)
}

// Package embedding turns text into vectors through hosted embedding APIs.
package embedding

import (
	"context"
	"fmt"
)

// Embedder converts text to fixed-size vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// Config selects an embedder
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// Dimension is needed only for models missing from the known table.
	Dimension int
}

var knownDimensions = map[string]int{
	"text-embedding-ada-002":    1536,
	"text-embedding-3-small":    1536,
	"text-embedding-3-large":    3072,
	"models/embedding-001":      768,
	"embedding-001":             768,
	"models/text-embedding-004": 768,
	"text-embedding-004":        768,
}

// DimensionOf returns the vector size of a known model, or 0
func DimensionOf(model string) int {
	return knownDimensions[model]
}

// DefaultModel returns the model used when a provider is given without one
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return "text-embedding-ada-002"
	case "gemini":
		return "models/embedding-001"
	}
	return ""
}

// New creates the embedder for cfg.Provider
func New(ctx context.Context, cfg Config) (Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, Dimension: cfg.Dimension}), nil
	case "gemini":
		return NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, Dimension: cfg.Dimension})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the OpenAI embedder
type OpenAIConfig struct {
	APIKey string
	Model  string
	// Dimension overrides the size of models not in the known table.
	Dimension int
	Options   []option.RequestOption
}

// OpenAI embeds text with the OpenAI embeddings API
type OpenAI struct {
	api       openai.Client
	model     string
	dimension int
}

// NewOpenAI creates an OpenAI embedder
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel("openai")
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DimensionOf(cfg.Model)
	}
	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	return &OpenAI{
		api:       openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

func (e *OpenAI) Model() string  { return e.model }
func (e *OpenAI) Dimension() int { return e.dimension }

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = toFloat32(d.Embedding)
	}
	return out, nil
}

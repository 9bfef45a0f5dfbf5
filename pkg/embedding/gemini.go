package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// geminiBatchLimit is the most contents one embed request may carry
const geminiBatchLimit = 100

// GeminiConfig configures the Gemini embedder
type GeminiConfig struct {
	APIKey    string
	Model     string
	Dimension int
	// BaseURL points the client at another endpoint, such as a test server.
	BaseURL string
}

// Gemini embeds text with the Gemini API
type Gemini struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGemini creates a Gemini embedder
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel("gemini")
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DimensionOf(cfg.Model)
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

func (e *Gemini) Model() string  { return e.model }
func (e *Gemini) Dimension() int { return e.dimension }

func (e *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("gemini embeddings failed: %w", err)
		}
		if len(resp.Embeddings) != len(contents) {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(contents))
		}
		for _, emb := range resp.Embeddings {
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
	"google.golang.org/genai"
)

// Gemini implements LLM on the Gemini API
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini provider
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Name returns the provider name
func (p *Gemini) Name() string {
	return "gemini"
}

// Generate calls GenerateContent
func (p *Gemini) Generate(ctx context.Context, req *Request) (*Response, error) {
	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = geminiTools(req.Tools)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, geminiContents(req.Contents), config)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	content := &session.Content{Role: session.RoleModel}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			content.Parts = append(content.Parts, &session.Part{
				FunctionCall: &session.FunctionCall{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				},
			})
		case part.Text != "" && !part.Thought:
			content.Parts = append(content.Parts, &session.Part{Text: part.Text})
		}
	}

	out := &Response{Content: content}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func geminiContents(contents []*session.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		if c == nil {
			continue
		}
		role := "user"
		if c.Role == session.RoleModel {
			role = "model"
		}
		gc := &genai.Content{Role: role}
		for _, p := range c.Parts {
			if p == nil {
				continue
			}
			switch {
			case p.FunctionCall != nil:
				gc.Parts = append(gc.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				gc.Parts = append(gc.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}})
			case p.Text != "":
				gc.Parts = append(gc.Parts, &genai.Part{Text: p.Text})
			}
		}
		if len(gc.Parts) > 0 {
			out = append(out, gc)
		}
	}
	return out
}

func geminiTools(decls []*tool.Declaration) []*genai.Tool {
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  geminiSchema(d.JSONSchema()),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

// geminiSchema converts a JSON schema object into the Gemini subset of
// OpenAPI schema. Keywords Gemini rejects are dropped.
func geminiSchema(s map[string]any) *genai.Schema {
	out := &genai.Schema{Type: geminiType(s["type"])}
	if d, ok := s["description"].(string); ok {
		out.Description = d
	}
	switch enum := s["enum"].(type) {
	case []string:
		out.Enum = enum
	case []any:
		for _, v := range enum {
			out.Enum = append(out.Enum, fmt.Sprint(v))
		}
	}
	if props, ok := s["properties"].(map[string]any); ok && len(props) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if ps, ok := raw.(map[string]any); ok {
				out.Properties[name] = geminiSchema(ps)
			}
		}
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	}
	if req := requiredNames(s["required"]); len(req) > 0 {
		out.Required = req
	}
	return out
}

func geminiType(v any) genai.Type {
	t, _ := v.(string)
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

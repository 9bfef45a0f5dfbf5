package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic implements LLM on the Claude messages API
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates an Anthropic provider
func NewAnthropic(apiKey string, opts ...option.RequestOption) *Anthropic {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

// Name returns the provider name
func (p *Anthropic) Name() string {
	return "anthropic"
}

// Generate calls the messages API
func (p *Anthropic) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages, err := anthropicMessages(req.Contents)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	content := &session.Content{Role: session.RoleModel}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.Parts = append(content.Parts, &session.Part{Text: b.Text})
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if raw := b.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return nil, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			content.Parts = append(content.Parts, &session.Part{
				FunctionCall: &session.FunctionCall{ID: b.ID, Name: b.Name, Args: args},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content: content,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func anthropicMessages(contents []*session.Content) ([]anthropic.MessageParam, error) {
	messages := []anthropic.MessageParam{}
	for _, c := range contents {
		text, calls, responses := splitContent(c)
		blocks := []anthropic.ContentBlockParamUnion{}

		for _, r := range responses {
			body, err := json.Marshal(r.Response)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool response: %w", err)
			}
			_, isErr := r.Response["error"]
			blocks = append(blocks, anthropic.NewToolResultBlock(callID(r.ID, r.Name), string(body), isErr))
		}
		if text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		for _, fc := range calls {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(callID(fc.ID, fc.Name), args, fc.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		if c.Role == session.RoleModel {
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages, nil
}

func anthropicTools(decls []*tool.Declaration) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		schema := d.JSONSchema()
		param := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   requiredNames(schema["required"]),
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &param})
	}
	return tools
}

// requiredNames accepts both generated and decoded JSON schema lists
func requiredNames(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, item := range r {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

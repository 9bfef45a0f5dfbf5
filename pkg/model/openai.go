package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements LLM on the chat completions API
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates an OpenAI provider. Extra options are passed to the
// client, which lets tests point it at a local server.
func NewOpenAI(apiKey string, opts ...option.RequestOption) *OpenAI {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{client: openai.NewClient(opts...)}
}

// Name returns the provider name
func (p *OpenAI) Name() string {
	return "openai"
}

// Generate calls chat completions
func (p *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages, err := openAIMessages(req)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = openAITools(req.Tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	msg := resp.Choices[0].Message
	content := &session.Content{Role: session.RoleModel}
	if msg.Content != "" {
		content.Parts = append(content.Parts, &session.Part{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		content.Parts = append(content.Parts, &session.Part{
			FunctionCall: &session.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args},
		})
	}

	return &Response{
		Content: content,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func openAIMessages(req *Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}

	for _, c := range req.Contents {
		text, calls, responses := splitContent(c)

		// Tool results travel as one tool message per call
		for _, r := range responses {
			body, err := json.Marshal(r.Response)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool response: %w", err)
			}
			messages = append(messages, openai.ToolMessage(string(body), callID(r.ID, r.Name)))
		}

		switch {
		case c.Role == session.RoleModel && len(calls) > 0:
			toolCalls := []openai.ChatCompletionMessageToolCall{}
			for _, fc := range calls {
				args, err := json.Marshal(fc.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   callID(fc.ID, fc.Name),
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      fc.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   text,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		case c.Role == session.RoleModel && text != "":
			messages = append(messages, openai.AssistantMessage(text))
		case text != "":
			messages = append(messages, openai.UserMessage(text))
		}
	}
	return messages, nil
}

func openAITools(decls []*tool.Declaration) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, d := range decls {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.JSONSchema()),
			},
		})
	}
	return tools
}

// callID fills in an id for providers that require one on every call
func callID(id, name string) string {
	if id != "" {
		return id
	}
	return "call_" + name
}

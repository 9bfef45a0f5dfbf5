// Package model talks to hosted LLM APIs. Every provider maps the session
// content types onto its own wire format so agents never see SDK types.
package model

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
)

// LLM generates the next model message for a conversation
type LLM interface {
	// Name returns the provider name
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is one generation call
type Request struct {
	Model             string
	SystemInstruction string
	Contents          []*session.Content
	Tools             []*tool.Declaration
	Temperature       float64
	MaxTokens         int
}

// Response is the model's reply. Content always has the model role.
type Response struct {
	Content *session.Content
	Usage   Usage
}

// Usage reports token counts for a call
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ErrEmptyResponse is returned when a provider answers without any candidate
var ErrEmptyResponse = errors.New("model returned no content")

// IsRetryableError reports whether a failed call may succeed if repeated
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset", "timeout",
		"429", "rate limit", "resource_exhausted", "overloaded",
		"500", "502", "503", "504", "unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// splitContent separates text, function calls and function responses
func splitContent(c *session.Content) (string, []*session.FunctionCall, []*session.FunctionResponse) {
	if c == nil {
		return "", nil, nil
	}
	var (
		text      strings.Builder
		calls     []*session.FunctionCall
		responses []*session.FunctionResponse
	)
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			calls = append(calls, p.FunctionCall)
		case p.FunctionResponse != nil:
			responses = append(responses, p.FunctionResponse)
		default:
			text.WriteString(p.Text)
		}
	}
	return text.String(), calls, responses
}

// DefaultModel is the model asked of a provider when none is configured
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o"
	case "anthropic":
		return "claude-sonnet-4"
	case "gemini":
		return "gemini-2.0-flash"
	}
	return ""
}

// ProviderOf guesses the provider serving a model name, or "" when unknown
func ProviderOf(modelName string) string {
	name := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(name, "gpt-"), strings.HasPrefix(name, "o1"), strings.HasPrefix(name, "o3"), strings.HasPrefix(name, "o4"):
		return "openai"
	case strings.HasPrefix(name, "claude"):
		return "anthropic"
	case strings.HasPrefix(name, "gemini"), strings.HasPrefix(name, "models/gemini"):
		return "gemini"
	}
	return ""
}

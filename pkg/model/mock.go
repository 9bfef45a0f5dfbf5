package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/agentlab/pkg/session"
)

// Mock is a scripted LLM for tests. Each Generate call consumes the next
// response or error in order and records the request it was given.
type Mock struct {
	mu        sync.Mutex
	name      string
	responses []*Response
	errs      []error
	requests  []*Request
}

// NewMock creates a Mock that answers with responses in order
func NewMock(responses ...*Response) *Mock {
	return &Mock{name: "mock", responses: responses}
}

// FailWith queues errors returned before any queued response
func (m *Mock) FailWith(errs ...error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

func (m *Mock) Name() string {
	return m.name
}

func (m *Mock) Generate(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock: no response queued for call %d", len(m.requests))
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// Requests returns every request received so far
func (m *Mock) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Request(nil), m.requests...)
}

// TextResponse is a model reply carrying only text
func TextResponse(text string) *Response {
	return &Response{Content: session.NewModelContent(text)}
}

// CallResponse is a model reply requesting one function call
func CallResponse(id, name string, args map[string]any) *Response {
	return &Response{Content: &session.Content{
		Role:  session.RoleModel,
		Parts: []*session.Part{{FunctionCall: &session.FunctionCall{ID: id, Name: name, Args: args}}},
	}}
}

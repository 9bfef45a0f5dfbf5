package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestFailover(t *testing.T, profiles []Profile, llms map[string]LLM, clock *fakeClock) *Failover {
	t.Helper()

	f, err := NewFailover(FailoverConfig{
		Profiles: profiles,
		Factory: FactoryFunc(func(ctx context.Context, p Profile) (LLM, error) {
			llm, ok := llms[p.ID]
			if !ok {
				return nil, fmt.Errorf("no provider for %s", p.ID)
			}
			return llm, nil
		}),
		InitialInterval: time.Millisecond,
		Logger:          zerolog.Nop(),
		Now:             clock.Now,
	})
	require.NoError(t, err)
	return f
}

func TestNewFailover_RequiresProfiles(t *testing.T) {
	_, err := NewFailover(FailoverConfig{})
	assert.Error(t, err)
}

func TestFailover_PriorityOrder(t *testing.T) {
	high := NewMock(TextResponse("from high"))
	low := NewMock(TextResponse("from low"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{
		{ID: "low", Provider: "openai", Priority: 2},
		{ID: "high", Provider: "gemini", Priority: 0},
	}, map[string]LLM{"low": low, "high": high}, clock)

	assert.Equal(t, "gemini", f.Name())

	resp, err := f.Generate(context.Background(), &Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "from high", resp.Content.Parts[0].Text)
	assert.Len(t, high.Requests(), 1)
	assert.Empty(t, low.Requests())
}

func TestFailover_RetriesRetryableErrors(t *testing.T) {
	llm := NewMock(TextResponse("ok")).FailWith(errors.New("status 503"), errors.New("rate limit exceeded"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{{ID: "p", Provider: "openai"}}, map[string]LLM{"p": llm}, clock)

	resp, err := f.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content.Parts[0].Text)
	assert.Len(t, llm.Requests(), 3)
}

func TestFailover_FailsOverAfterRetriesExhausted(t *testing.T) {
	first := NewMock().FailWith(errors.New("503"), errors.New("503"), errors.New("503"))
	second := NewMock(TextResponse("second"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{
		{ID: "first", Provider: "openai", Priority: 0},
		{ID: "second", Provider: "anthropic", Priority: 1},
	}, map[string]LLM{"first": first, "second": second}, clock)

	resp, err := f.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content.Parts[0].Text)
	assert.Len(t, first.Requests(), DefaultMaxRetries)

	// first is now cooling down and is skipped
	second2 := NewMock(TextResponse("again"))
	f.profiles[1].llm = second2
	_, err = f.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Len(t, first.Requests(), DefaultMaxRetries)
	assert.Len(t, second2.Requests(), 1)
}

func TestFailover_PermanentErrorStops(t *testing.T) {
	first := NewMock().FailWith(errors.New("invalid api key"))
	second := NewMock(TextResponse("unused"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{
		{ID: "first", Priority: 0},
		{ID: "second", Priority: 1},
	}, map[string]LLM{"first": first, "second": second}, clock)

	_, err := f.Generate(context.Background(), &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Len(t, first.Requests(), 1)
	assert.Empty(t, second.Requests())
}

func TestFailover_CooldownGrowsWithFailures(t *testing.T) {
	llm := NewMock().FailWith(errors.New("503"), errors.New("503"), errors.New("503"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{{ID: "only"}}, map[string]LLM{"only": llm}, clock)

	_, err := f.Generate(context.Background(), &Request{})
	require.Error(t, err)

	_, err = f.Generate(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrNoProfileAvailable)

	clock.now = clock.now.Add(DefaultCooldown + time.Second)
	llm.FailWith(errors.New("503"), errors.New("503"), errors.New("503"))
	_, err = f.Generate(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, 2, f.profiles[0].failures)
	assert.Equal(t, clock.now.Add(2*DefaultCooldown), f.profiles[0].cooldownUntil)
}

func TestFailover_SuccessResetsFailures(t *testing.T) {
	llm := NewMock(TextResponse("ok"), TextResponse("ok")).FailWith(errors.New("503"), errors.New("503"), errors.New("503"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{{ID: "only"}}, map[string]LLM{"only": llm}, clock)

	_, err := f.Generate(context.Background(), &Request{})
	require.Error(t, err)
	clock.now = clock.now.Add(2 * DefaultCooldown)

	_, err = f.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Zero(t, f.profiles[0].failures)
	assert.True(t, f.profiles[0].cooldownUntil.IsZero())
}

func TestFailover_ProviderCreationErrorTriesNext(t *testing.T) {
	second := NewMock(TextResponse("ok"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{
		{ID: "missing", Priority: 0},
		{ID: "second", Priority: 1},
	}, map[string]LLM{"second": second}, clock)

	resp, err := f.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content.Parts[0].Text)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("Rate limit reached"), true},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("read: connection reset by peer"), true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{errors.New("401 Unauthorized"), false},
		{errors.New("invalid request"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestProviderFactory_UnknownProvider(t *testing.T) {
	_, err := ProviderFactory{}.New(context.Background(), Profile{Provider: "cohere"})
	assert.Error(t, err)

	llm, err := ProviderFactory{}.New(context.Background(), Profile{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", llm.Name())
}

func TestFailover_ProfileModelOverride(t *testing.T) {
	primary := NewMock().FailWith(errors.New("503"), errors.New("503"), errors.New("503"))
	fallback := NewMock(TextResponse("from claude"))
	clock := &fakeClock{now: time.Now()}

	f := newTestFailover(t, []Profile{
		{ID: "gemini", Provider: "gemini", Priority: 0},
		{ID: "anthropic", Provider: "anthropic", Priority: 1, Model: "claude-sonnet-4"},
	}, map[string]LLM{"gemini": primary, "anthropic": fallback}, clock)

	req := &Request{Model: "gemini-2.0-flash"}
	_, err := f.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-flash", primary.Requests()[0].Model)
	assert.Equal(t, "claude-sonnet-4", fallback.Requests()[0].Model)
	// the caller's request is left alone
	assert.Equal(t, "gemini-2.0-flash", req.Model)
}

func TestProviderOf(t *testing.T) {
	assert.Equal(t, "openai", ProviderOf("gpt-3.5-turbo"))
	assert.Equal(t, "anthropic", ProviderOf("claude-sonnet-4"))
	assert.Equal(t, "gemini", ProviderOf("gemini-2.5-flash"))
	assert.Equal(t, "", ProviderOf("llama3"))
	assert.Equal(t, "gpt-4o", DefaultModel("openai"))
}

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimensionOf(t *testing.T) {
	assert.Equal(t, 1536, DimensionOf("text-embedding-ada-002"))
	assert.Equal(t, 3072, DimensionOf("text-embedding-3-large"))
	assert.Equal(t, 768, DimensionOf("models/embedding-001"))
	assert.Zero(t, DimensionOf("unknown"))
}

func TestNew(t *testing.T) {
	e, err := New(context.Background(), Config{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", e.Model())
	assert.Equal(t, 1536, e.Dimension())

	_, err = New(context.Background(), Config{Provider: "cohere"})
	assert.Error(t, err)
}

func TestOpenAI_EmbedBatch(t *testing.T) {
	var gotModel string
	var gotInput []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, gotInput = body.Model, body.Input

		// answer out of order to check index handling
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object": "list", "model": "text-embedding-ada-002", "data": [
			{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]},
			{"object": "embedding", "index": 0, "embedding": [1.0, 0.0]}
		], "usage": {"prompt_tokens": 2, "total_tokens": 2}}`)
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{
		APIKey:  "sk-test",
		Options: []option.RequestOption{option.WithBaseURL(srv.URL), option.WithMaxRetries(0)},
	})

	out, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", gotModel)
	assert.Equal(t, []string{"first", "second"}, gotInput)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)

	empty, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenAI_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object": "list", "data": []}`)
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{
		APIKey:  "sk-test",
		Options: []option.RequestOption{option.WithBaseURL(srv.URL), option.WithMaxRetries(0)},
	})
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestGemini_EmbedBatch(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body struct {
			Requests []json.RawMessage `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		n := max(len(body.Requests), 1)

		values := make([]string, n)
		for i := range values {
			values[i] = fmt.Sprintf(`{"values": [%d, 0.5]}`, i)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"embeddings": [%s], "embedding": {"values": [0, 0.5]}}`, strings.Join(values, ","))
	}))
	defer srv.Close()

	e, err := NewGemini(context.Background(), GeminiConfig{APIKey: "AIza-test", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "models/embedding-001", e.Model())
	assert.Equal(t, 768, e.Dimension())

	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{1, 0.5}, out[1])
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[0], "embedding-001")
}

func TestMock(t *testing.T) {
	m := NewMock(16)
	a, err := m.Embed(context.Background(), "vector databases store embeddings")
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), "vector databases store embeddings")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.Equal(t, 2, m.Calls())

	m.FailWith(errors.New("quota"))
	_, err = m.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}

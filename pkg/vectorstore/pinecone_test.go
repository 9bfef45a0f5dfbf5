package vectorstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinecone serves both planes of the Pinecone API from one server
type fakePinecone struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	indexes  map[string]pineconeIndex
	upserts  []map[string]any
	deletes  []map[string]any
	queries  []map[string]any
	failNext int
}

func newFakePinecone(t *testing.T) *fakePinecone {
	f := &fakePinecone{t: t, indexes: map[string]pineconeIndex{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePinecone) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	assert.Equal(f.t, "pc-test", r.Header.Get("Api-Key"))
	assert.Equal(f.t, PineconeAPIVersion, r.Header.Get("X-Pinecone-API-Version"))

	if f.failNext > 0 {
		f.failNext--
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": {"code": "UNAVAILABLE", "message": "try again"}}`)
		return
	}

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/indexes":
		list := make([]pineconeIndex, 0, len(f.indexes))
		for _, idx := range f.indexes {
			list = append(list, idx)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"indexes": list})

	case r.Method == http.MethodPost && r.URL.Path == "/indexes":
		name := body["name"].(string)
		if _, ok := f.indexes[name]; ok {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error": {"code": "ALREADY_EXISTS", "message": "Resource already exists"}}`)
			return
		}
		idx := pineconeIndex{Name: name, Dimension: int(body["dimension"].(float64)), Metric: body["metric"].(string), Host: f.srv.URL}
		idx.Status.Ready = true
		f.indexes[name] = idx
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(idx)

	case r.Method == http.MethodGet && len(r.URL.Path) > len("/indexes/"):
		idx, ok := f.indexes[r.URL.Path[len("/indexes/"):]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error": {"code": "NOT_FOUND", "message": "Resource not found"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(idx)

	case r.URL.Path == "/vectors/upsert":
		f.upserts = append(f.upserts, body)
		vectors := body["vectors"].([]any)
		_ = json.NewEncoder(w).Encode(map[string]any{"upsertedCount": len(vectors)})

	case r.URL.Path == "/vectors/delete":
		f.deletes = append(f.deletes, body)
		if body["namespace"] == "unknown" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code": 5, "message": "Namespace not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)

	case r.URL.Path == "/query":
		f.queries = append(f.queries, body)
		_, _ = io.WriteString(w, `{"matches": [
			{"id": "doc_1", "score": 0.92, "metadata": {"text": "best"}},
			{"id": "doc_0", "score": 0.41, "metadata": {"text": "worse"}}
		], "namespace": ""}`)

	case r.URL.Path == "/describe_index_stats":
		_, _ = io.WriteString(w, `{"namespaces": {"": {"vectorCount": 7}}, "dimension": 1536, "totalVectorCount": 7}`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestPinecone(t *testing.T, f *fakePinecone) *Pinecone {
	t.Helper()
	p, err := NewPinecone(PineconeConfig{APIKey: "pc-test", ControlURL: f.srv.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return p
}

func TestNewPinecone_RequiresKey(t *testing.T) {
	_, err := NewPinecone(PineconeConfig{})
	assert.Error(t, err)
}

func TestPinecone_CreateAndList(t *testing.T) {
	f := newFakePinecone(t)
	p := newTestPinecone(t, f)
	ctx := context.Background()

	exists, err := IndexExists(ctx, p, "langchain-test-index")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, p.CreateIndex(ctx, IndexSpec{Name: "langchain-test-index", Dimension: 1536, Metric: MetricCosine}))

	err = p.CreateIndex(ctx, IndexSpec{Name: "langchain-test-index", Dimension: 1536, Metric: MetricCosine})
	assert.ErrorIs(t, err, ErrIndexExists)

	indexes, err := p.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, 1536, indexes[0].Dimension)
	assert.True(t, indexes[0].Ready)
}

func TestPinecone_DescribeMissing(t *testing.T) {
	f := newFakePinecone(t)
	p := newTestPinecone(t, f)

	_, err := p.DescribeIndex(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.True(t, IsNotFound(err))

	_, err = p.Query(context.Background(), "nope", QueryRequest{Vector: []float32{1}, TopK: 1})
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestPinecone_UpsertAndQuery(t *testing.T) {
	f := newFakePinecone(t)
	p := newTestPinecone(t, f)
	ctx := context.Background()
	require.NoError(t, p.CreateIndex(ctx, IndexSpec{Name: "docs", Dimension: 2, Metric: MetricCosine}))

	n, err := p.Upsert(ctx, "docs", "ns1", []Vector{
		{ID: "doc_0", Values: []float32{1, 0}, Metadata: map[string]any{"text": "a"}},
		{ID: "doc_1", Values: []float32{0, 1}, Metadata: map[string]any{"text": "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, f.upserts, 1)
	assert.Equal(t, "ns1", f.upserts[0]["namespace"])

	matches, err := p.Query(ctx, "docs", QueryRequest{Vector: []float32{0, 1}, TopK: 2, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc_1", matches[0].ID)
	assert.InDelta(t, 0.92, matches[0].Score, 1e-6)
	assert.Equal(t, "best", matches[0].Metadata["text"])

	require.Len(t, f.queries, 1)
	assert.Equal(t, float64(2), f.queries[0]["topK"])
	assert.Equal(t, true, f.queries[0]["includeMetadata"])

	stats, err := p.DescribeIndexStats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalVectorCount)
	assert.Equal(t, 7, stats.Namespaces[""].VectorCount)
}

func TestPinecone_DeleteVectors(t *testing.T) {
	f := newFakePinecone(t)
	p := newTestPinecone(t, f)
	ctx := context.Background()
	require.NoError(t, p.CreateIndex(ctx, IndexSpec{Name: "docs", Dimension: 2, Metric: MetricCosine}))

	require.NoError(t, p.DeleteVectors(ctx, "docs", "ns1", []string{"doc_3", "doc_4"}))
	require.NoError(t, p.DeleteVectors(ctx, "docs", "ns1", nil))
	require.NoError(t, p.DeleteVectors(ctx, "docs", "unknown", nil))

	require.Len(t, f.deletes, 3)
	assert.Equal(t, []any{"doc_3", "doc_4"}, f.deletes[0]["ids"])
	assert.NotContains(t, f.deletes[0], "deleteAll")
	assert.Equal(t, true, f.deletes[1]["deleteAll"])
	assert.Equal(t, "ns1", f.deletes[1]["namespace"])

	err := p.DeleteVectors(ctx, "nope", "", nil)
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestPinecone_UpsertBatches(t *testing.T) {
	f := newFakePinecone(t)
	p := newTestPinecone(t, f)
	ctx := context.Background()
	require.NoError(t, p.CreateIndex(ctx, IndexSpec{Name: "docs", Dimension: 1, Metric: MetricCosine}))

	vectors := make([]Vector, 250)
	for i := range vectors {
		vectors[i] = Vector{ID: string(rune('a'+i%26)) + string(rune('0'+i/26)), Values: []float32{1}}
	}
	n, err := p.Upsert(ctx, "docs", "", vectors)
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.Len(t, f.upserts, 3)
}

func TestPinecone_RetriesUnavailable(t *testing.T) {
	f := newFakePinecone(t)
	p := newTestPinecone(t, f)

	f.failNext = 1
	indexes, err := p.ListIndexes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 404, Message: "Resource not found"}
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.Contains(t, err.Error(), "404")
	assert.False(t, err.retryable())
	assert.True(t, (&APIError{StatusCode: 429}).retryable())
	assert.Equal(t, "boom", errorMessage([]byte(`{"message": "boom"}`)))
	assert.Equal(t, "plain", errorMessage([]byte("plain")))
}

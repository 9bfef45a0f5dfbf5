// Package rag chunks documents, embeds the chunks and keeps them in a
// vector index so agents can retrieve the passages nearest a query.
package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentlab/internal/observability"
	"github.com/harun/agentlab/internal/tracing"
	"github.com/harun/agentlab/pkg/embedding"
	"github.com/harun/agentlab/pkg/vectorstore"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
	DefaultTopK         = 3
	// TextKey is the metadata field holding a chunk's text.
	TextKey = "text"
)

// Config configures a Pipeline
type Config struct {
	Store     vectorstore.Store
	Embedder  embedding.Embedder
	Index     string
	Namespace string
	// ChunkSize and ChunkOverlap are measured in characters.
	ChunkSize    int
	ChunkOverlap int
	Logger       zerolog.Logger
}

// Pipeline ingests text into one index namespace and retrieves from it
type Pipeline struct {
	store     vectorstore.Store
	embedder  embedding.Embedder
	index     string
	namespace string
	splitter  textsplitter.RecursiveCharacter
	logger    zerolog.Logger
}

// Result is one retrieved chunk
type Result struct {
	ID    string
	Score float32
	Text  string
	// Metadata holds the stored metadata when it has no text field.
	Metadata map[string]any
}

// New creates a Pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	observability.EnsureRegistered()

	return &Pipeline{
		store:     cfg.Store,
		embedder:  cfg.Embedder,
		index:     cfg.Index,
		namespace: cfg.Namespace,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		logger: cfg.Logger.With().
			Str("component", "rag").
			Str("index", cfg.Index).
			Str("namespace", cfg.Namespace).
			Logger(),
	}, nil
}

func (p *Pipeline) Index() string     { return p.index }
func (p *Pipeline) Namespace() string { return p.namespace }

// EnsureIndex creates the pipeline's index when it does not exist yet and
// reports whether it did. The index dimension follows the embedder.
func (p *Pipeline) EnsureIndex(ctx context.Context, metric, cloud, region string) (bool, error) {
	exists, err := vectorstore.IndexExists(ctx, p.store, p.index)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if metric == "" {
		metric = vectorstore.MetricCosine
	}
	err = p.store.CreateIndex(ctx, vectorstore.IndexSpec{
		Name:      p.index,
		Dimension: p.embedder.Dimension(),
		Metric:    metric,
		Cloud:     cloud,
		Region:    region,
	})
	if errors.Is(err, vectorstore.ErrIndexExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Split chunks text the way Ingest does
func (p *Pipeline) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	split, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}
	chunks := split[:0]
	for _, c := range split {
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// Ingest splits text into chunks, embeds them and upserts them as doc_<i>
// with the chunk text as metadata. The namespace holds one document, so the
// previous contents are cleared once the new chunks are embedded. It returns
// the number of chunks stored.
func (p *Pipeline) Ingest(ctx context.Context, text string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "agentlab.rag", "rag.ingest",
		attribute.String("index", p.index),
		attribute.Int("text_length", len(text)),
	)
	defer span.End()

	chunks, err := p.Split(text)
	if err != nil {
		tracing.FailSpan(span, err)
		return 0, err
	}
	if len(chunks) == 0 {
		p.logger.Warn().Msg("Nothing to ingest")
		return 0, nil
	}

	start := time.Now()
	embeddings, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		tracing.FailSpan(span, err)
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
		tracing.FailSpan(span, err)
		return 0, err
	}

	vectors := make([]vectorstore.Vector, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = vectorstore.Vector{
			ID:       ChunkID(i),
			Values:   embeddings[i],
			Metadata: map[string]any{TextKey: chunk},
		}
	}

	if err := p.store.DeleteVectors(ctx, p.index, p.namespace, nil); err != nil {
		tracing.FailSpan(span, err)
		return 0, fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	n, err := p.store.Upsert(ctx, p.index, p.namespace, vectors)
	if err != nil {
		tracing.FailSpan(span, err)
		return 0, err
	}
	observability.AddChunksIngested(n)

	p.logger.Info().
		Int("chunks", len(chunks)).
		Int("upserted", n).
		Dur("duration", time.Since(start)).
		Msg("Document ingested")
	return n, nil
}

// IngestFile reads a file and ingests its contents
func (p *Pipeline) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return p.Ingest(ctx, string(data))
}

// Retrieve embeds query and returns the topK nearest chunks, best first
func (p *Pipeline) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, span := tracing.StartSpan(ctx, "agentlab.rag", "rag.retrieve",
		attribute.String("index", p.index),
		attribute.Int("top_k", topK),
	)
	defer span.End()

	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := p.store.Query(ctx, p.index, vectorstore.QueryRequest{
		Vector:          vec,
		TopK:            topK,
		Namespace:       p.namespace,
		IncludeMetadata: true,
	})
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		r := Result{ID: m.ID, Score: m.Score}
		if text, ok := m.Metadata[TextKey].(string); ok {
			r.Text = text
		} else {
			r.Metadata = m.Metadata
		}
		results = append(results, r)
	}

	p.logger.Debug().Int("results", len(results)).Msg("Retrieved chunks")
	return results, nil
}

// Stats describes the pipeline's index
func (p *Pipeline) Stats(ctx context.Context) (*vectorstore.IndexStats, error) {
	return p.store.DescribeIndexStats(ctx, p.index)
}

// ChunkID names the i-th chunk of a document
func ChunkID(i int) string {
	return fmt.Sprintf("doc_%d", i)
}

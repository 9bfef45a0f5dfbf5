// Package vectorstore stores embedding vectors in named indexes and
// answers nearest-neighbour queries. Pinecone is the hosted backend and
// SQLiteVec keeps an index in a local SQLite file.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/harun/agentlab/internal/observability"
)

const (
	MetricCosine     = "cosine"
	MetricEuclidean  = "euclidean"
	MetricDotProduct = "dotproduct"
)

var (
	ErrIndexNotFound      = errors.New("index not found")
	ErrIndexExists        = errors.New("index already exists")
	ErrDimensionMismatch  = errors.New("vector dimension does not match index")
	ErrUnsupportedMetric  = errors.New("unsupported metric")
	ErrInvalidIndexConfig = errors.New("invalid index configuration")
)

// IndexSpec describes an index to create
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    string
	Cloud     string
	Region    string
}

// IndexDescription is an existing index
type IndexDescription struct {
	Name      string
	Dimension int
	Metric    string
	Host      string
	Ready     bool
}

// NamespaceStats counts the vectors of one namespace
type NamespaceStats struct {
	VectorCount int `json:"vectorCount"`
}

// IndexStats summarizes an index's contents
type IndexStats struct {
	Dimension        int                       `json:"dimension"`
	TotalVectorCount int                       `json:"totalVectorCount"`
	Namespaces       map[string]NamespaceStats `json:"namespaces"`
}

// Vector is one record: an id, its values and optional metadata
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryRequest asks for the TopK vectors nearest to Vector
type QueryRequest struct {
	Vector          []float32
	TopK            int
	Namespace       string
	IncludeMetadata bool
	IncludeValues   bool
}

// Match is a query result. Higher scores are closer.
type Match struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store is a vector index service
type Store interface {
	ListIndexes(ctx context.Context) ([]IndexDescription, error)
	CreateIndex(ctx context.Context, spec IndexSpec) error
	DescribeIndex(ctx context.Context, name string) (*IndexDescription, error)
	DescribeIndexStats(ctx context.Context, name string) (*IndexStats, error)
	DeleteIndex(ctx context.Context, name string) error
	// Upsert inserts or replaces vectors by id and returns how many were written.
	Upsert(ctx context.Context, index, namespace string, vectors []Vector) (int, error)
	// DeleteVectors removes ids from a namespace, or every vector of the
	// namespace when ids is empty. Missing ids and namespaces are not errors.
	DeleteVectors(ctx context.Context, index, namespace string, ids []string) error
	// Query returns matches ranked by score, best first.
	Query(ctx context.Context, index string, req QueryRequest) ([]Match, error)
	Close() error
}

var indexName = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,43}[a-z0-9])?$`)

// ValidateSpec checks an index spec before creation
func ValidateSpec(spec IndexSpec) error {
	if !indexName.MatchString(spec.Name) {
		return fmt.Errorf("%w: name %q must be 1-45 lowercase letters, digits or hyphens", ErrInvalidIndexConfig, spec.Name)
	}
	if spec.Dimension <= 0 || spec.Dimension > 20000 {
		return fmt.Errorf("%w: dimension %d out of range", ErrInvalidIndexConfig, spec.Dimension)
	}
	switch spec.Metric {
	case MetricCosine, MetricEuclidean, MetricDotProduct:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMetric, spec.Metric)
	}
	return nil
}

// IndexExists reports whether name is among the store's indexes
func IndexExists(ctx context.Context, s Store, name string) (bool, error) {
	indexes, err := s.ListIndexes(ctx)
	if err != nil {
		return false, err
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func checkVectors(dimension int, vectors []Vector) error {
	for _, v := range vectors {
		if v.ID == "" {
			return fmt.Errorf("vector id cannot be empty")
		}
		if len(v.Values) != dimension {
			return fmt.Errorf("%w: %s has %d values, index has %d", ErrDimensionMismatch, v.ID, len(v.Values), dimension)
		}
	}
	return nil
}

func checkQuery(dimension int, req QueryRequest) error {
	if req.TopK <= 0 {
		return fmt.Errorf("topK must be positive")
	}
	if len(req.Vector) != dimension {
		return fmt.Errorf("%w: query has %d values, index has %d", ErrDimensionMismatch, len(req.Vector), dimension)
	}
	return nil
}

// record is deferred with a pointer to the caller's named error
func record(backend, op string, start time.Time, err *error) {
	observability.RecordVectorOperation(backend, op, time.Since(start), *err == nil)
}

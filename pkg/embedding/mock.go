package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Mock is a deterministic embedder for tests. Texts sharing words get
// similar vectors, so nearest-neighbour queries behave sensibly.
type Mock struct {
	mu        sync.Mutex
	dimension int
	calls     int
	err       error
}

// NewMock creates a Mock producing vectors of the given size
func NewMock(dimension int) *Mock {
	return &Mock{dimension: dimension}
}

// FailWith makes every following call return err
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Embed and EmbedBatch calls made
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Model() string  { return "mock" }
func (m *Mock) Dimension() int { return m.dimension }

func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *Mock) vector(text string) []float32 {
	v := make([]float32, m.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[h.Sum32()%uint32(m.dimension)] += 1
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

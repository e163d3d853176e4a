package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockEmbedder produces deterministic embeddings from text content. The
// same text always maps to the same unit vector, so similarity search in
// tests behaves predictably: identical text scores 1.0.
type MockEmbedder struct {
	Dim int

	mu    sync.Mutex
	calls [][]string
	// Err, when set, is returned by the next Embed call.
	Err error
}

// NewMockEmbedder creates a deterministic embedder with the given dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{Dim: dim}
}

// Embed returns one vector per input text.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, texts)
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = m.vectorFor(t)
	}
	return vectors, nil
}

// Dimension implements the embedding client interface.
func (m *MockEmbedder) Dimension() int { return m.Dim }

// Calls returns every batch passed to Embed, in order.
func (m *MockEmbedder) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// vectorFor seeds a vector from the FNV hash of the text and normalizes it.
func (m *MockEmbedder) vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.Dim)
	var norm float64
	for i := range vec {
		// xorshift on the seed gives stable pseudo-random components.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2000)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

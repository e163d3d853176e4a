package testutil

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/libreai/aigate/internal/vector"
)

// MemVectorStore is an in-memory vector.Store with real cosine similarity.
// Safe for concurrent use.
type MemVectorStore struct {
	mu   sync.RWMutex
	docs map[string]vector.Document

	// AddErr and SearchErr, when set, are returned by the corresponding
	// methods to simulate store failures.
	AddErr    error
	SearchErr error
	DeleteErr error
}

// NewMemVectorStore creates an empty in-memory store.
func NewMemVectorStore() *MemVectorStore {
	return &MemVectorStore{docs: map[string]vector.Document{}}
}

// Add upserts the batch.
func (s *MemVectorStore) Add(ctx context.Context, docs []vector.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return s.AddErr
	}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return nil
}

// Search returns the topK most similar entries matching the filter.
func (s *MemVectorStore) Search(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	var results []vector.Result
	for _, d := range s.docs {
		if !matches(d.Metadata, filter) {
			continue
		}
		results = append(results, vector.Result{
			Document:   d,
			Similarity: cosine(embedding, d.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes the given IDs, ignoring missing ones.
func (s *MemVectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

// Close implements vector.Store.
func (s *MemVectorStore) Close() {}

// Len returns the number of stored entries.
func (s *MemVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Get returns a stored document by ID.
func (s *MemVectorStore) Get(id string) (vector.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

func matches(metadata map[string]string, filter vector.Filter) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

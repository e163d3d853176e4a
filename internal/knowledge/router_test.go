package knowledge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/vector"
)

type stubConfigSource struct {
	mu    sync.Mutex
	bases []Base
	err   error
}

func (s *stubConfigSource) ListKnowledgeBases(ctx context.Context) ([]Base, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bases, s.err
}

type stubEmbedder struct{ id string }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
func (s *stubEmbedder) Dimension() int { return 4 }

type stubModels struct{ clients map[string]provider.EmbeddingClient }

func (s *stubModels) Embedding(id string) (provider.EmbeddingClient, error) {
	if c, ok := s.clients[id]; ok {
		return c, nil
	}
	return nil, provider.ErrModelNotFound
}

type stubVectorStore struct{ vector.Store }

type stubStores struct{ stores map[string]vector.Store }

func (s *stubStores) Store(id string) (vector.Store, error) {
	if st, ok := s.stores[id]; ok {
		return st, nil
	}
	return nil, vector.ErrStoreNotFound
}

func newTestRouter(t *testing.T, bases []Base) (*Router, *Registry) {
	t.Helper()
	reg := NewRegistry(&stubConfigSource{bases: bases}, log.NewNop())
	require.NoError(t, reg.Rebuild(context.Background()))

	models := &stubModels{clients: map[string]provider.EmbeddingClient{
		"embed-a": &stubEmbedder{id: "embed-a"},
		"embed-b": &stubEmbedder{id: "embed-b"},
	}}
	stores := &stubStores{stores: map[string]vector.Store{
		"store-a": &stubVectorStore{},
		"store-b": &stubVectorStore{},
	}}
	return NewRouter(reg, models, stores), reg
}

func TestRegistry_Rebuild_SkipsIncompleteBindings(t *testing.T) {
	source := &stubConfigSource{bases: []Base{
		{ID: "kb1", EmbedModelID: "embed-a", VectorStoreID: "store-a"},
		{ID: "kb2", EmbedModelID: "", VectorStoreID: "store-a"},
		{ID: "kb3", EmbedModelID: "embed-a", VectorStoreID: ""},
	}}
	reg := NewRegistry(source, log.NewNop())
	require.NoError(t, reg.Rebuild(context.Background()))

	_, ok := reg.Binding("kb1")
	assert.True(t, ok)
	_, ok = reg.Binding("kb2")
	assert.False(t, ok)
	_, ok = reg.Binding("kb3")
	assert.False(t, ok)
}

func TestRouter_SingleBinding(t *testing.T) {
	router, _ := newTestRouter(t, []Base{
		{ID: "kb1", EmbedModelID: "embed-a", VectorStoreID: "store-a"},
	})

	client, err := router.EmbeddingClientFor([]string{"kb1"})
	require.NoError(t, err)
	assert.NotNil(t, client)

	store, err := router.StoreFor([]string{"kb1"})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestRouter_SharedBindingAcrossBases(t *testing.T) {
	router, _ := newTestRouter(t, []Base{
		{ID: "kb1", EmbedModelID: "embed-a", VectorStoreID: "store-a"},
		{ID: "kb2", EmbedModelID: "embed-a", VectorStoreID: "store-a"},
	})

	client, err := router.EmbeddingClientFor([]string{"kb1", "kb2"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestRouter_EmptySetIsMissingBinding(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	_, err := router.EmbeddingClientFor([]string{"unknown-1", "unknown-2"})
	assert.ErrorIs(t, err, ErrMissingBinding)

	_, err = router.StoreFor(nil)
	assert.ErrorIs(t, err, ErrMissingBinding)
}

func TestRouter_UnboundIDsAreIgnored(t *testing.T) {
	router, _ := newTestRouter(t, []Base{
		{ID: "kb1", EmbedModelID: "embed-a", VectorStoreID: "store-a"},
	})

	// kb1 carries the binding; the unknown ID does not poison the set.
	client, err := router.EmbeddingClientFor([]string{"kb1", "unknown"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestRouter_HeterogeneousBindings(t *testing.T) {
	router, _ := newTestRouter(t, []Base{
		{ID: "kb1", EmbedModelID: "embed-a", VectorStoreID: "store-a"},
		{ID: "kb2", EmbedModelID: "embed-b", VectorStoreID: "store-b"},
	})

	_, err := router.EmbeddingClientFor([]string{"kb1", "kb2"})
	assert.ErrorIs(t, err, ErrHeterogeneousBinding)

	_, err = router.StoreFor([]string{"kb1", "kb2"})
	assert.ErrorIs(t, err, ErrHeterogeneousBinding)
}

func TestRouter_DifferentStoreSameModelIsHeterogeneous(t *testing.T) {
	router, _ := newTestRouter(t, []Base{
		{ID: "kb1", EmbedModelID: "embed-a", VectorStoreID: "store-a"},
		{ID: "kb2", EmbedModelID: "embed-a", VectorStoreID: "store-b"},
	})

	_, err := router.StoreFor([]string{"kb1", "kb2"})
	assert.ErrorIs(t, err, ErrHeterogeneousBinding)
}

func TestSearchFilter(t *testing.T) {
	f := SearchFilter("kb1")
	assert.Equal(t, vector.Filter{MetadataKnowledgeID: "kb1"}, f)
}

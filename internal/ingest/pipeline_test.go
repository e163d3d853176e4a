package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/testutil"
	"github.com/libreai/aigate/internal/vector"
)

type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]Document
}

func (f *fakeDocs) GetDocument(ctx context.Context, id string) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return Document{}, errors.New("document not found")
	}
	return d, nil
}

type fakeMappings struct {
	mu      sync.Mutex
	byDoc   map[string][]string
	saveErr error
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{byDoc: map[string][]string{}}
}

func (f *fakeMappings) SaveMappings(ctx context.Context, docID string, vectorIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.byDoc[docID] = append(f.byDoc[docID], vectorIDs...)
	return nil
}

func (f *fakeMappings) VectorIDs(ctx context.Context, docID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byDoc[docID], nil
}

func (f *fakeMappings) DeleteMappings(ctx context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byDoc, docID)
	return nil
}

type fakeBinder struct {
	embedder provider.EmbeddingClient
	store    vector.Store
	err      error
}

func (f *fakeBinder) EmbeddingClientFor(ids []string) (provider.EmbeddingClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embedder, nil
}

func (f *fakeBinder) StoreFor(ids []string) (vector.Store, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.store, nil
}

type fixture struct {
	pipeline *Pipeline
	store    *testutil.MemVectorStore
	embedder *testutil.MockEmbedder
	docs     *fakeDocs
	mappings *fakeMappings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemVectorStore()
	embedder := testutil.NewMockEmbedder(8)
	docs := &fakeDocs{docs: map[string]Document{
		"doc-1": {
			ID:          "doc-1",
			KnowledgeID: "kb-1",
			Name:        "guide.txt",
			Content:     "First sentence. Second sentence. Third sentence.",
		},
	}}
	mappings := newFakeMappings()
	binder := &fakeBinder{embedder: embedder, store: store}
	return &fixture{
		pipeline: New(NewSplitter(100), binder, docs, mappings, log.NewNop()),
		store:    store,
		embedder: embedder,
		docs:     docs,
		mappings: mappings,
	}
}

func TestIngestText_HelloWorld(t *testing.T) {
	fx := newFixture(t)

	ids, err := fx.pipeline.IngestText(context.Background(), "kb-1", "hello world")
	require.NoError(t, err)
	require.Len(t, ids, 1, "short text yields exactly one segment")

	doc, ok := fx.store.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, "hello world", doc.Content)
	assert.Equal(t, "kb-1", doc.Metadata["knowledge_id"])
}

func TestIngestText_EmptyTextIsNoop(t *testing.T) {
	fx := newFixture(t)

	ids, err := fx.pipeline.IngestText(context.Background(), "kb-1", "   ")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, fx.store.Len())
}

func TestIngestText_OneEmbedCallPerBatch(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.pipeline.IngestText(context.Background(), "kb-1",
		"First sentence. Second sentence. Third sentence.")
	require.NoError(t, err)

	calls := fx.embedder.Calls()
	require.Len(t, calls, 1, "all segments go through one embedding call")
}

func TestIngestDocument_WritesMappingsAfterUpsert(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.pipeline.IngestDocument(context.Background(), "doc-1"))

	ids, err := fx.mappings.VectorIDs(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	assert.Equal(t, len(ids), fx.store.Len())

	for _, id := range ids {
		doc, ok := fx.store.Get(id)
		require.True(t, ok, "mapping %s must point at a stored vector", id)
		assert.Equal(t, "doc-1", doc.Metadata["document_id"])
		assert.Equal(t, "kb-1", doc.Metadata["knowledge_id"])
	}
}

func TestIngestDocument_EmbedFailureLeavesDocumentUnsliced(t *testing.T) {
	fx := newFixture(t)
	fx.embedder.Err = errors.New("provider down")

	err := fx.pipeline.IngestDocument(context.Background(), "doc-1")
	require.Error(t, err)

	ids, _ := fx.mappings.VectorIDs(context.Background(), "doc-1")
	assert.Empty(t, ids, "no mapping rows on failure")
	assert.Zero(t, fx.store.Len(), "no vectors on failure")
}

func TestIngestDocument_UpsertFailureLeavesDocumentUnsliced(t *testing.T) {
	fx := newFixture(t)
	fx.store.AddErr = errors.New("store down")

	err := fx.pipeline.IngestDocument(context.Background(), "doc-1")
	require.Error(t, err)

	ids, _ := fx.mappings.VectorIDs(context.Background(), "doc-1")
	assert.Empty(t, ids)
}

func TestDelete_RoundTrip(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.pipeline.IngestDocument(context.Background(), "doc-1"))
	require.NotZero(t, fx.store.Len())

	require.NoError(t, fx.pipeline.Delete(context.Background(), "doc-1"))

	assert.Zero(t, fx.store.Len(), "all vectors removed")
	ids, _ := fx.mappings.VectorIDs(context.Background(), "doc-1")
	assert.Empty(t, ids, "all mappings removed")
}

func TestDelete_NeverIngestedIsNoop(t *testing.T) {
	fx := newFixture(t)

	assert.NoError(t, fx.pipeline.Delete(context.Background(), "doc-1"))
}

func TestReEmbed_ReplacesVectors(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.pipeline.IngestDocument(context.Background(), "doc-1"))
	before, _ := fx.mappings.VectorIDs(context.Background(), "doc-1")
	require.NotEmpty(t, before)

	require.NoError(t, fx.pipeline.ReEmbed(context.Background(), "doc-1"))

	after, _ := fx.mappings.VectorIDs(context.Background(), "doc-1")
	require.Len(t, after, len(before))
	assert.NotElementsMatch(t, before, after, "re-embedding mints new vector IDs")
	assert.Equal(t, len(after), fx.store.Len(), "old vectors are gone")
}

func TestIngest_SearchFindsIngestedContent(t *testing.T) {
	fx := newFixture(t)

	ids, err := fx.pipeline.IngestText(context.Background(), "kb-1", "the capital of France is Paris")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// The deterministic embedder maps identical text to identical vectors,
	// so searching with the same text scores 1.0.
	vecs, err := fx.embedder.Embed(context.Background(), []string{"the capital of France is Paris"})
	require.NoError(t, err)

	results, err := fx.store.Search(context.Background(), vecs[0], 5, vector.Filter{"knowledge_id": "kb-1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, ids[0], results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.0001)
}

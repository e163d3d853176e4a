package knowledge

import (
	"fmt"

	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/vector"
)

// MetadataKnowledgeID is the metadata key tagging every stored vector with
// the knowledge base it belongs to.
const MetadataKnowledgeID = "knowledge_id"

// ModelResolver resolves embedding model IDs to clients.
type ModelResolver interface {
	Embedding(id string) (provider.EmbeddingClient, error)
}

// StoreResolver resolves vector store IDs to stores.
type StoreResolver interface {
	Store(id string) (vector.Store, error)
}

// Router picks the single embedding model and vector store serving a set of
// knowledge bases.
type Router struct {
	registry *Registry
	models   ModelResolver
	stores   StoreResolver
}

// NewRouter wires the binding registry to the model and store registries.
func NewRouter(registry *Registry, models ModelResolver, stores StoreResolver) *Router {
	return &Router{registry: registry, models: models, stores: stores}
}

// binding collapses the bindings of the requested knowledge bases into one.
// Unbound IDs are ignored; if all are unbound the set is empty.
func (r *Router) binding(knowledgeIDs []string) (Binding, error) {
	distinct := map[Binding]struct{}{}
	var winner Binding
	for _, id := range knowledgeIDs {
		b, ok := r.registry.Binding(id)
		if !ok {
			continue
		}
		distinct[b] = struct{}{}
		winner = b
	}

	switch len(distinct) {
	case 0:
		return Binding{}, fmt.Errorf("knowledge bases %v: %w", knowledgeIDs, ErrMissingBinding)
	case 1:
		return winner, nil
	default:
		return Binding{}, fmt.Errorf("knowledge bases %v: %w", knowledgeIDs, ErrHeterogeneousBinding)
	}
}

// EmbeddingClientFor returns the embedding client shared by the given
// knowledge bases.
func (r *Router) EmbeddingClientFor(knowledgeIDs []string) (provider.EmbeddingClient, error) {
	b, err := r.binding(knowledgeIDs)
	if err != nil {
		return nil, err
	}
	return r.models.Embedding(b.EmbedModelID)
}

// StoreFor returns the vector store shared by the given knowledge bases.
func (r *Router) StoreFor(knowledgeIDs []string) (vector.Store, error) {
	b, err := r.binding(knowledgeIDs)
	if err != nil {
		return nil, err
	}
	return r.stores.Store(b.VectorStoreID)
}

// SearchFilter restricts a search to vectors tagged with one of the given
// knowledge base IDs. With a single ID this is an exact metadata match;
// callers searching several bases issue one search per ID and merge.
func SearchFilter(knowledgeID string) vector.Filter {
	return vector.Filter{MetadataKnowledgeID: knowledgeID}
}

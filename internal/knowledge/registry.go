// Package knowledge maps knowledge bases to their embedding model and
// vector store bindings, and routes retrieval requests across them.
//
// Every knowledge base is bound to exactly one embedding model and one
// vector store. A request may span several knowledge bases, but only when
// they share the same binding; mixing bindings in one request is an error
// because their vectors live in different spaces.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/libreai/aigate/internal/log"
)

var (
	// ErrMissingBinding indicates none of the requested knowledge bases
	// has a usable binding.
	ErrMissingBinding = errors.New("no knowledge base binding")

	// ErrHeterogeneousBinding indicates the requested knowledge bases are
	// bound to different embedding models or vector stores.
	ErrHeterogeneousBinding = errors.New("knowledge bases use different bindings")
)

// Binding ties a knowledge base to its embedding model and vector store.
type Binding struct {
	EmbedModelID  string
	VectorStoreID string
}

// Base is one persisted knowledge base row.
type Base struct {
	ID            string
	Name          string
	EmbedModelID  string
	VectorStoreID string
}

// ConfigSource lists the knowledge base rows.
type ConfigSource interface {
	ListKnowledgeBases(ctx context.Context) ([]Base, error)
}

// Registry resolves knowledge-base IDs to bindings. Rebuilt wholesale with
// an atomic swap like the other registries.
type Registry struct {
	source  ConfigSource
	logger  log.Logger
	current atomic.Pointer[map[string]Binding]
}

// NewRegistry creates an empty binding registry.
func NewRegistry(source ConfigSource, logger log.Logger) *Registry {
	r := &Registry{
		source: source,
		logger: logger.With("component", "knowledge_registry"),
	}
	empty := map[string]Binding{}
	r.current.Store(&empty)
	return r
}

// Rebuild reloads the knowledge base rows and republishes the binding map.
// A base missing either half of its binding is skipped with a warning.
func (r *Registry) Rebuild(ctx context.Context) error {
	bases, err := r.source.ListKnowledgeBases(ctx)
	if err != nil {
		return fmt.Errorf("list knowledge bases: %w", err)
	}

	next := make(map[string]Binding, len(bases))
	for _, b := range bases {
		if b.EmbedModelID == "" || b.VectorStoreID == "" {
			r.logger.Warn("knowledge base has incomplete binding, skipping",
				"knowledge_id", b.ID, "name", b.Name)
			continue
		}
		next[b.ID] = Binding{EmbedModelID: b.EmbedModelID, VectorStoreID: b.VectorStoreID}
	}

	r.current.Store(&next)
	r.logger.Info("knowledge registry rebuilt", "bases", len(next))
	return nil
}

// Binding returns the binding for one knowledge base ID.
func (r *Registry) Binding(id string) (Binding, bool) {
	b, ok := (*r.current.Load())[id]
	return b, ok
}

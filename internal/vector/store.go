// Package vector defines the vector store abstraction used for retrieval
// and its PostgreSQL + pgvector implementation.
package vector

import (
	"context"
	"errors"
)

// ErrStoreNotFound indicates no store is registered for the given ID.
var ErrStoreNotFound = errors.New("vector store not found")

// StoreConfig is one persisted vector store row.
type StoreConfig struct {
	ID        string
	Name      string
	Kind      string // currently only "pgvector"
	DSN       string
	Table     string
	Dimension int
}

// KindPGVector is the only store kind shipped today.
const KindPGVector = "pgvector"

// Filter restricts a search to entries whose metadata contains every
// key/value pair. Marshalled to JSONB containment in the pgvector store.
type Filter map[string]string

// Document is one embedded text segment stored alongside its vector.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Result is a search hit. Similarity is cosine similarity in [0, 1].
type Result struct {
	Document
	Similarity float64
}

// Store is the consumer-side interface for one vector collection.
//
// Add upserts the whole batch or fails as a unit. Search returns at most
// topK results ordered by descending similarity. Delete removes the given
// entry IDs and ignores IDs that do not exist.
type Store interface {
	Add(ctx context.Context, docs []Document) error
	Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Result, error)
	Delete(ctx context.Context, ids []string) error
	Close()
}

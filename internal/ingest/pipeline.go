// Package ingest turns documents and text snippets into embedded vector
// store entries, and keeps the document-to-vector bookkeeping consistent.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/vector"
)

// Document is a persisted document row awaiting ingestion.
type Document struct {
	ID          string
	KnowledgeID string
	Name        string
	Content     string
}

// Documents reads document rows.
type Documents interface {
	GetDocument(ctx context.Context, id string) (Document, error)
}

// Mappings records which vector entries belong to which document. Rows are
// written only after the vector upsert succeeds, so a mapping always points
// at stored vectors.
type Mappings interface {
	SaveMappings(ctx context.Context, docID string, vectorIDs []string) error
	VectorIDs(ctx context.Context, docID string) ([]string, error)
	DeleteMappings(ctx context.Context, docID string) error
}

// Binder resolves the embedding client and vector store bound to a set of
// knowledge bases.
type Binder interface {
	EmbeddingClientFor(knowledgeIDs []string) (provider.EmbeddingClient, error)
	StoreFor(knowledgeIDs []string) (vector.Store, error)
}

// Pipeline ingests content into the vector store bound to each knowledge
// base. All pipeline methods are safe for concurrent use.
type Pipeline struct {
	splitter *Splitter
	binder   Binder
	docs     Documents
	mappings Mappings
	logger   log.Logger
}

// New creates an ingestion pipeline.
func New(splitter *Splitter, binder Binder, docs Documents, mappings Mappings, logger log.Logger) *Pipeline {
	return &Pipeline{
		splitter: splitter,
		binder:   binder,
		docs:     docs,
		mappings: mappings,
		logger:   logger.With("component", "ingest_pipeline"),
	}
}

// IngestText embeds a free-standing text snippet into a knowledge base.
// Returns the minted vector entry IDs.
func (p *Pipeline) IngestText(ctx context.Context, knowledgeID, text string) ([]string, error) {
	ids, err := p.ingest(ctx, knowledgeID, text, map[string]string{})
	if err != nil {
		return nil, err
	}
	p.logger.Info("ingested text", "knowledge_id", knowledgeID, "segments", len(ids))
	return ids, nil
}

// IngestDocument splits, embeds and stores a document, then records the
// document-to-vector mappings. A failure anywhere before the mapping write
// leaves the document unsliced: no mapping rows exist and ReEmbed or a
// retry starts clean.
func (p *Pipeline) IngestDocument(ctx context.Context, docID string) error {
	doc, err := p.docs.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}

	ids, err := p.ingest(ctx, doc.KnowledgeID, doc.Content, map[string]string{
		"document_id":   doc.ID,
		"document_name": doc.Name,
	})
	if err != nil {
		return fmt.Errorf("ingest document %s: %w", docID, err)
	}
	if len(ids) == 0 {
		p.logger.Warn("document produced no segments", "document_id", docID)
		return nil
	}

	if err := p.mappings.SaveMappings(ctx, docID, ids); err != nil {
		return fmt.Errorf("save mappings for %s: %w", docID, err)
	}

	p.logger.Info("ingested document",
		"document_id", docID, "knowledge_id", doc.KnowledgeID, "segments", len(ids))
	return nil
}

// ReEmbed deletes every vector previously stored for the document and
// ingests it again, picking up the knowledge base's current binding.
func (p *Pipeline) ReEmbed(ctx context.Context, docID string) error {
	if err := p.Delete(ctx, docID); err != nil {
		return fmt.Errorf("re-embed %s: %w", docID, err)
	}
	return p.IngestDocument(ctx, docID)
}

// Delete removes the document's vectors and mapping rows. Deleting a
// document that was never ingested is a no-op.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	ids, err := p.mappings.VectorIDs(ctx, docID)
	if err != nil {
		return fmt.Errorf("list vectors for %s: %w", docID, err)
	}
	if len(ids) == 0 {
		return nil
	}

	doc, err := p.docs.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}
	store, err := p.binder.StoreFor([]string{doc.KnowledgeID})
	if err != nil {
		return fmt.Errorf("resolve store for %s: %w", docID, err)
	}

	if err := store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete vectors for %s: %w", docID, err)
	}
	if err := p.mappings.DeleteMappings(ctx, docID); err != nil {
		return fmt.Errorf("delete mappings for %s: %w", docID, err)
	}

	p.logger.Info("deleted document vectors", "document_id", docID, "vectors", len(ids))
	return nil
}

// ingest is the shared split-embed-upsert path. One embedding call and one
// upsert cover the whole batch.
func (p *Pipeline) ingest(ctx context.Context, knowledgeID, text string, metadata map[string]string) ([]string, error) {
	segments := p.splitter.Split(text)
	if len(segments) == 0 {
		return nil, nil
	}

	embedder, err := p.binder.EmbeddingClientFor([]string{knowledgeID})
	if err != nil {
		return nil, fmt.Errorf("resolve embedding client: %w", err)
	}
	store, err := p.binder.StoreFor([]string{knowledgeID})
	if err != nil {
		return nil, fmt.Errorf("resolve vector store: %w", err)
	}

	vectors, err := embedder.Embed(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("embed %d segments: %w", len(segments), err)
	}
	if len(vectors) != len(segments) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d segments", len(vectors), len(segments))
	}

	docs := make([]vector.Document, len(segments))
	ids := make([]string, len(segments))
	for i, seg := range segments {
		meta := map[string]string{"knowledge_id": knowledgeID}
		for k, v := range metadata {
			meta[k] = v
		}
		id := uuid.NewString()
		ids[i] = id
		docs[i] = vector.Document{
			ID:        id,
			Content:   seg,
			Embedding: vectors[i],
			Metadata:  meta,
		}
	}

	if err := store.Add(ctx, docs); err != nil {
		return nil, fmt.Errorf("upsert %d segments: %w", len(docs), err)
	}
	return ids, nil
}

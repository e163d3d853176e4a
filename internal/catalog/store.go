// Package catalog reads the persisted gateway configuration: model
// configs, vector stores, knowledge bases, documents and slice mappings.
// Mutations flow through the admin surface elsewhere; registries only ever
// read, so the catalog exposes list/get operations plus the few document
// writes the ingestion API needs.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/libreai/aigate/internal/ingest"
	"github.com/libreai/aigate/internal/knowledge"
	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/vector"
)

// ErrNotFound indicates a catalog row does not exist.
var ErrNotFound = errors.New("catalog row not found")

// DB is the subset of pgxpool.Pool the catalog needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store reads and writes catalog rows. It satisfies the config source
// interfaces of the provider, vector and knowledge registries and the
// document interfaces of the ingestion pipeline.
type Store struct {
	db DB
}

// NewStore creates a catalog store over the given database.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// ListModelConfigs returns every model configuration row.
func (s *Store) ListModelConfigs(ctx context.Context) ([]provider.ModelConfig, error) {
	rows, err := s.db.Query(ctx, `SELECT
			id, type, provider, model, name,
			api_key, secret_key, base_url, endpoint,
			temperature, top_p, response_limit, dimension,
			azure_deployment, gemini_project, gemini_location,
			image_size, image_quality, image_style
		FROM model_configs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list model configs: %w", err)
	}
	defer rows.Close()

	var configs []provider.ModelConfig
	for rows.Next() {
		var c provider.ModelConfig
		if err := rows.Scan(
			&c.ID, &c.Type, &c.Provider, &c.Model, &c.Name,
			&c.APIKey, &c.SecretKey, &c.BaseURL, &c.Endpoint,
			&c.Temperature, &c.TopP, &c.ResponseLimit, &c.Dimension,
			&c.AzureDeployment, &c.GeminiProject, &c.GeminiLocation,
			&c.ImageSize, &c.ImageQuality, &c.ImageStyle,
		); err != nil {
			return nil, fmt.Errorf("scan model config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model configs: %w", err)
	}
	return configs, nil
}

// ListVectorStores returns every vector store configuration row.
func (s *Store) ListVectorStores(ctx context.Context) ([]vector.StoreConfig, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, kind, dsn, table_name, dimension
		FROM vector_stores ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list vector stores: %w", err)
	}
	defer rows.Close()

	var configs []vector.StoreConfig
	for rows.Next() {
		var c vector.StoreConfig
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.DSN, &c.Table, &c.Dimension); err != nil {
			return nil, fmt.Errorf("scan vector store: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector stores: %w", err)
	}
	return configs, nil
}

// ListKnowledgeBases returns every knowledge base row.
func (s *Store) ListKnowledgeBases(ctx context.Context) ([]knowledge.Base, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, embed_model_id, vector_store_id
		FROM knowledge_bases ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	var bases []knowledge.Base
	for rows.Next() {
		var b knowledge.Base
		if err := rows.Scan(&b.ID, &b.Name, &b.EmbedModelID, &b.VectorStoreID); err != nil {
			return nil, fmt.Errorf("scan knowledge base: %w", err)
		}
		bases = append(bases, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge bases: %w", err)
	}
	return bases, nil
}

// CreateDocument persists a document row and returns its minted ID.
func (s *Store) CreateDocument(ctx context.Context, knowledgeID, name, content string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `INSERT INTO documents (id, knowledge_id, name, content)
		VALUES ($1, $2, $3, $4)`, id, knowledgeID, name, content)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	return id, nil
}

// GetDocument loads one document row.
func (s *Store) GetDocument(ctx context.Context, id string) (ingest.Document, error) {
	var d ingest.Document
	err := s.db.QueryRow(ctx, `SELECT id, knowledge_id, name, content
		FROM documents WHERE id = $1`, id).
		Scan(&d.ID, &d.KnowledgeID, &d.Name, &d.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ingest.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return d, nil
}

// DeleteDocument removes the document row. Slice mappings cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveMappings records the vector entries stored for a document.
func (s *Store) SaveMappings(ctx context.Context, docID string, vectorIDs []string) error {
	batch := &pgx.Batch{}
	for _, vid := range vectorIDs {
		batch.Queue(`INSERT INTO document_slices (id, document_id, vector_id)
			VALUES ($1, $2, $3)`, uuid.NewString(), docID, vid)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save %d mappings for %s: %w", len(vectorIDs), docID, err)
	}
	return nil
}

// VectorIDs lists the vector entries recorded for a document.
func (s *Store) VectorIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT vector_id FROM document_slices
		WHERE document_id = $1 ORDER BY created_at`, docID)
	if err != nil {
		return nil, fmt.Errorf("list mappings for %s: %w", docID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return ids, nil
}

// DeleteMappings removes every mapping row of a document.
func (s *Store) DeleteMappings(ctx context.Context, docID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM document_slices WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("delete mappings for %s: %w", docID, err)
	}
	return nil
}

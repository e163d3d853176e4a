package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/libreai/aigate/internal/log"
)

// searchTimeout caps one similarity query so a slow scan cannot block a
// chat request indefinitely.
const searchTimeout = 10 * time.Second

// Table names come from operator configuration rows, not request input,
// but they are interpolated into DDL and queries, so constrain them anyway.
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PGStore is a pgvector-backed Store. Each store owns its connection pool;
// the registry closes it when the store config disappears.
type PGStore struct {
	pool   *pgxpool.Pool
	table  string
	dim    int
	logger log.Logger
}

// NewPGStore connects to the configured database and ensures the collection
// table and its index exist.
func NewPGStore(ctx context.Context, cfg StoreConfig, logger log.Logger) (*PGStore, error) {
	if cfg.Kind != KindPGVector {
		return nil, fmt.Errorf("unsupported store kind %q", cfg.Kind)
	}
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("store %s: dimension must be positive", cfg.ID)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect vector store %s: %w", cfg.ID, err)
	}

	s := &PGStore{
		pool:   pool,
		table:  cfg.Table,
		dim:    cfg.Dimension,
		logger: logger.With("component", "pgvector_store", "store_id", cfg.ID),
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx
			ON %s USING gin (metadata)`, s.table, s.table),
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema for %s: %w", s.table, err)
		}
	}
	return nil
}

// Add upserts the batch in one transaction so a partial failure leaves the
// collection unchanged.
func (s *PGStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	sql := fmt.Sprintf(`INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`, s.table)

	for _, doc := range docs {
		if len(doc.Embedding) != s.dim {
			return fmt.Errorf("document %s: embedding dimension %d, store expects %d",
				doc.ID, len(doc.Embedding), s.dim)
		}
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", doc.ID, err)
		}
		batch.Queue(sql, doc.ID, doc.Content, pgvector.NewVector(doc.Embedding), metadata)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert %d documents: %w", len(docs), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	s.logger.Debug("upserted documents", "count", len(docs))
	return nil
}

// Search runs cosine similarity search, optionally restricted by JSONB
// metadata containment.
func (s *PGStore) Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Result, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query embedding dimension %d, store expects %d", len(embedding), s.dim)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	query := pgvector.NewVector(embedding)
	var rows pgx.Rows
	var err error
	if len(filter) > 0 {
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshal filter: %w", marshalErr)
		}
		sql := fmt.Sprintf(`SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
			FROM %s
			WHERE metadata @> $2
			ORDER BY embedding <=> $1
			LIMIT $3`, s.table)
		rows, err = s.pool.Query(ctx, sql, query, filterJSON, topK)
	} else {
		sql := fmt.Sprintf(`SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
			FROM %s
			ORDER BY embedding <=> $1
			LIMIT $2`, s.table)
		rows, err = s.pool.Query(ctx, sql, query, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, topK)
	for rows.Next() {
		var r Result
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Content, &metadata, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			s.logger.Warn("unparseable metadata", "id", r.ID, "error", err)
			r.Metadata = map[string]string{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

// Delete removes the given IDs. Missing IDs are not an error.
func (s *PGStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
	if _, err := s.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("delete %d documents: %w", len(ids), err)
	}
	s.logger.Debug("deleted documents", "count", len(ids))
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

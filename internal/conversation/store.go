package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
)

// Record is one persisted conversation message.
type Record struct {
	ID               string
	ConversationID   string
	Role             provider.Role
	Content          string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// DB is the subset of pgxpool.Pool the message log needs. Consumer-defined
// so tests can substitute a lighter implementation.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Log is the durable message log backing conversation memory.
type Log struct {
	db     DB
	logger log.Logger
}

// NewLog creates a message log over the catalog database.
func NewLog(db DB, logger log.Logger) *Log {
	return &Log{db: db, logger: logger.With("component", "message_log")}
}

// Append persists one message. The record ID is minted here when empty.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := l.db.Exec(ctx, `INSERT INTO messages
		(id, conversation_id, role, content, prompt_tokens, completion_tokens)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ConversationID, string(rec.Role), rec.Content,
		rec.PromptTokens, rec.CompletionTokens)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns the most recent messages of a conversation in
// chronological order, capped at limit.
func (l *Log) History(ctx context.Context, conversationID string, limit int) ([]provider.Message, error) {
	rows, err := l.db.Query(ctx, `SELECT role, content FROM (
			SELECT role, content, seq FROM messages
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent ORDER BY seq ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []provider.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		history = append(history, provider.Message{Role: provider.Role(role), Text: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return history, nil
}

// Clear deletes every message of a conversation.
func (l *Log) Clear(ctx context.Context, conversationID string) error {
	tag, err := l.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	l.logger.Debug("cleared conversation log",
		"conversation_id", conversationID, "deleted", tag.RowsAffected())
	return nil
}

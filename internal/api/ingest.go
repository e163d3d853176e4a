package api

import (
	"context"
	"net/http"

	"github.com/libreai/aigate/internal/log"
)

// Ingestor is the ingestion surface the document handler drives.
type Ingestor interface {
	IngestText(ctx context.Context, knowledgeID, text string) ([]string, error)
	IngestDocument(ctx context.Context, docID string) error
	ReEmbed(ctx context.Context, docID string) error
	Delete(ctx context.Context, docID string) error
}

// DocumentStore persists document rows.
type DocumentStore interface {
	CreateDocument(ctx context.Context, knowledgeID, name, content string) (string, error)
	DeleteDocument(ctx context.Context, id string) error
}

// ingestHandler serves the knowledge ingestion endpoints.
//
// Endpoints:
//   - POST /api/embedding/text      - Embed a free-standing text snippet
//   - POST /api/embedding/docs      - Create and ingest a document
//   - POST /api/docs/{id}/reembed   - Re-embed an existing document
//   - DELETE /api/docs/{id}         - Delete a document and its vectors
type ingestHandler struct {
	ingestor Ingestor
	docs     DocumentStore
	logger   log.Logger
}

// embedTextRequest is the JSON body of the text embedding endpoint.
type embedTextRequest struct {
	KnowledgeID string `json:"knowledgeId"`
	Text        string `json:"text"`
}

func (h *ingestHandler) embedText(w http.ResponseWriter, r *http.Request) {
	var req embedTextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if req.KnowledgeID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "knowledgeId and text are required", h.logger)
		return
	}

	ids, err := h.ingestor.IngestText(r.Context(), req.KnowledgeID, req.Text)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"vectorIds": ids, "segments": len(ids)}, h.logger)
}

// embedDocRequest is the JSON body of the document ingestion endpoint.
type embedDocRequest struct {
	KnowledgeID string `json:"knowledgeId"`
	Name        string `json:"name"`
	Content     string `json:"content"`
}

func (h *ingestHandler) embedDocument(w http.ResponseWriter, r *http.Request) {
	var req embedDocRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if req.KnowledgeID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "knowledgeId and content are required", h.logger)
		return
	}

	docID, err := h.docs.CreateDocument(r.Context(), req.KnowledgeID, req.Name, req.Content)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	if err := h.ingestor.IngestDocument(r.Context(), docID); err != nil {
		// The document row stays for a later re-embed; report the failure.
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"documentId": docID}, h.logger)
}

func (h *ingestHandler) reEmbed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.ingestor.ReEmbed(r.Context(), id); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reembedded", "documentId": id}, h.logger)
}

func (h *ingestHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Vectors first: if the vector delete fails the document row survives
	// and the operation can be retried.
	if err := h.ingestor.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if err := h.docs.DeleteDocument(r.Context(), id); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "documentId": id}, h.logger)
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/libreai/aigate/internal/catalog"
	"github.com/libreai/aigate/internal/knowledge"
	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
)

// ErrorBody is the JSON error envelope for non-streaming endpoints and the
// data payload of SSE error events.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
// Buffer-first so headers are only sent after successful encoding.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("failed to write response body", "error", err)
	}
}

// writeError writes the JSON error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, map[string]ErrorBody{"error": {Code: code, Message: message}}, logger)
}

// classify maps domain errors to an HTTP status and stable error code.
// Unmapped errors from upstream providers surface as 502; everything else
// is an internal error.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrModelNotFound):
		return http.StatusNotFound, "model_not_found"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, knowledge.ErrMissingBinding):
		return http.StatusConflict, "missing_binding"
	case errors.Is(err, knowledge.ErrHeterogeneousBinding):
		return http.StatusConflict, "heterogeneous_binding"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}

// writeDomainError writes the envelope for a classified domain error.
func writeDomainError(w http.ResponseWriter, err error, logger log.Logger) {
	status, code := classify(err)
	writeError(w, status, code, err.Error(), logger)
}

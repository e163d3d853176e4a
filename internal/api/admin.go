package api

import (
	"net/http"

	"github.com/libreai/aigate/internal/log"
)

// Refresher requests an asynchronous registry rebuild.
type Refresher interface {
	Trigger()
}

// adminHandler serves operator endpoints.
type adminHandler struct {
	refresher Refresher
	logger    log.Logger
}

// refresh queues a registry rebuild. The rebuild runs asynchronously;
// in-flight requests keep the snapshot they resolved against.
func (h *adminHandler) refresh(w http.ResponseWriter, r *http.Request) {
	h.refresher.Trigger()
	h.logger.Info("registry refresh requested", "request_id", requestIDFromContext(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh queued"}, h.logger)
}

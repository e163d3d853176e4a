// Package api exposes the gateway over HTTP: streaming and blocking chat,
// image generation, knowledge ingestion and operator endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libreai/aigate/internal/log"
)

// ServerConfig contains the dependencies of the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator Orchestrator  // Required
	Ingestor     Ingestor      // Required
	Documents    DocumentStore // Required
	Refresher    Refresher     // Optional: nil disables /api/admin/refresh
	Pool         *pgxpool.Pool // Optional: nil disables pool stats in /ready
}

// Server is the JSON/SSE HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Ingestor == nil || cfg.Documents == nil {
		return nil, errors.New("ingestor and document store are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{orchestrator: cfg.Orchestrator, logger: logger}
	ih := &ingestHandler{ingestor: cfg.Ingestor, docs: cfg.Documents, logger: logger}

	mux := http.NewServeMux()

	// Generation
	mux.HandleFunc("POST /api/chat/completions", ch.completions)
	mux.HandleFunc("POST /api/chat/text", ch.text)
	mux.HandleFunc("POST /api/chat/image", ch.image)
	mux.HandleFunc("DELETE /api/conversations/{id}", ch.clearConversation)

	// Knowledge ingestion
	mux.HandleFunc("POST /api/embedding/text", ih.embedText)
	mux.HandleFunc("POST /api/embedding/docs", ih.embedDocument)
	mux.HandleFunc("POST /api/docs/{id}/reembed", ih.reEmbed)
	mux.HandleFunc("DELETE /api/docs/{id}", ih.deleteDocument)

	// Operator endpoints (optional, only registered when a refresher exists)
	if cfg.Refresher != nil {
		ah := &adminHandler{refresher: cfg.Refresher, logger: logger}
		mux.HandleFunc("POST /api/admin/refresh", ah.refresh)
	}

	// Middleware stack (outermost first): Recovery → RequestID → Logging.
	// RequestID sits inside recovery so panics still log a request ID when
	// one was assigned.
	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves HTTP on addr until ctx is cancelled, then shuts down
// gracefully with a 30 second drain window.
//
// WriteTimeout is deliberately unset: streaming responses stay open for as
// long as the provider produces tokens. Per-request lifetimes are bounded
// by the provider request timeout instead.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return <-errCh
}

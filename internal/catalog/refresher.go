package catalog

import (
	"context"

	"github.com/libreai/aigate/internal/log"
)

// Rebuilder rebuilds one registry from the catalog.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Refresher coalesces refresh triggers and rebuilds every registered
// registry in the background. Triggers arriving while a rebuild is in
// flight collapse into a single pending rebuild.
type Refresher struct {
	registries []Rebuilder
	trigger    chan struct{}
	logger     log.Logger
}

// NewRefresher creates a refresher over the given registries.
func NewRefresher(logger log.Logger, registries ...Rebuilder) *Refresher {
	return &Refresher{
		registries: registries,
		trigger:    make(chan struct{}, 1),
		logger:     logger.With("component", "catalog_refresher"),
	}
}

// Trigger requests a rebuild. It never blocks; a trigger that lands while
// one is already pending is absorbed.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run services triggers until ctx is cancelled. Call it from a dedicated
// goroutine.
func (r *Refresher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.rebuildAll(ctx)
		}
	}
}

// rebuildAll rebuilds every registry in registration order. A failed
// rebuild keeps that registry's previous snapshot and does not stop the
// remaining registries.
func (r *Refresher) rebuildAll(ctx context.Context) {
	for _, reg := range r.registries {
		if err := reg.Rebuild(ctx); err != nil {
			r.logger.Error("registry rebuild failed", "error", err)
		}
	}
	r.logger.Info("registries refreshed", "count", len(r.registries))
}

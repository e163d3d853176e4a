package vector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libreai/aigate/internal/log"
)

// ConfigSource lists the vector store configuration rows.
type ConfigSource interface {
	ListVectorStores(ctx context.Context) ([]StoreConfig, error)
}

// Factory builds a live store from one config row. Swappable in tests.
type Factory func(ctx context.Context, cfg StoreConfig, logger log.Logger) (Store, error)

// DefaultFactory builds pgvector stores.
func DefaultFactory(ctx context.Context, cfg StoreConfig, logger log.Logger) (Store, error) {
	return NewPGStore(ctx, cfg, logger)
}

// retireDelay is how long a store dropped by a rebuild stays open before
// closing. A request may resolve a store and then spend up to the provider
// request timeout (10 minutes) embedding before it touches the handle, so
// the drain window must outlast that.
const retireDelay = 15 * time.Minute

// entry pairs a live store with the config it was built from, so a rebuild
// can tell unchanged rows apart from edited ones.
type entry struct {
	cfg   StoreConfig
	store Store
}

// Registry resolves store-config IDs to live stores, rebuilt wholesale like
// the model registry. A rebuild reuses stores whose config row is
// unchanged; stores that were dropped or edited are retired and closed
// only after a drain window, so a handle resolved against the old snapshot
// keeps working for the remainder of its request.
type Registry struct {
	source      ConfigSource
	factory     Factory
	logger      log.Logger
	retireAfter time.Duration

	current atomic.Pointer[map[string]entry]

	mu      sync.Mutex
	retired map[Store]*time.Timer
}

// NewRegistry creates an empty store registry.
func NewRegistry(source ConfigSource, factory Factory, logger log.Logger) *Registry {
	r := &Registry{
		source:      source,
		factory:     factory,
		logger:      logger.With("component", "vector_registry"),
		retireAfter: retireDelay,
		retired:     map[Store]*time.Timer{},
	}
	empty := map[string]entry{}
	r.current.Store(&empty)
	return r
}

// Rebuild reloads store configs and republishes the store map. A store
// whose construction fails is skipped; the rest of the rebuild proceeds.
// Stores whose config row is unchanged carry over as-is.
func (r *Registry) Rebuild(ctx context.Context) error {
	configs, err := r.source.ListVectorStores(ctx)
	if err != nil {
		return fmt.Errorf("list vector stores: %w", err)
	}

	prevMap := *r.current.Load()
	next := make(map[string]entry, len(configs))
	for _, cfg := range configs {
		if old, ok := prevMap[cfg.ID]; ok && old.cfg == cfg {
			next[cfg.ID] = old
			continue
		}
		store, err := r.factory(ctx, cfg, r.logger)
		if err != nil {
			r.logger.Error("vector store build failed, skipping",
				"store_id", cfg.ID, "kind", cfg.Kind, "error", err)
			continue
		}
		next[cfg.ID] = entry{cfg: cfg, store: store}
	}

	prev := r.current.Swap(&next)
	for id, old := range *prev {
		if cur, ok := next[id]; ok && cur.store == old.store {
			continue
		}
		r.retire(id, old.store)
	}

	r.logger.Info("vector registry rebuilt", "stores", len(next))
	return nil
}

// retire schedules a dropped store to close after the drain window.
func (r *Registry) retire(id string, store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired[store] = time.AfterFunc(r.retireAfter, func() {
		store.Close()
		r.mu.Lock()
		delete(r.retired, store)
		r.mu.Unlock()
		r.logger.Debug("closed retired vector store", "store_id", id)
	})
}

// Store resolves a store-config ID to its live store.
func (r *Registry) Store(id string) (Store, error) {
	if e, ok := (*r.current.Load())[id]; ok {
		return e.store, nil
	}
	return nil, fmt.Errorf("vector store %q: %w", id, ErrStoreNotFound)
}

// Close closes every live and retired store. Called on shutdown.
func (r *Registry) Close() {
	empty := map[string]entry{}
	prev := r.current.Swap(&empty)
	for _, e := range *prev {
		e.store.Close()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for store, timer := range r.retired {
		if timer.Stop() {
			store.Close()
		}
		delete(r.retired, store)
	}
}

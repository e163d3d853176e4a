package provider

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/libreai/aigate/internal/log"
)

// ConfigSource lists the model configuration rows the registry builds from.
type ConfigSource interface {
	ListModelConfigs(ctx context.Context) ([]ModelConfig, error)
}

// snapshot holds one immutable generation of constructed clients.
// Readers resolve against whichever snapshot was current when they looked;
// a rebuild never mutates a published snapshot.
type snapshot struct {
	streaming map[string]StreamingChatClient
	chat      map[string]ChatClient
	embedding map[string]EmbeddingClient
	image     map[string]ImageClient
}

func emptySnapshot() *snapshot {
	return &snapshot{
		streaming: map[string]StreamingChatClient{},
		chat:      map[string]ChatClient{},
		embedding: map[string]EmbeddingClient{},
		image:     map[string]ImageClient{},
	}
}

// Registry resolves model-config IDs to live clients.
//
// Rebuild constructs a complete new snapshot and publishes it with a single
// atomic swap, so concurrent resolvers always see either the previous
// generation or the new one in full, never a mix.
type Registry struct {
	source   ConfigSource
	adapters []Adapter
	logger   log.Logger

	current atomic.Pointer[snapshot]
}

// NewRegistry creates a registry over the given adapters. The registry is
// empty until the first Rebuild.
func NewRegistry(source ConfigSource, adapters []Adapter, logger log.Logger) *Registry {
	r := &Registry{
		source:   source,
		adapters: adapters,
		logger:   logger.With("component", "provider_registry"),
	}
	r.current.Store(emptySnapshot())
	return r
}

// Rebuild reloads every model config and republishes the client maps.
// A config with an unknown provider family is skipped with a warning; a
// claimed config whose build fails is skipped with an error log. Neither
// aborts the rebuild.
func (r *Registry) Rebuild(ctx context.Context) error {
	configs, err := r.source.ListModelConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list model configs: %w", err)
	}

	next := emptySnapshot()
	for _, cfg := range configs {
		adapter := r.adapterFor(cfg)
		if adapter == nil {
			r.logger.Warn("no adapter for provider, skipping model",
				"model_id", cfg.ID, "provider", cfg.Provider)
			continue
		}
		if err := r.build(next, adapter, cfg); err != nil {
			r.logger.Error("model build failed, skipping",
				"model_id", cfg.ID, "provider", cfg.Provider,
				"adapter", adapter.Name(), "error", err)
		}
	}

	r.current.Store(next)
	r.logger.Info("registry rebuilt",
		"streaming", len(next.streaming), "chat", len(next.chat),
		"embedding", len(next.embedding), "image", len(next.image))
	return nil
}

func (r *Registry) adapterFor(cfg ModelConfig) Adapter {
	for _, a := range r.adapters {
		if a.Claims(cfg) {
			return a
		}
	}
	return nil
}

// build constructs every client the config's type calls for and stores them
// into the pending snapshot. All-or-nothing per config: a chat config whose
// streaming client builds but whose blocking client fails registers neither.
func (r *Registry) build(next *snapshot, adapter Adapter, cfg ModelConfig) error {
	if err := adapter.Validate(cfg); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	switch cfg.Type {
	case TypeChat:
		sc, err := adapter.BuildStreamingChat(cfg)
		if err != nil {
			return fmt.Errorf("build streaming chat: %w", err)
		}
		cc, err := adapter.BuildChat(cfg)
		if err != nil {
			return fmt.Errorf("build chat: %w", err)
		}
		if sc != nil {
			next.streaming[cfg.ID] = sc
		}
		if cc != nil {
			next.chat[cfg.ID] = cc
		}
	case TypeEmbedding:
		ec, err := adapter.BuildEmbedding(cfg)
		if err != nil {
			return fmt.Errorf("build embedding: %w", err)
		}
		if ec != nil {
			next.embedding[cfg.ID] = ec
		}
	case TypeImage:
		ic, err := adapter.BuildImage(cfg)
		if err != nil {
			return fmt.Errorf("build image: %w", err)
		}
		if ic != nil {
			next.image[cfg.ID] = ic
		}
	default:
		return fmt.Errorf("unknown model type %q", cfg.Type)
	}
	return nil
}

// StreamingChat resolves the streaming chat client for a model-config ID.
func (r *Registry) StreamingChat(id string) (StreamingChatClient, error) {
	if c, ok := r.current.Load().streaming[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("streaming chat model %q: %w", id, ErrModelNotFound)
}

// Chat resolves the blocking chat client for a model-config ID.
func (r *Registry) Chat(id string) (ChatClient, error) {
	if c, ok := r.current.Load().chat[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("chat model %q: %w", id, ErrModelNotFound)
}

// Embedding resolves the embedding client for a model-config ID.
func (r *Registry) Embedding(id string) (EmbeddingClient, error) {
	if c, ok := r.current.Load().embedding[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("embedding model %q: %w", id, ErrModelNotFound)
}

// Image resolves the image client for a model-config ID.
func (r *Registry) Image(id string) (ImageClient, error) {
	if c, ok := r.current.Load().image[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("image model %q: %w", id, ErrModelNotFound)
}

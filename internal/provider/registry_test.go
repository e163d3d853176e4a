package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubSource struct {
	mu      sync.Mutex
	configs []ModelConfig
	err     error
}

func (s *stubSource) ListModelConfigs(ctx context.Context) ([]ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs, s.err
}

func (s *stubSource) set(configs []ModelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = configs
}

type stubStreaming struct{ id string }

func (s *stubStreaming) StreamChat(ctx context.Context, messages []Message, onPartial PartialFunc) (*ChatResult, error) {
	return &ChatResult{Text: s.id}, nil
}

type stubChat struct{ id string }

func (s *stubChat) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	return &ChatResult{Text: s.id}, nil
}

type stubEmbedder struct{ id string }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (s *stubEmbedder) Dimension() int { return 4 }

// stubAdapter claims one provider family and optionally fails builds for a
// chosen model ID.
type stubAdapter struct {
	family   string
	failID   string
	validErr error
}

func (a *stubAdapter) Name() string              { return "stub-" + a.family }
func (a *stubAdapter) Claims(cfg ModelConfig) bool { return cfg.Provider == a.family }

func (a *stubAdapter) Validate(cfg ModelConfig) error { return a.validErr }

func (a *stubAdapter) BuildStreamingChat(cfg ModelConfig) (StreamingChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	if cfg.ID == a.failID {
		return nil, errors.New("boom")
	}
	return &stubStreaming{id: cfg.ID}, nil
}

func (a *stubAdapter) BuildChat(cfg ModelConfig) (ChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	if cfg.ID == a.failID {
		return nil, errors.New("boom")
	}
	return &stubChat{id: cfg.ID}, nil
}

func (a *stubAdapter) BuildEmbedding(cfg ModelConfig) (EmbeddingClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeEmbedding {
		return nil, nil
	}
	if cfg.ID == a.failID {
		return nil, errors.New("boom")
	}
	return &stubEmbedder{id: cfg.ID}, nil
}

func (a *stubAdapter) BuildImage(cfg ModelConfig) (ImageClient, error) {
	return nil, nil
}

func newTestRegistry(source ConfigSource, adapters ...Adapter) *Registry {
	return NewRegistry(source, adapters, testLogger())
}

func TestRegistry_EmptyBeforeFirstRebuild(t *testing.T) {
	reg := newTestRegistry(&stubSource{})

	_, err := reg.Chat("anything")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Rebuild_RegistersByCapability(t *testing.T) {
	source := &stubSource{configs: []ModelConfig{
		{ID: "m1", Type: TypeChat, Provider: "stub"},
		{ID: "m2", Type: TypeEmbedding, Provider: "stub"},
	}}
	reg := newTestRegistry(source, &stubAdapter{family: "stub"})

	require.NoError(t, reg.Rebuild(context.Background()))

	sc, err := reg.StreamingChat("m1")
	require.NoError(t, err)
	assert.NotNil(t, sc)

	cc, err := reg.Chat("m1")
	require.NoError(t, err)
	assert.NotNil(t, cc)

	ec, err := reg.Embedding("m2")
	require.NoError(t, err)
	assert.NotNil(t, ec)

	// An embedding config never yields chat clients.
	_, err = reg.Chat("m2")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Rebuild_SkipsUnknownProvider(t *testing.T) {
	source := &stubSource{configs: []ModelConfig{
		{ID: "known", Type: TypeChat, Provider: "stub"},
		{ID: "mystery", Type: TypeChat, Provider: "nobody-claims-this"},
	}}
	reg := newTestRegistry(source, &stubAdapter{family: "stub"})

	require.NoError(t, reg.Rebuild(context.Background()))

	_, err := reg.Chat("known")
	assert.NoError(t, err)
	_, err = reg.Chat("mystery")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Rebuild_BuildErrorIsolatedToConfig(t *testing.T) {
	source := &stubSource{configs: []ModelConfig{
		{ID: "good", Type: TypeChat, Provider: "stub"},
		{ID: "bad", Type: TypeChat, Provider: "stub"},
	}}
	reg := newTestRegistry(source, &stubAdapter{family: "stub", failID: "bad"})

	require.NoError(t, reg.Rebuild(context.Background()))

	_, err := reg.Chat("good")
	assert.NoError(t, err)
	_, err = reg.Chat("bad")
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = reg.StreamingChat("bad")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Rebuild_ValidateErrorSkips(t *testing.T) {
	source := &stubSource{configs: []ModelConfig{
		{ID: "m1", Type: TypeChat, Provider: "stub"},
	}}
	reg := newTestRegistry(source, &stubAdapter{family: "stub", validErr: ErrMissingAPIKey})

	require.NoError(t, reg.Rebuild(context.Background()))

	_, err := reg.Chat("m1")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Rebuild_SourceErrorKeepsOldSnapshot(t *testing.T) {
	source := &stubSource{configs: []ModelConfig{
		{ID: "m1", Type: TypeChat, Provider: "stub"},
	}}
	reg := newTestRegistry(source, &stubAdapter{family: "stub"})
	require.NoError(t, reg.Rebuild(context.Background()))

	source.mu.Lock()
	source.err = errors.New("db down")
	source.mu.Unlock()

	err := reg.Rebuild(context.Background())
	require.Error(t, err)

	// The previous generation stays live.
	_, err = reg.Chat("m1")
	assert.NoError(t, err)
}

func TestRegistry_Rebuild_ReplacesWholesale(t *testing.T) {
	source := &stubSource{configs: []ModelConfig{
		{ID: "old", Type: TypeChat, Provider: "stub"},
	}}
	reg := newTestRegistry(source, &stubAdapter{family: "stub"})
	require.NoError(t, reg.Rebuild(context.Background()))

	source.set([]ModelConfig{{ID: "new", Type: TypeChat, Provider: "stub"}})
	require.NoError(t, reg.Rebuild(context.Background()))

	_, err := reg.Chat("old")
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = reg.Chat("new")
	assert.NoError(t, err)
}

// Resolvers racing concurrent rebuilds must always observe a complete
// generation: every ID they resolve belongs to exactly one snapshot.
func TestRegistry_ConcurrentResolveAndRebuild(t *testing.T) {
	source := &stubSource{configs: []ModelConfig{
		{ID: "a", Type: TypeChat, Provider: "stub"},
		{ID: "b", Type: TypeChat, Provider: "stub"},
	}}
	reg := newTestRegistry(source, &stubAdapter{family: "stub"})
	require.NoError(t, reg.Rebuild(context.Background()))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if c, err := reg.Chat("a"); err == nil {
					assert.NotNil(t, c)
				}
				if c, err := reg.StreamingChat("b"); err == nil {
					assert.NotNil(t, c)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, reg.Rebuild(context.Background()))
	}
	close(stop)
	wg.Wait()
}

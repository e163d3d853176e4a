package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreai/aigate/internal/conversation"
	"github.com/libreai/aigate/internal/knowledge"
	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/testutil"
	"github.com/libreai/aigate/internal/vector"
)

type fakeModels struct {
	streaming map[string]provider.StreamingChatClient
	chat      map[string]provider.ChatClient
	image     map[string]provider.ImageClient
}

func (f *fakeModels) StreamingChat(id string) (provider.StreamingChatClient, error) {
	if c, ok := f.streaming[id]; ok {
		return c, nil
	}
	return nil, provider.ErrModelNotFound
}

func (f *fakeModels) Chat(id string) (provider.ChatClient, error) {
	if c, ok := f.chat[id]; ok {
		return c, nil
	}
	return nil, provider.ErrModelNotFound
}

func (f *fakeModels) Image(id string) (provider.ImageClient, error) {
	if c, ok := f.image[id]; ok {
		return c, nil
	}
	return nil, provider.ErrModelNotFound
}

type fakeRetriever struct {
	embedder provider.EmbeddingClient
	store    vector.Store
	err      error
}

func (f *fakeRetriever) EmbeddingClientFor(ids []string) (provider.EmbeddingClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embedder, nil
}

func (f *fakeRetriever) StoreFor(ids []string) (vector.Store, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.store, nil
}

type fakeLog struct {
	mu           sync.Mutex
	records      []conversation.Record
	history      []provider.Message
	historyCalls int
	cleared      []string
}

func (f *fakeLog) Append(ctx context.Context, rec conversation.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLog) History(ctx context.Context, id string, limit int) ([]provider.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	return f.history, nil
}

func (f *fakeLog) Clear(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
	return nil
}

func (f *fakeLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type orchFixture struct {
	orch      *Orchestrator
	models    *fakeModels
	retriever *fakeRetriever
	memory    *conversation.MemoryStore
	msgLog    *fakeLog
	store     *testutil.MemVectorStore
	embedder  *testutil.MockEmbedder
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()
	store := testutil.NewMemVectorStore()
	embedder := testutil.NewMockEmbedder(8)
	models := &fakeModels{
		streaming: map[string]provider.StreamingChatClient{},
		chat:      map[string]provider.ChatClient{},
		image:     map[string]provider.ImageClient{},
	}
	retriever := &fakeRetriever{embedder: embedder, store: store}
	memory := conversation.NewMemoryStore()
	msgLog := &fakeLog{}
	return &orchFixture{
		orch:      NewOrchestrator(models, retriever, memory, msgLog, nil, 4, log.NewNop()),
		models:    models,
		retriever: retriever,
		memory:    memory,
		msgLog:    msgLog,
		store:     store,
		embedder:  embedder,
	}
}

func TestStreamChat_HappyPath(t *testing.T) {
	fx := newOrchFixture(t)
	mock := &testutil.MockStreamingChat{
		Tokens: []string{"He", "llo", "!"},
		Usage:  provider.Usage{PromptTokens: 4, CompletionTokens: 3, TotalTokens: 7},
	}
	fx.models.streaming["m1"] = mock

	bridge := NewBridge(context.Background())
	err := fx.orch.StreamChat(context.Background(), Request{
		ConversationID: "c1", ModelID: "m1", Prompt: "say hello",
	}, bridge)
	require.NoError(t, err)

	frames := collectFrames(t, bridge)
	require.Len(t, frames, 4)
	assert.Equal(t, "He", frames[0].Token)
	assert.Equal(t, "llo", frames[1].Token)
	assert.Equal(t, "!", frames[2].Token)
	require.Equal(t, FrameDone, frames[3].Type)
	assert.Equal(t, 7, frames[3].Done.Usage.TotalTokens)
	assert.Equal(t, "c1", frames[3].Done.ConversationID)

	// The exchange is persisted to memory and the log.
	msgs := fx.memory.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "say hello", msgs[0].Text)
	assert.Equal(t, "Hello!", msgs[1].Text)
	assert.Equal(t, 2, fx.msgLog.count())
}

func TestStreamChat_UnknownModelNothingPersisted(t *testing.T) {
	fx := newOrchFixture(t)

	bridge := NewBridge(context.Background())
	err := fx.orch.StreamChat(context.Background(), Request{
		ConversationID: "c1", ModelID: "ghost", Prompt: "hi",
	}, bridge)
	require.ErrorIs(t, err, provider.ErrModelNotFound)

	frames := collectFrames(t, bridge)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.ErrorIs(t, frames[0].Err, provider.ErrModelNotFound)

	assert.Empty(t, fx.memory.Messages("c1"))
	assert.Zero(t, fx.msgLog.count())
}

func TestStreamChat_ProviderErrorNothingPersisted(t *testing.T) {
	fx := newOrchFixture(t)
	fx.models.streaming["m1"] = &testutil.MockStreamingChat{
		Tokens:   []string{"par", "tial"},
		ErrAfter: errors.New("connection reset"),
	}

	bridge := NewBridge(context.Background())
	err := fx.orch.StreamChat(context.Background(), Request{
		ConversationID: "c1", ModelID: "m1", Prompt: "hi",
	}, bridge)
	require.Error(t, err)

	frames := collectFrames(t, bridge)
	last := frames[len(frames)-1]
	assert.Equal(t, FrameError, last.Type)

	assert.Empty(t, fx.memory.Messages("c1"), "failed stream persists nothing")
	assert.Zero(t, fx.msgLog.count())
}

func TestStreamChat_SystemPromptSeededOnce(t *testing.T) {
	fx := newOrchFixture(t)
	mock := &testutil.MockStreamingChat{Tokens: []string{"ok"}}
	fx.models.streaming["m1"] = mock

	for i := 0; i < 2; i++ {
		bridge := NewBridge(context.Background())
		req := Request{
			ConversationID: "c1", ModelID: "m1",
			Prompt: "hi", SystemPrompt: "be brief",
		}
		require.NoError(t, fx.orch.StreamChat(context.Background(), req, bridge))
		collectFrames(t, bridge)
	}

	sent := mock.LastMessages()
	systemCount := 0
	for _, m := range sent {
		if m.Role == provider.RoleSystem {
			systemCount++
		}
	}
	assert.Equal(t, 1, systemCount, "system prompt appears exactly once")
}

func TestStreamChat_RetrievalInjectsContext(t *testing.T) {
	fx := newOrchFixture(t)
	mock := &testutil.MockStreamingChat{Tokens: []string{"ok"}}
	fx.models.streaming["m1"] = mock

	// Seed the store with a segment tagged for kb-1.
	vecs, err := fx.embedder.Embed(context.Background(), []string{"Paris is the capital of France."})
	require.NoError(t, err)
	require.NoError(t, fx.store.Add(context.Background(), []vector.Document{{
		ID: "v1", Content: "Paris is the capital of France.",
		Embedding: vecs[0],
		Metadata:  map[string]string{knowledge.MetadataKnowledgeID: "kb-1"},
	}}))

	bridge := NewBridge(context.Background())
	err = fx.orch.StreamChat(context.Background(), Request{
		ConversationID: "c1", ModelID: "m1",
		Prompt: "What is the capital of France?", KnowledgeIDs: []string{"kb-1"},
	}, bridge)
	require.NoError(t, err)
	collectFrames(t, bridge)

	sent := mock.LastMessages()
	require.NotEmpty(t, sent)

	var contextInjected bool
	for _, m := range sent {
		if strings.Contains(m.Text, "Paris is the capital of France.") {
			contextInjected = true
		}
	}
	assert.True(t, contextInjected, "retrieved segment appears in the prompt")
	assert.Equal(t, provider.RoleUser, sent[len(sent)-1].Role, "user prompt comes last")
}

func TestStreamChat_RetrievalBindingErrorPropagates(t *testing.T) {
	fx := newOrchFixture(t)
	fx.models.streaming["m1"] = &testutil.MockStreamingChat{Tokens: []string{"ok"}}
	fx.retriever.err = knowledge.ErrHeterogeneousBinding

	bridge := NewBridge(context.Background())
	err := fx.orch.StreamChat(context.Background(), Request{
		ConversationID: "c1", ModelID: "m1",
		Prompt: "hi", KnowledgeIDs: []string{"kb-1", "kb-2"},
	}, bridge)
	require.ErrorIs(t, err, knowledge.ErrHeterogeneousBinding)

	frames := collectFrames(t, bridge)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Zero(t, fx.msgLog.count())
}

func TestText_PropagatesProviderError(t *testing.T) {
	fx := newOrchFixture(t)
	fx.models.chat["m1"] = &testutil.MockChat{Err: errors.New("quota exceeded")}

	_, err := fx.orch.Text(context.Background(), Request{
		ConversationID: "c1", ModelID: "m1", Prompt: "hi",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Zero(t, fx.msgLog.count())
}

func TestText_HappyPathPersists(t *testing.T) {
	fx := newOrchFixture(t)
	fx.models.chat["m1"] = &testutil.MockChat{Result: &provider.ChatResult{
		Text:  "Hello!",
		Usage: provider.Usage{TotalTokens: 5},
	}}

	result, err := fx.orch.Text(context.Background(), Request{
		ConversationID: "c1", ModelID: "m1", Prompt: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", result.Text)
	assert.Equal(t, 2, fx.msgLog.count())
}

func TestImage(t *testing.T) {
	fx := newOrchFixture(t)
	fx.models.image["img1"] = &testutil.MockImage{Result: &provider.ImageResult{URL: "https://img.example/1.png"}}

	result, err := fx.orch.Image(context.Background(), "img1", "a lighthouse")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", result.URL)

	_, err = fx.orch.Image(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, provider.ErrModelNotFound)
}

func TestClearConversation(t *testing.T) {
	fx := newOrchFixture(t)
	fx.memory.Append("c1", provider.Message{Role: provider.RoleUser, Text: "hi"})

	require.NoError(t, fx.orch.ClearConversation(context.Background(), "c1"))

	assert.Empty(t, fx.memory.Messages("c1"))
	assert.Equal(t, []string{"c1"}, fx.msgLog.cleared)
}

func TestStreamChat_HistoryReloadedFromLog(t *testing.T) {
	fx := newOrchFixture(t)
	mock := &testutil.MockStreamingChat{Tokens: []string{"ok"}}
	fx.models.streaming["m1"] = mock
	fx.msgLog.history = []provider.Message{
		{Role: provider.RoleUser, Text: "earlier question"},
		{Role: provider.RoleAssistant, Text: "earlier answer"},
	}

	bridge := NewBridge(context.Background())
	require.NoError(t, fx.orch.StreamChat(context.Background(), Request{
		ConversationID: "c1", ModelID: "m1", Prompt: "follow-up",
	}, bridge))
	collectFrames(t, bridge)

	sent := mock.LastMessages()
	require.GreaterOrEqual(t, len(sent), 3)
	assert.Equal(t, "earlier question", sent[0].Text)
	assert.Equal(t, "earlier answer", sent[1].Text)
	assert.Equal(t, "follow-up", sent[len(sent)-1].Text)
}

func TestStreamChat_HistoryQueriedOncePerConversation(t *testing.T) {
	fx := newOrchFixture(t)
	fx.models.streaming["m1"] = &testutil.MockStreamingChat{Tokens: []string{"ok"}}

	for i := 0; i < 3; i++ {
		bridge := NewBridge(context.Background())
		require.NoError(t, fx.orch.StreamChat(context.Background(), Request{
			ConversationID: "c1", ModelID: "m1", Prompt: "hi",
		}, bridge))
		collectFrames(t, bridge)
	}

	fx.msgLog.mu.Lock()
	calls := fx.msgLog.historyCalls
	fx.msgLog.mu.Unlock()
	assert.Equal(t, 1, calls, "later turns serve history from working memory")

	// A different conversation loads its own history once.
	bridge := NewBridge(context.Background())
	require.NoError(t, fx.orch.StreamChat(context.Background(), Request{
		ConversationID: "c2", ModelID: "m1", Prompt: "hi",
	}, bridge))
	collectFrames(t, bridge)

	fx.msgLog.mu.Lock()
	calls = fx.msgLog.historyCalls
	fx.msgLog.mu.Unlock()
	assert.Equal(t, 2, calls)
}

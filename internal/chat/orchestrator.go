package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/libreai/aigate/internal/conversation"
	"github.com/libreai/aigate/internal/knowledge"
	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/vector"
)

// Request is one generation request.
type Request struct {
	ConversationID string
	ModelID        string
	Prompt         string
	SystemPrompt   string
	KnowledgeIDs   []string
}

// ModelResolver resolves model-config IDs to clients.
type ModelResolver interface {
	StreamingChat(id string) (provider.StreamingChatClient, error)
	Chat(id string) (provider.ChatClient, error)
	Image(id string) (provider.ImageClient, error)
}

// Retriever resolves retrieval bindings for knowledge bases.
type Retriever interface {
	EmbeddingClientFor(knowledgeIDs []string) (provider.EmbeddingClient, error)
	StoreFor(knowledgeIDs []string) (vector.Store, error)
}

// MessageLog is the durable side of conversation history.
type MessageLog interface {
	Append(ctx context.Context, rec conversation.Record) error
	History(ctx context.Context, conversationID string, limit int) ([]provider.Message, error)
	Clear(ctx context.Context, conversationID string) error
}

// historyLimit caps how many logged messages are reloaded into working
// memory when a conversation is first seen after a restart.
const historyLimit = 100

// Orchestrator drives generation requests end to end. Safe for concurrent
// use; per-conversation ordering comes from the memory store.
type Orchestrator struct {
	models    ModelResolver
	retriever Retriever
	memory    *conversation.MemoryStore
	msgLog    MessageLog
	limiter   *rate.Limiter
	topK      int
	logger    log.Logger
}

// NewOrchestrator wires the orchestrator. limiter may be nil to disable
// proactive rate limiting.
func NewOrchestrator(models ModelResolver, retriever Retriever, memory *conversation.MemoryStore,
	msgLog MessageLog, limiter *rate.Limiter, topK int, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		models:    models,
		retriever: retriever,
		memory:    memory,
		msgLog:    msgLog,
		limiter:   limiter,
		topK:      topK,
		logger:    logger.With("component", "chat_orchestrator"),
	}
}

// StreamChat runs one streaming generation into the bridge. On success the
// terminal done frame is delivered before the exchange is persisted; on
// failure the terminal error frame is delivered, nothing is persisted and
// the error is returned.
func (o *Orchestrator) StreamChat(ctx context.Context, req Request, bridge *Bridge) error {
	start := time.Now()

	client, err := o.models.StreamingChat(req.ModelID)
	if err != nil {
		bridge.Error(err)
		return err
	}

	messages, err := o.assemble(ctx, req)
	if err != nil {
		bridge.Error(err)
		return err
	}

	if err := o.wait(ctx); err != nil {
		bridge.Error(err)
		return err
	}

	result, err := client.StreamChat(ctx, messages, bridge.Partial)
	if err != nil {
		bridge.Error(err)
		return fmt.Errorf("stream chat %s: %w", req.ModelID, err)
	}

	bridge.Complete(Done{
		Usage:          result.Usage,
		FinishReason:   result.FinishReason,
		ElapsedMs:      time.Since(start).Milliseconds(),
		ConversationID: req.ConversationID,
	})

	o.persist(ctx, req, result)
	return nil
}

// Text runs one blocking generation. Errors propagate to the caller.
func (o *Orchestrator) Text(ctx context.Context, req Request) (*provider.ChatResult, error) {
	client, err := o.models.Chat(req.ModelID)
	if err != nil {
		return nil, err
	}

	messages, err := o.assemble(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := o.wait(ctx); err != nil {
		return nil, err
	}

	result, err := client.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", req.ModelID, err)
	}

	o.persist(ctx, req, result)
	return result, nil
}

// Image generates one image from a prompt.
func (o *Orchestrator) Image(ctx context.Context, modelID, prompt string) (*provider.ImageResult, error) {
	client, err := o.models.Image(modelID)
	if err != nil {
		return nil, err
	}
	if err := o.wait(ctx); err != nil {
		return nil, err
	}
	result, err := client.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate image %s: %w", modelID, err)
	}
	return result, nil
}

// ClearConversation drops working memory and the durable log for one
// conversation.
func (o *Orchestrator) ClearConversation(ctx context.Context, conversationID string) error {
	o.memory.Clear(conversationID)
	if err := o.msgLog.Clear(ctx, conversationID); err != nil {
		return fmt.Errorf("clear conversation %s: %w", conversationID, err)
	}
	return nil
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// assemble builds the provider message list: seeded history, optional
// retrieved context, then the user prompt.
func (o *Orchestrator) assemble(ctx context.Context, req Request) ([]provider.Message, error) {
	if req.SystemPrompt != "" {
		o.memory.InitSystem(req.ConversationID, req.SystemPrompt)
	}
	// The log is only consulted the first time a conversation is seen in
	// this process; afterwards working memory is authoritative.
	if !o.memory.HistorySeeded(req.ConversationID) {
		history, err := o.msgLog.History(ctx, req.ConversationID, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		o.memory.InitHistory(req.ConversationID, history)
	}

	messages := o.memory.Messages(req.ConversationID)

	if len(req.KnowledgeIDs) > 0 {
		contextMsg, err := o.retrieve(ctx, req)
		if err != nil {
			return nil, err
		}
		if contextMsg != "" {
			messages = append(messages, provider.Message{
				Role: provider.RoleSystem,
				Text: contextMsg,
			})
		}
	}

	return append(messages, provider.Message{Role: provider.RoleUser, Text: req.Prompt}), nil
}

// retrieve embeds the prompt, searches every requested knowledge base and
// renders the best hits into one context block.
func (o *Orchestrator) retrieve(ctx context.Context, req Request) (string, error) {
	embedder, err := o.retriever.EmbeddingClientFor(req.KnowledgeIDs)
	if err != nil {
		return "", err
	}
	store, err := o.retriever.StoreFor(req.KnowledgeIDs)
	if err != nil {
		return "", err
	}

	vectors, err := embedder.Embed(ctx, []string{req.Prompt})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return "", fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	var hits []vector.Result
	for _, id := range req.KnowledgeIDs {
		results, err := store.Search(ctx, vectors[0], o.topK, knowledge.SearchFilter(id))
		if err != nil {
			return "", fmt.Errorf("search knowledge base %s: %w", id, err)
		}
		hits = append(hits, results...)
	}
	if len(hits) == 0 {
		return "", nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > o.topK {
		hits = hits[:o.topK]
	}

	var b strings.Builder
	b.WriteString("Answer using the following context where relevant:\n")
	for _, h := range hits {
		b.WriteString("\n---\n")
		b.WriteString(h.Content)
	}
	return b.String(), nil
}

// persist records the exchange in working memory and the durable log.
// Log failures are logged, not surfaced: the response already reached the
// client.
func (o *Orchestrator) persist(ctx context.Context, req Request, result *provider.ChatResult) {
	o.memory.Append(req.ConversationID, provider.Message{Role: provider.RoleUser, Text: req.Prompt})
	o.memory.Append(req.ConversationID, provider.Message{Role: provider.RoleAssistant, Text: result.Text})

	if err := o.msgLog.Append(ctx, conversation.Record{
		ConversationID: req.ConversationID,
		Role:           provider.RoleUser,
		Content:        req.Prompt,
		PromptTokens:   result.Usage.PromptTokens,
	}); err != nil {
		o.logger.Error("persist user message failed",
			"conversation_id", req.ConversationID, "error", err)
	}
	if err := o.msgLog.Append(ctx, conversation.Record{
		ConversationID:   req.ConversationID,
		Role:             provider.RoleAssistant,
		Content:          result.Text,
		CompletionTokens: result.Usage.CompletionTokens,
	}); err != nil {
		o.logger.Error("persist assistant message failed",
			"conversation_id", req.ConversationID, "error", err)
	}
}

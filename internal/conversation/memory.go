// Package conversation keeps per-conversation chat history: a fast
// in-process working memory feeding prompts, and a PostgreSQL message log
// for durability.
package conversation

import (
	"sync"

	"github.com/libreai/aigate/internal/provider"
)

// MemoryStore holds the working history of every active conversation.
//
// Operations on different conversations run concurrently; operations on the
// same conversation are serialized by a per-conversation lock. Init
// methods are idempotent per process lifetime: the first call wins and
// later calls on the same conversation are ignored, so concurrent request
// handlers cannot double-seed history.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*entry
}

type entry struct {
	mu         sync.Mutex
	messages   []provider.Message
	sysSeeded  bool
	histSeeded bool
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string]*entry{}}
}

func (s *MemoryStore) get(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.convs[id]
	if !ok {
		e = &entry{}
		s.convs[id] = e
	}
	return e
}

// Messages returns a copy of the conversation history, never nil.
func (s *MemoryStore) Messages(id string) []provider.Message {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]provider.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Append adds one message to the conversation.
func (s *MemoryStore) Append(id string, msg provider.Message) {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
}

// InitSystem seeds the system prompt at the head of the conversation.
// Only the first call per conversation takes effect.
func (s *MemoryStore) InitSystem(id, text string) {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sysSeeded {
		return
	}
	e.sysSeeded = true
	msg := provider.Message{Role: provider.RoleSystem, Text: text}
	e.messages = append([]provider.Message{msg}, e.messages...)
}

// HistorySeeded reports whether InitHistory already ran for the
// conversation, letting callers skip the storage reload on later turns.
func (s *MemoryStore) HistorySeeded(id string) bool {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.histSeeded
}

// InitHistory seeds prior messages (for example reloaded from the message
// log) after any system prompt. Only the first call per conversation takes
// effect.
func (s *MemoryStore) InitHistory(id string, history []provider.Message) {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.histSeeded {
		return
	}
	e.histSeeded = true

	if len(history) == 0 {
		return
	}
	// Keep the system prompt first if one was already seeded.
	var head, tail []provider.Message
	if len(e.messages) > 0 && e.messages[0].Role == provider.RoleSystem {
		head = e.messages[:1]
		tail = e.messages[1:]
	} else {
		tail = e.messages
	}
	merged := make([]provider.Message, 0, len(head)+len(history)+len(tail))
	merged = append(merged, head...)
	merged = append(merged, history...)
	merged = append(merged, tail...)
	e.messages = merged
}

// Clear drops the conversation entirely, including its init guards, so a
// cleared conversation can be seeded again.
func (s *MemoryStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
}

package testutil

import (
	"context"
	"sync"

	"github.com/libreai/aigate/internal/provider"
)

// MockStreamingChat is a scripted streaming chat client. It pushes its
// Tokens one at a time, then returns the final result, or ErrAfter when
// set, simulating a stream that fails after emitting partial output.
type MockStreamingChat struct {
	Tokens   []string
	Usage    provider.Usage
	ErrAfter error

	mu       sync.Mutex
	messages [][]provider.Message
}

// StreamChat implements provider.StreamingChatClient.
func (m *MockStreamingChat) StreamChat(ctx context.Context, messages []provider.Message, onPartial provider.PartialFunc) (*provider.ChatResult, error) {
	m.mu.Lock()
	m.messages = append(m.messages, messages)
	m.mu.Unlock()

	var full string
	for _, tok := range m.Tokens {
		if err := onPartial(tok); err != nil {
			return nil, err
		}
		full += tok
	}
	if m.ErrAfter != nil {
		return nil, m.ErrAfter
	}
	return &provider.ChatResult{Text: full, Usage: m.Usage, FinishReason: "stop"}, nil
}

// LastMessages returns the message slice of the most recent call, or nil.
func (m *MockStreamingChat) LastMessages() []provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil
	}
	return m.messages[len(m.messages)-1]
}

// MockChat is a scripted blocking chat client.
type MockChat struct {
	Result *provider.ChatResult
	Err    error

	mu       sync.Mutex
	messages [][]provider.Message
}

// Chat implements provider.ChatClient.
func (m *MockChat) Chat(ctx context.Context, messages []provider.Message) (*provider.ChatResult, error) {
	m.mu.Lock()
	m.messages = append(m.messages, messages)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

// LastMessages returns the message slice of the most recent call, or nil.
func (m *MockChat) LastMessages() []provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil
	}
	return m.messages[len(m.messages)-1]
}

// MockImage is a scripted image client.
type MockImage struct {
	Result *provider.ImageResult
	Err    error
}

// GenerateImage implements provider.ImageClient.
func (m *MockImage) GenerateImage(ctx context.Context, prompt string) (*provider.ImageResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

// Package chat orchestrates generation requests: history assembly,
// retrieval augmentation, provider calls and streaming delivery.
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/libreai/aigate/internal/provider"
)

// ErrStreamEnded is returned by Partial once a terminal frame was
// delivered; a misbehaving provider that keeps pushing tokens is told to
// stop instead of corrupting the stream.
var ErrStreamEnded = errors.New("stream already terminated")

// FrameType discriminates stream frames.
type FrameType string

const (
	// FrameToken carries one partial token.
	FrameToken FrameType = "token"
	// FrameDone is the successful terminal frame.
	FrameDone FrameType = "done"
	// FrameError is the failure terminal frame.
	FrameError FrameType = "error"
)

// Done is the payload of a successful terminal frame.
type Done struct {
	Usage          provider.Usage `json:"usage"`
	FinishReason   string         `json:"finishReason"`
	ElapsedMs      int64          `json:"elapsedMs"`
	ConversationID string         `json:"conversationId"`
}

// Frame is one element of the pull-side stream.
type Frame struct {
	Type  FrameType
	Token string
	Done  *Done
	Err   error
}

// defaultBridgeBuffer absorbs bursts of small tokens without making the
// producer wait on the consumer for every frame.
const defaultBridgeBuffer = 64

// Bridge converts a provider's push callbacks into a pull stream of frames.
//
// The producer side calls Partial for each token and exactly one of
// Complete or Error to terminate; extra terminal calls are ignored. The
// consumer ranges over Frames, which closes after the terminal frame.
// When the request context ends the bridge stops forwarding and Partial
// returns the context error, so an abandoned consumer cancels the
// producer instead of blocking it.
type Bridge struct {
	ctx    context.Context
	frames chan Frame

	// mu serializes producer-side sends with the terminal close, so a
	// late Partial can never race a closed channel.
	mu   sync.Mutex
	done bool
}

// NewBridge creates a bridge bound to the request context.
func NewBridge(ctx context.Context) *Bridge {
	return &Bridge{
		ctx:    ctx,
		frames: make(chan Frame, defaultBridgeBuffer),
	}
}

// Frames returns the consumer side of the stream. The channel closes after
// the terminal frame.
func (b *Bridge) Frames() <-chan Frame {
	return b.frames
}

// Partial forwards one token. Returns the context error once the request
// context has ended, or ErrStreamEnded after a terminal call.
func (b *Bridge) Partial(token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return ErrStreamEnded
	}
	select {
	case b.frames <- Frame{Type: FrameToken, Token: token}:
		return nil
	case <-b.ctx.Done():
		return b.ctx.Err()
	}
}

// Complete delivers the successful terminal frame. Only the first terminal
// call (Complete or Error) takes effect.
func (b *Bridge) Complete(done Done) {
	b.terminate(Frame{Type: FrameDone, Done: &done})
}

// Error delivers the failure terminal frame. Only the first terminal call
// (Complete or Error) takes effect.
func (b *Bridge) Error(err error) {
	b.terminate(Frame{Type: FrameError, Err: err})
}

func (b *Bridge) terminate(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	select {
	case b.frames <- f:
	case <-b.ctx.Done():
	}
	close(b.frames)
}

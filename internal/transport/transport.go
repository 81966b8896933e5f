// Package transport carries messages between the conversation engine and the
// provider pipeline. Two interchangeable channels implement the same narrow
// interface: a websocket connection to a relay process, and an in-process
// channel that runs the provider pipeline directly. The engine never knows
// which one is active.
package transport

import (
	"context"

	"sidechat/internal/domain/session"
)

// Message type discriminators for typed inbound updates. Legacy and
// patch-style messages carry no type and are discriminated by field presence.
const (
	TypeThinkingProgress = "thinking_progress"
	TypeThinkingUpdate   = "thinking_update"
	TypeContentUpdate    = "content_update"
)

// Message is one inbound update pushed from the provider side. Pointer
// fields distinguish "absent" from zero values; text fields carry full
// accumulated content, not fragments.
type Message struct {
	Type             string           `json:"type,omitempty"`
	ReasoningContent *string          `json:"reasoningContent,omitempty"`
	ActualContent    *string          `json:"actualContent,omitempty"`
	ThinkingTime     *int64           `json:"thinkingTime,omitempty"`
	IsThinking       *bool            `json:"isThinking,omitempty"`
	Answer           *string          `json:"answer,omitempty"`
	Session          *session.Session `json:"session,omitempty"`
	Error            *string          `json:"error,omitempty"`
	Done             *bool            `json:"done,omitempty"`
}

// IsDone reports whether the message marks turn completion.
func (m Message) IsDone() bool {
	return m.Done != nil && *m.Done
}

// Request is one outbound frame: a session to start or continue a turn, or a
// stop to cancel the in-flight one.
type Request struct {
	Session *session.Session `json:"session,omitempty"`
	Stop    bool             `json:"stop,omitempty"`
}

// Sink receives inbound messages. Implementations of Transport invoke it
// sequentially; the engine relies on that to keep store mutation unlocked.
type Sink func(Message)

// Transport dispatches outbound requests and routes inbound messages to the
// sink it was constructed with.
type Transport interface {
	Send(ctx context.Context, req Request) error
	Close() error
}

// Streamer runs one provider turn, pushing updates through emit until the
// turn finishes, fails, or ctx is cancelled. Implemented by the provider
// runner; consumed by the in-process channel and the relay handler.
type Streamer interface {
	Stream(ctx context.Context, sess *session.Session, emit Sink) error
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

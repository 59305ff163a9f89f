// ABOUTME: Engine interface and event types for the external reasoning engine
// ABOUTME: Models one invocation as a finite, one-shot sequence of events

package engine

import (
	"context"
	"errors"
)

// ErrNotReady indicates the reasoning engine is not available for requests.
var ErrNotReady = errors.New("engine not ready")

// EventType identifies one kind of activity notification from the engine
type EventType string

const (
	// EventThinking marks the start of a reasoning iteration
	EventThinking EventType = "thinking"
	// EventToolCall reports a tool invocation with its arguments
	EventToolCall EventType = "tool_call"
	// EventToolResult reports a tool's outcome
	EventToolResult EventType = "tool_result"
	// EventFinal carries the terminal answer; always the last event
	EventFinal EventType = "final"
	// EventError reports an engine fault; always the last event
	EventError EventType = "error"
)

// Event is one activity notification from a reasoning invocation.
// Fields are populated per type: Iteration for thinking, ToolName/ToolArgs
// for tool_call, ToolName/Result/OK for tool_result, Content for final,
// Message for error.
type Event struct {
	Type      EventType
	Iteration int
	ToolName  string
	ToolArgs  string
	Result    string
	OK        bool
	Content   string
	Message   string
}

// Terminal reports whether this event ends the invocation
func (e Event) Terminal() bool {
	return e.Type == EventFinal || e.Type == EventError
}

// Request describes one reasoning invocation
type Request struct {
	Content    string
	Session    string
	Constraint string // Optional processing constraint passed through verbatim
}

// Engine drives one reasoning invocation at a time. Process returns a channel
// that yields events in production order, ending with exactly one terminal
// event (final or error) before the channel is closed. Cancelling the context
// abandons the invocation; the channel is closed without further events.
type Engine interface {
	Process(ctx context.Context, req Request) (<-chan Event, error)
	Ready(ctx context.Context) bool
}

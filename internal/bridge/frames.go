// ABOUTME: Outbound frame types for the client wire protocol
// ABOUTME: One Frame struct covers all server-to-client message shapes

package bridge

import "time"

// Frame type constants, in the order a typical run emits them
const (
	FrameThinking   = "thinking"
	FrameToolCall   = "tool_call"
	FrameToolResult = "tool_result"
	FrameHeartbeat  = "heartbeat"
	FrameFinal      = "final"
	FrameError      = "error"
)

// Frame is one discrete server-to-client protocol message. Fields are
// populated per type; unused fields are omitted from the JSON encoding.
type Frame struct {
	Type      string  `json:"type"`
	Iteration int     `json:"iteration,omitempty"`
	Name      string  `json:"name,omitempty"`
	Arguments string  `json:"arguments,omitempty"`
	Result    string  `json:"result,omitempty"`
	Success   *bool   `json:"success,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Content   string  `json:"content,omitempty"`
	Emotion   string  `json:"emotion,omitempty"`
	Session   string  `json:"session,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Terminal reports whether this frame ends a run
func (f Frame) Terminal() bool {
	return f.Type == FrameFinal || f.Type == FrameError
}

func thinkingFrame(iteration int) Frame {
	return Frame{Type: FrameThinking, Iteration: iteration, Emotion: "thinking"}
}

func toolCallFrame(name, arguments string) Frame {
	return Frame{Type: FrameToolCall, Name: name, Arguments: arguments, Emotion: "gear"}
}

func toolResultFrame(name, result string, ok bool) Frame {
	return Frame{Type: FrameToolResult, Name: name, Result: result, Success: &ok, Emotion: "cool"}
}

func heartbeatFrame(at time.Time) Frame {
	return Frame{Type: FrameHeartbeat, Timestamp: unixSeconds(at)}
}

func finalFrame(content, emotion, session string, at time.Time) Frame {
	return Frame{Type: FrameFinal, Content: content, Emotion: emotion, Session: session, Timestamp: unixSeconds(at)}
}

// ErrorFrame builds an error frame with a human-readable message
func ErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Message: message}
}

// unixSeconds converts a time to wall-clock seconds with fractional precision
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

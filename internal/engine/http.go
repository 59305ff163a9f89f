// ABOUTME: HTTP client for the reasoning engine's streaming process endpoint
// ABOUTME: Decodes newline-delimited JSON events into the Event channel

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// eventScanBuffer bounds a single NDJSON event line (tool results can be large)
const eventScanBuffer = 1 << 20

// HTTPEngine talks to a reasoning engine over HTTP. A process request is a
// POST whose response body is a stream of newline-delimited JSON events.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHTTPEngine creates an engine client for the given base endpoint.
// The timeout bounds one full invocation, not individual events.
func NewHTTPEngine(endpoint string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
		timeout:  timeout,
		logger:   slog.Default().With("component", "engine"),
	}
}

// wireEvent is the NDJSON representation of one engine event
type wireEvent struct {
	Type      string `json:"type"`
	Iteration int    `json:"iteration,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Process starts one reasoning invocation and streams its events.
// The returned channel is closed after the terminal event, on context
// cancellation, or if the stream breaks (a synthesized error event is
// emitted in that last case).
func (e *HTTPEngine) Process(ctx context.Context, req Request) (<-chan Event, error) {
	body, err := json.Marshal(map[string]string{
		"message":    req.Content,
		"session":    req.Session,
		"constraint": req.Constraint,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/process", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("calling engine: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer cancel()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), eventScanBuffer)

		terminal := false
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var we wireEvent
			if err := json.Unmarshal(line, &we); err != nil {
				e.logger.Warn("skipping malformed engine event", "error", err)
				continue
			}

			ev := decodeEvent(we)
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				terminal = true
				break
			}
		}

		// Stream ended without a terminal event: surface it as an engine
		// fault so the caller always sees exactly one terminal event.
		if !terminal && ctx.Err() == nil {
			msg := "engine stream ended unexpectedly"
			if err := scanner.Err(); err != nil {
				msg = fmt.Sprintf("engine stream failed: %v", err)
			}
			e.logger.Error("engine stream broke before terminal event", "session", req.Session, "message", msg)
			select {
			case events <- Event{Type: EventError, Message: msg}:
			case <-ctx.Done():
			}
		}
	}()

	return events, nil
}

func decodeEvent(we wireEvent) Event {
	ev := Event{
		Type:      EventType(we.Type),
		Iteration: we.Iteration,
		ToolName:  we.Name,
		ToolArgs:  we.Arguments,
		Result:    we.Result,
		Content:   we.Content,
		Message:   we.Message,
	}
	// Absent success flag means the tool call succeeded
	ev.OK = we.Success == nil || *we.Success
	return ev
}

// Ready probes the engine's health endpoint
func (e *HTTPEngine) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

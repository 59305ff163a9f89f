// ABOUTME: Run state machine converting engine events into ordered outbound frames
// ABOUTME: Interleaves liveness heartbeats and persists history after the final frame

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tankyhsu/nanobot-web-console/internal/engine"
	"github.com/tankyhsu/nanobot-web-console/internal/store"
)

// ErrEmptyMessage indicates a request with no message text.
var ErrEmptyMessage = errors.New("empty message")

// memoryContextLimit caps the knowledge fragments prepended to a request
const memoryContextLimit = 3

// appendTimeout bounds the post-run history append, which must complete
// even if the client has already disconnected
const appendTimeout = 10 * time.Second

// Knowledge retrieves context fragments for memory augmentation.
// Implementations must tolerate being called when the backend is down.
type Knowledge interface {
	Ready(ctx context.Context) bool
	Retrieve(ctx context.Context, query string, limit int) (string, error)
}

// Request is one client request starting a run
type Request struct {
	Message    string `json:"message"`
	Session    string `json:"session,omitempty"`
	Constraint string `json:"constraint,omitempty"`
}

// Normalize validates the request and fills in a generated session name
// when the client omitted one. The channel prefix ("ws", "api", "cron")
// identifies where the request came from.
func (r *Request) Normalize(channel string) error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if strings.TrimSpace(r.Session) == "" {
		r.Session = fmt.Sprintf("%s:%s", channel, uuid.NewString()[:8])
	}
	return nil
}

// Bridge adapts one reasoning invocation at a time into an ordered frame
// stream. It is stateless across runs and safe for concurrent use; each
// connection drives its own Run call.
type Bridge struct {
	engine    engine.Engine
	store     store.Store
	knowledge Knowledge // nil when the knowledge backend is disabled
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Bridge. knowledge may be nil.
func New(eng engine.Engine, st store.Store, knowledge Knowledge, heartbeat time.Duration, logger *slog.Logger) *Bridge {
	return &Bridge{
		engine:    eng,
		store:     st,
		knowledge: knowledge,
		heartbeat: heartbeat,
		logger:    logger.With("component", "bridge"),
		now:       time.Now,
	}
}

// Run executes one request and returns the ordered frame stream. The channel
// yields frames in emission order, ends with exactly one terminal frame
// (final or error), and is closed afterwards. Cancelling the context stops
// the run without further frames.
//
// The caller must have validated the request via Normalize.
func (b *Bridge) Run(ctx context.Context, req Request) <-chan Frame {
	frames := make(chan Frame, 16)
	go b.run(ctx, req, frames)
	return frames
}

func (b *Bridge) run(ctx context.Context, req Request, frames chan<- Frame) {
	defer close(frames)

	start := b.now()
	content := b.augment(ctx, req.Message)
	if req.Constraint != "" {
		content = fmt.Sprintf("%s\n\n(Response constraint: %s)", content, req.Constraint)
	}

	events, err := b.engine.Process(ctx, engine.Request{
		Content:    content,
		Session:    req.Session,
		Constraint: req.Constraint,
	})
	if err != nil {
		b.logger.Error("engine invocation failed", "session", req.Session, "error", err)
		b.send(ctx, frames, ErrorFrame(fmt.Sprintf("engine unavailable: %v", err)))
		return
	}

	// The heartbeat runs as its own task for the life of the run and is
	// torn down before any terminal frame so nothing follows final/error.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case frames <- heartbeatFrame(b.now()):
				case <-hbCtx.Done():
					return
				}
			case <-hbCtx.Done():
				return
			}
		}
	}()
	terminate := func() {
		stopHeartbeat()
		hbDone.Wait()
	}

	var toolTurns []*store.Turn
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				terminate()
				if ctx.Err() != nil {
					return
				}
				b.send(ctx, frames, ErrorFrame("engine ended without an answer"))
				return
			}

			switch ev.Type {
			case engine.EventThinking:
				if !b.send(ctx, frames, thinkingFrame(ev.Iteration)) {
					terminate()
					return
				}
			case engine.EventToolCall:
				if !b.send(ctx, frames, toolCallFrame(ev.ToolName, ev.ToolArgs)) {
					terminate()
					return
				}
				toolTurns = append(toolTurns, &store.Turn{
					Role:     store.RoleTool,
					Content:  fmt.Sprintf("%s(%s)", ev.ToolName, ev.ToolArgs),
					ToolName: ev.ToolName,
					ToolArgs: ev.ToolArgs,
				})
			case engine.EventToolResult:
				if !b.send(ctx, frames, toolResultFrame(ev.ToolName, ev.Result, ev.OK)) {
					terminate()
					return
				}
				// Attach the result to the matching pending tool turn
				for i := len(toolTurns) - 1; i >= 0; i-- {
					if toolTurns[i].ToolName == ev.ToolName && toolTurns[i].ToolRes == "" {
						toolTurns[i].ToolRes = ev.Result
						toolTurns[i].ToolOK = ev.OK
						break
					}
				}
			case engine.EventFinal:
				terminate()
				clean := cleanForSpeech(ev.Content)
				emotion := detectEmotion(clean)
				if !b.send(ctx, frames, finalFrame(clean, emotion, req.Session, b.now())) {
					return
				}
				b.persistRun(ctx, req, start, toolTurns, ev.Content)
				return
			case engine.EventError:
				terminate()
				b.logger.Error("engine reported failure", "session", req.Session, "message", ev.Message)
				b.send(ctx, frames, ErrorFrame(ev.Message))
				return
			default:
				b.logger.Warn("ignoring unknown engine event", "type", ev.Type, "session", req.Session)
			}

		case <-ctx.Done():
			terminate()
			return
		}
	}
}

// send delivers a frame unless the run was cancelled
func (b *Bridge) send(ctx context.Context, frames chan<- Frame, f Frame) bool {
	select {
	case frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// augment prepends retrieved knowledge context to the user message.
// Retrieval failures are logged and the original message is used as-is.
func (b *Bridge) augment(ctx context.Context, message string) string {
	if b.knowledge == nil || !b.knowledge.Ready(ctx) {
		return message
	}
	snippets, err := b.knowledge.Retrieve(ctx, message, memoryContextLimit)
	if err != nil {
		b.logger.Error("memory augmentation failed", "error", err)
		return message
	}
	if snippets == "" {
		return message
	}
	return fmt.Sprintf("[Relevant context retrieved from the knowledge base, for reference only]\n%s\n[End of context]\n\n%s", snippets, message)
}

// persistRun appends the run's turns to the session store, exactly once per
// run and only after the final frame has been queued. The append uses its
// own deadline so a client disconnect right after the final frame does not
// lose history. Each append is retried once; failures are logged, never
// re-surfaced on the already-terminated frame stream.
func (b *Bridge) persistRun(ctx context.Context, req Request, start time.Time, toolTurns []*store.Turn, answer string) {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	turns := make([]*store.Turn, 0, len(toolTurns)+2)
	turns = append(turns, &store.Turn{Role: store.RoleUser, Content: req.Message, Timestamp: unixSeconds(start)})
	for _, t := range toolTurns {
		t.Timestamp = unixSeconds(b.now())
		turns = append(turns, t)
	}
	turns = append(turns, &store.Turn{Role: store.RoleAssistant, Content: answer, Timestamp: unixSeconds(b.now())})

	for _, turn := range turns {
		if err := b.appendWithRetry(appendCtx, req.Session, turn); err != nil {
			b.logger.Error("session append failed, history incomplete",
				"session", req.Session, "role", turn.Role, "error", err)
			return
		}
	}
}

func (b *Bridge) appendWithRetry(ctx context.Context, session string, turn *store.Turn) error {
	err := b.store.AppendTurn(ctx, session, turn)
	if err == nil {
		return nil
	}
	b.logger.Warn("session append failed, retrying once", "session", session, "error", err)
	return b.store.AppendTurn(ctx, session, turn)
}

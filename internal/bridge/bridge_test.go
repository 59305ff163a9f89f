// ABOUTME: Tests for the run state machine, frame ordering, and heartbeats
// ABOUTME: Covers terminal frame uniqueness, error paths, and history persistence

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankyhsu/nanobot-web-console/internal/engine"
	"github.com/tankyhsu/nanobot-web-console/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestBridge(t *testing.T, eng engine.Engine, st store.Store) *Bridge {
	t.Helper()
	return New(eng, st, nil, 15*time.Second, slog.Default())
}

func collectFrames(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var out []Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("timed out waiting for frames")
		}
	}
}

// nonHeartbeat filters out heartbeat frames, which are timing-dependent
func nonHeartbeat(frames []Frame) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Type != FrameHeartbeat {
			out = append(out, f)
		}
	}
	return out
}

func TestRun_FrameOrder(t *testing.T) {
	eng := &engine.ScriptedEngine{
		Script: []engine.Event{
			{Type: engine.EventThinking, Iteration: 1},
			{Type: engine.EventToolCall, ToolName: "exec", ToolArgs: `{"command":"df -h"}`},
			{Type: engine.EventToolResult, ToolName: "exec", Result: "Filesystem ...", OK: true},
			{Type: engine.EventFinal, Content: "Disk usage looks fine."},
		},
	}
	st := newTestStore(t)
	b := newTestBridge(t, eng, st)

	req := Request{Message: "df -h", Session: "ws:dev1"}
	frames := collectFrames(t, b.Run(context.Background(), req))
	got := nonHeartbeat(frames)

	require.Len(t, got, 4)
	assert.Equal(t, FrameThinking, got[0].Type)
	assert.Equal(t, 1, got[0].Iteration)
	assert.Equal(t, FrameToolCall, got[1].Type)
	assert.Equal(t, "exec", got[1].Name)
	assert.Equal(t, FrameToolResult, got[2].Type)
	require.NotNil(t, got[2].Success)
	assert.True(t, *got[2].Success)
	assert.Equal(t, FrameFinal, got[3].Type)
	assert.Equal(t, "ws:dev1", got[3].Session)
}

func TestRun_ExactlyOneTerminalFrame(t *testing.T) {
	eng := &engine.ScriptedEngine{
		Script: []engine.Event{
			{Type: engine.EventThinking, Iteration: 1},
			{Type: engine.EventFinal, Content: "answer"},
		},
	}
	b := newTestBridge(t, eng, newTestStore(t))

	frames := collectFrames(t, b.Run(context.Background(), Request{Message: "hi", Session: "ws:dev1"}))

	terminals := 0
	for i, f := range frames {
		if f.Terminal() {
			terminals++
			assert.Equal(t, len(frames)-1, i, "terminal frame must be last")
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestRun_PersistsHistoryAfterFinal(t *testing.T) {
	eng := &engine.ScriptedEngine{
		Script: []engine.Event{
			{Type: engine.EventToolCall, ToolName: "exec", ToolArgs: `{"command":"ls"}`},
			{Type: engine.EventToolResult, ToolName: "exec", Result: "file.txt", OK: true},
			{Type: engine.EventFinal, Content: "There is one file."},
		},
	}
	st := newTestStore(t)
	b := newTestBridge(t, eng, st)

	collectFrames(t, b.Run(context.Background(), Request{Message: "list files", Session: "ws:dev1"}))

	turns, err := st.GetTurns(context.Background(), "ws:dev1")
	require.NoError(t, err)
	require.Len(t, turns, 3)

	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, "list files", turns[0].Content)
	assert.Equal(t, store.RoleTool, turns[1].Role)
	assert.Equal(t, "exec", turns[1].ToolName)
	assert.Equal(t, "file.txt", turns[1].ToolRes)
	assert.True(t, turns[1].ToolOK)
	assert.Equal(t, store.RoleAssistant, turns[2].Role)
	assert.Equal(t, "There is one file.", turns[2].Content)

	for i := 1; i < len(turns); i++ {
		assert.GreaterOrEqual(t, turns[i].Timestamp, turns[i-1].Timestamp)
	}
}

func TestRun_EngineErrorEmitsOneErrorFrame(t *testing.T) {
	eng := &engine.ScriptedEngine{
		Script: []engine.Event{
			{Type: engine.EventThinking, Iteration: 1},
			{Type: engine.EventError, Message: "tool layer exploded"},
		},
	}
	st := newTestStore(t)
	b := newTestBridge(t, eng, st)

	frames := collectFrames(t, b.Run(context.Background(), Request{Message: "hi", Session: "ws:dev1"}))
	got := nonHeartbeat(frames)

	require.Len(t, got, 2)
	assert.Equal(t, FrameError, got[1].Type)
	assert.Equal(t, "tool layer exploded", got[1].Message)

	// No partial append for a failed run
	_, err := st.GetTurns(context.Background(), "ws:dev1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_EngineUnavailable(t *testing.T) {
	eng := &engine.ScriptedEngine{Err: errors.New("connection refused")}
	b := newTestBridge(t, eng, newTestStore(t))

	frames := collectFrames(t, b.Run(context.Background(), Request{Message: "hi", Session: "ws:dev1"}))
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Message, "engine unavailable")
}

func TestRun_HeartbeatsWhileRunning(t *testing.T) {
	eng := &engine.ScriptedEngine{
		Script: []engine.Event{
			{Type: engine.EventFinal, Content: "slow answer"},
		},
		Delay: 120 * time.Millisecond,
	}
	st := newTestStore(t)
	b := New(eng, st, nil, 25*time.Millisecond, slog.Default())

	frames := collectFrames(t, b.Run(context.Background(), Request{Message: "hi", Session: "ws:dev1"}))

	heartbeats := 0
	sawTerminal := false
	for _, f := range frames {
		if f.Type == FrameHeartbeat {
			assert.False(t, sawTerminal, "heartbeat after terminal frame")
			assert.Greater(t, f.Timestamp, float64(0))
			heartbeats++
		}
		if f.Terminal() {
			sawTerminal = true
		}
	}
	assert.GreaterOrEqual(t, heartbeats, 2)
	assert.True(t, sawTerminal)
}

func TestRun_CancellationStopsFrames(t *testing.T) {
	eng := &engine.ScriptedEngine{
		Script: []engine.Event{
			{Type: engine.EventThinking, Iteration: 1},
			{Type: engine.EventFinal, Content: "late"},
		},
		Delay: 80 * time.Millisecond,
	}
	b := newTestBridge(t, eng, newTestStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	frames := b.Run(ctx, Request{Message: "hi", Session: "ws:dev1"})

	time.Sleep(20 * time.Millisecond)
	cancel()

	got := collectFrames(t, frames)
	for _, f := range got {
		assert.NotEqual(t, FrameFinal, f.Type, "no final frame after cancellation")
	}
}

func TestRun_AppendRetriedOnce(t *testing.T) {
	eng := &engine.ScriptedEngine{
		Script: []engine.Event{{Type: engine.EventFinal, Content: "ok"}},
	}
	st := &flakyStore{Store: newTestStore(t), failures: 1}
	b := newTestBridge(t, eng, st)

	collectFrames(t, b.Run(context.Background(), Request{Message: "hi", Session: "ws:dev1"}))

	turns, err := st.GetTurns(context.Background(), "ws:dev1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestNormalize(t *testing.T) {
	req := &Request{Message: "  hello  "}
	require.NoError(t, req.Normalize("ws"))
	assert.Equal(t, "hello", req.Message)
	assert.Contains(t, req.Session, "ws:")

	req2 := &Request{Message: "hi", Session: "ws:dev1"}
	require.NoError(t, req2.Normalize("ws"))
	assert.Equal(t, "ws:dev1", req2.Session)

	req3 := &Request{Message: "   "}
	assert.ErrorIs(t, req3.Normalize("ws"), ErrEmptyMessage)
}

// flakyStore fails the first N appends, then delegates
type flakyStore struct {
	store.Store
	failures int
}

func (f *flakyStore) AppendTurn(ctx context.Context, session string, turn *store.Turn) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transient write failure")
	}
	return f.Store.AppendTurn(ctx, session, turn)
}

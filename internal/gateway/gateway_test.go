// ABOUTME: Tests for the gateway HTTP and WebSocket surface
// ABOUTME: Runs handlers against an in-process server with a scripted engine

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankyhsu/nanobot-web-console/internal/bridge"
	"github.com/tankyhsu/nanobot-web-console/internal/cronsync"
	"github.com/tankyhsu/nanobot-web-console/internal/engine"
	"github.com/tankyhsu/nanobot-web-console/internal/store"
)

func scriptedRun() []engine.Event {
	return []engine.Event{
		{Type: engine.EventThinking, Iteration: 1},
		{Type: engine.EventToolCall, Iteration: 1, ToolName: "search", ToolArgs: `{"q":"weather"}`},
		{Type: engine.EventToolResult, Iteration: 1, ToolName: "search", Result: "sunny", OK: true},
		{Type: engine.EventFinal, Content: "It is sunny today, great news!"},
	}
}

func newTestGateway(t *testing.T, eng engine.Engine) (*Gateway, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	g := &Gateway{
		store:     st,
		engine:    eng,
		bridge:    bridge.New(eng, st, nil, 15*time.Second, logger),
		scheduler: cronsync.NewCronScheduler(logger),
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
	}
	g.sync = cronsync.New(st, g.scheduler, cronsync.RunnerFunc(g.runJob), time.Minute, logger)

	srv := httptest.NewServer(g.routes())
	t.Cleanup(srv.Close)
	return g, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decodeBody[map[string]any](t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["agent_ready"])
	assert.NotContains(t, body, "knowledge_ready")
}

func TestHealthEngineDown(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Down: true})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decodeBody[map[string]any](t, resp)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["agent_ready"])
}

func TestChatSynchronous(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})

	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{"message": "how is the weather"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[chatResponse](t, resp)

	assert.Equal(t, "It is sunny today, great news!", body.Response)
	assert.True(t, strings.HasPrefix(body.Session, "api:"), "session %q should be api-channel", body.Session)
	assert.Equal(t, "happy", body.Emotion)
	assert.Greater(t, body.Timestamp, float64(0))
}

func TestChatPersistsHistory(t *testing.T) {
	g, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})

	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{"message": "how is the weather"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[chatResponse](t, resp)

	turns, err := g.store.GetTurns(context.Background(), body.Session)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, store.RoleTool, turns[1].Role)
	assert.Equal(t, store.RoleAssistant, turns[2].Role)
}

func TestChatEmptyMessage(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})

	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{"message": "   "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEngineError(t *testing.T) {
	script := []engine.Event{
		{Type: engine.EventThinking, Iteration: 1},
		{Type: engine.EventError, Message: "model overloaded"},
	}
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: script})

	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "model overloaded", body["error"])
}

func TestChatEngineDown(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Down: true})

	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{"message": "hello"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatCompletionsShim(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})

	resp := postJSON(t, srv.URL+"/v1/chat/completions", map[string]any{
		"model": "gpt-4o",
		"messages": []map[string]string{
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "how is the weather"},
			{"role": "assistant", "content": "let me check"},
			{"role": "user", "content": "and today?"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)

	assert.Equal(t, "chat.completion", body["object"])
	assert.True(t, strings.HasPrefix(body["id"].(string), "chatcmpl-"))

	choices := body["choices"].([]any)
	require.Len(t, choices, 1)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
	message := choice["message"].(map[string]any)
	assert.Equal(t, "assistant", message["role"])
	assert.Equal(t, "It is sunny today, great news!", message["content"])
}

func TestChatCompletionsNoUserMessage(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})

	resp := postJSON(t, srv.URL+"/v1/chat/completions", map[string]any{
		"messages": []map[string]string{
			{"role": "system", "content": "be brief"},
		},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsAPI(t *testing.T) {
	g, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})

	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{"message": "first"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chat := decodeBody[chatResponse](t, resp)

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/sessions")
		require.NoError(t, err)
		sessions := decodeBody[[]sessionView](t, resp)
		require.Len(t, sessions, 1)
		assert.Equal(t, chat.Session, sessions[0].Name)
		assert.Equal(t, 3, sessions[0].Messages)
		assert.Contains(t, sessions[0].Display, "(API)")
	})

	t.Run("filter excludes other channels", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/sessions?channel=ws")
		require.NoError(t, err)
		sessions := decodeBody[[]sessionView](t, resp)
		assert.Empty(t, sessions)
	})

	t.Run("get turns", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/sessions/" + chat.Session)
		require.NoError(t, err)
		turns := decodeBody[[]turnView](t, resp)
		require.Len(t, turns, 3)
		assert.Equal(t, "first", turns[0].Content)
		assert.Equal(t, "search", turns[1].ToolName)
		require.NotNil(t, turns[1].ToolOK)
		assert.True(t, *turns[1].ToolOK)
	})

	t.Run("get unknown session", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/sessions/ws:nope")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("delete", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+chat.Session, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		_, err = g.store.GetTurns(context.Background(), chat.Session)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestJobsAPI(t *testing.T) {
	g, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})

	t.Run("create", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/jobs", jobView{
			ID:       "morning-brief",
			Schedule: "0 8 * * *",
			Payload:  "summarize the news",
			Enabled:  true,
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/jobs", jobView{
			ID:       "bad",
			Schedule: "not a schedule",
			Payload:  "x",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/jobs", jobView{ID: "incomplete"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/jobs")
		require.NoError(t, err)
		jobs := decodeBody[[]jobView](t, resp)
		require.Len(t, jobs, 1)
		assert.Equal(t, "morning-brief", jobs[0].ID)
		assert.Equal(t, store.JobSourceManaged, jobs[0].Source)
		assert.Zero(t, jobs[0].LastTriggered)
	})

	t.Run("trigger runs the job", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/jobs/morning-brief/trigger", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		job, err := g.store.GetJob(context.Background(), "morning-brief")
		require.NoError(t, err)
		assert.Greater(t, job.LastTriggered, float64(0))

		turns, err := g.store.GetTurns(context.Background(), "cron:morning-brief")
		require.NoError(t, err)
		require.NotEmpty(t, turns)
		assert.Equal(t, "summarize the news", turns[0].Content)
	})

	t.Run("trigger unknown job", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/jobs/nope/trigger", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("delete", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/jobs/morning-brief", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		_, err = g.store.GetJob(context.Background(), "morning-brief")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestKnowledgeDisabled(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{})

	resp, err := http.Get(srv.URL + "/api/knowledge/status")
	require.NoError(t, err)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, false, body["enabled"])

	for _, url := range []string{
		srv.URL + "/api/knowledge/search?q=anything",
		srv.URL + "/api/knowledge/find?q=anything",
		srv.URL + "/api/knowledge/ls",
	} {
		resp, err = http.Get(url)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, url)
	}

	resp = postJSON(t, srv.URL+"/api/knowledge/add", map[string]string{"path": "/x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) bridge.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var f bridge.Frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func TestWebSocketChat(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})
	conn := dialWS(t, srv)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"message": "how is the weather"}))

	var types []string
	for {
		f := readFrame(t, conn)
		types = append(types, f.Type)
		if f.Terminal() {
			assert.Equal(t, bridge.FrameFinal, f.Type)
			assert.Equal(t, "It is sunny today, great news!", f.Content)
			assert.True(t, strings.HasPrefix(f.Session, "ws:"))
			break
		}
	}
	assert.Equal(t, []string{
		bridge.FrameThinking,
		bridge.FrameToolCall,
		bridge.FrameToolResult,
		bridge.FrameFinal,
	}, types)
}

func TestWebSocketInvalidJSONKeepsConnection(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})
	conn := dialWS(t, srv)

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	f := readFrame(t, conn)
	assert.Equal(t, bridge.FrameError, f.Type)
	assert.Equal(t, "Invalid JSON", f.Message)

	// The connection survives and serves the next request.
	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"message": "hello"}))
	for {
		f := readFrame(t, conn)
		if f.Terminal() {
			assert.Equal(t, bridge.FrameFinal, f.Type)
			break
		}
	}
}

func TestWebSocketEmptyMessage(t *testing.T) {
	_, srv := newTestGateway(t, &engine.ScriptedEngine{Script: scriptedRun()})
	conn := dialWS(t, srv)

	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]string{"message": "  "}))

	f := readFrame(t, conn)
	assert.Equal(t, bridge.FrameError, f.Type)
	assert.Equal(t, "Empty message", f.Message)
}

func TestWebSocketRejectsSecondRequestWhileBusy(t *testing.T) {
	eng := &engine.ScriptedEngine{Script: scriptedRun(), Delay: 100 * time.Millisecond}
	_, srv := newTestGateway(t, eng)
	conn := dialWS(t, srv)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"message": "first"}))
	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"message": "second"}))

	var sawBusyReject, sawFinal bool
	for !(sawBusyReject && sawFinal) {
		f := readFrame(t, conn)
		switch f.Type {
		case bridge.FrameError:
			assert.Contains(t, f.Message, "already in progress")
			sawBusyReject = true
		case bridge.FrameFinal:
			sawFinal = true
		}
	}
}

func TestWebSocketDisconnectCancelsRun(t *testing.T) {
	eng := &engine.ScriptedEngine{Script: scriptedRun(), Delay: 200 * time.Millisecond}
	g, srv := newTestGateway(t, eng)
	conn := dialWS(t, srv)

	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]string{"message": "hello"}))

	f := readFrame(t, conn)
	require.Equal(t, bridge.FrameThinking, f.Type)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	// The cancelled run must not leave partial history behind.
	assert.Eventually(t, func() bool {
		sessions, err := g.store.ListSessions(context.Background(), "ws:")
		return err == nil && len(sessions) == 0
	}, 2*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		g.clientsMu.Lock()
		defer g.clientsMu.Unlock()
		return len(g.clients) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunJobReportsEngineError(t *testing.T) {
	script := []engine.Event{{Type: engine.EventError, Message: "boom"}}
	g, _ := newTestGateway(t, &engine.ScriptedEngine{Script: script})

	err := g.runJob(context.Background(), &store.Job{ID: "j1", Payload: "do it"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// ABOUTME: HTTP API handlers for sessions, chat, jobs, knowledge, and health
// ABOUTME: JSON in, JSON out; session names are channel-prefixed path suffixes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tankyhsu/nanobot-web-console/internal/bridge"
	"github.com/tankyhsu/nanobot-web-console/internal/cronsync"
	"github.com/tankyhsu/nanobot-web-console/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sessionView is the list projection consumed by the console UI
type sessionView struct {
	Name     string  `json:"name"`
	Display  string  `json:"display"`
	Messages int     `json:"messages"`
	Updated  float64 `json:"updated"`
}

// turnView is one turn in a session history response
type turnView struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
	ToolName  string  `json:"tool_name,omitempty"`
	ToolArgs  string  `json:"tool_args,omitempty"`
	ToolRes   string  `json:"tool_result,omitempty"`
	ToolOK    *bool   `json:"tool_ok,omitempty"`
}

// handleSessions serves GET /api/sessions with an optional ?channel= prefix
// filter ("ws", "api", "cli", "cron")
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	prefix := ""
	if channel := r.URL.Query().Get("channel"); channel != "" {
		prefix = channel + ":"
	}

	summaries, err := g.store.ListSessions(r.Context(), prefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]sessionView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, sessionView{
			Name:     s.Name,
			Display:  s.Display,
			Messages: s.Messages,
			Updated:  s.Updated,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleSessionByName serves GET and DELETE on /api/sessions/{name}
func (g *Gateway) handleSessionByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "session name required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		turns, err := g.store.GetTurns(r.Context(), name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		views := make([]turnView, 0, len(turns))
		for _, t := range turns {
			v := turnView{
				Role:      t.Role,
				Content:   t.Content,
				Timestamp: t.Timestamp,
				ToolName:  t.ToolName,
				ToolArgs:  t.ToolArgs,
				ToolRes:   t.ToolRes,
			}
			if t.Role == store.RoleTool {
				ok := t.ToolOK
				v.ToolOK = &ok
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodDelete:
		if err := g.store.DeleteSession(r.Context(), name); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// chatResponse is the non-streaming answer shape for POST /api/chat
type chatResponse struct {
	Response  string  `json:"response"`
	Session   string  `json:"session"`
	Timestamp float64 `json:"timestamp"`
	Emotion   string  `json:"emotion"`
}

// handleChat serves POST /api/chat: one request, one synchronous answer.
// The run streams through the same bridge as the WebSocket path; progress
// frames are discarded and only the terminal frame shapes the response.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !g.engine.Ready(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "engine not ready")
		return
	}

	var req bridge.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Normalize("api"); err != nil {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	var terminal *bridge.Frame
	for frame := range g.bridge.Run(r.Context(), req) {
		if frame.Terminal() {
			f := frame
			terminal = &f
		}
	}
	if terminal == nil {
		writeError(w, http.StatusInternalServerError, "run produced no answer")
		return
	}
	if terminal.Type == bridge.FrameError {
		writeError(w, http.StatusInternalServerError, terminal.Message)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  terminal.Content,
		Session:   req.Session,
		Timestamp: terminal.Timestamp,
		Emotion:   terminal.Emotion,
	})
}

// completionsRequest is the OpenAI-compatible request shape. Only the last
// user message is consumed; the model field is accepted and ignored.
type completionsRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// handleChatCompletions serves POST /v1/chat/completions, an
// OpenAI-compatible shim over the same bridge as /api/chat so off-the-shelf
// clients can talk to the gateway unchanged.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !g.engine.Ready(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "engine not ready")
		return
	}

	var in completionsRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var userMsg string
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == "user" {
			userMsg = in.Messages[i].Content
			break
		}
	}
	req := bridge.Request{Message: userMsg}
	if err := req.Normalize("api"); err != nil {
		writeError(w, http.StatusBadRequest, "no user message found")
		return
	}

	var terminal *bridge.Frame
	for frame := range g.bridge.Run(r.Context(), req) {
		if frame.Terminal() {
			f := frame
			terminal = &f
		}
	}
	if terminal == nil {
		writeError(w, http.StatusInternalServerError, "run produced no answer")
		return
	}
	if terminal.Type == bridge.FrameError {
		writeError(w, http.StatusInternalServerError, terminal.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl-" + uuid.NewString()[:12],
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "nanobot",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": terminal.Content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 0},
	})
}

// jobView is the API shape of a job definition
type jobView struct {
	ID            string  `json:"id"`
	Schedule      string  `json:"schedule"`
	Payload       string  `json:"payload"`
	Enabled       bool    `json:"enabled"`
	LastTriggered float64 `json:"last_triggered,omitempty"`
	Source        string  `json:"source"`
}

// handleJobs serves GET (list) and POST (create/update) on /api/jobs
func (g *Gateway) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := g.store.ListJobs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, jobView{
				ID:            j.ID,
				Schedule:      j.Schedule,
				Payload:       j.Payload,
				Enabled:       j.Enabled,
				LastTriggered: j.LastTriggered,
				Source:        j.Source,
			})
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var in jobView
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if in.ID == "" || in.Schedule == "" || in.Payload == "" {
			writeError(w, http.StatusBadRequest, "id, schedule, and payload are required")
			return
		}
		if err := cronsync.ValidateSchedule(in.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		job := &store.Job{
			ID:       in.ID,
			Schedule: in.Schedule,
			Payload:  in.Payload,
			Enabled:  in.Enabled,
			Source:   store.JobSourceManaged,
		}
		if err := g.store.SaveJob(r.Context(), job); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := g.sync.Upsert(r.Context(), job); err != nil {
			// The registry holds the job; the next reconcile pass will
			// re-apply it to the scheduler.
			g.logger.Error("scheduler sync failed after save", "job", job.ID, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": job.ID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobByID serves DELETE /api/jobs/{id} and POST /api/jobs/{id}/trigger
func (g *Gateway) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if err := g.sync.Remove(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := g.store.DeleteJob(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	case action == "trigger" && r.Method == http.MethodPost:
		if err := g.sync.Trigger(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleKnowledgeStatus serves GET /api/knowledge/status
func (g *Gateway) handleKnowledgeStatus(w http.ResponseWriter, r *http.Request) {
	if g.knowledge == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"ready":   g.knowledge.Ready(r.Context()),
	})
}

// handleKnowledgeSearch serves GET /api/knowledge/search?q=...&limit=...
func (g *Gateway) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if g.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base disabled")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := g.knowledge.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleKnowledgeFind serves GET /api/knowledge/find?q=...&limit=...
func (g *Gateway) handleKnowledgeFind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if g.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base disabled")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := g.knowledge.Find(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleKnowledgeAdd serves POST /api/knowledge/add with {"path": string}
func (g *Gateway) handleKnowledgeAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if g.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base disabled")
		return
	}

	var in struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	if err := g.knowledge.Add(r.Context(), in.Path); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"added": true})
}

// handleKnowledgeLs serves GET /api/knowledge/ls with an optional ?uri=
func (g *Gateway) handleKnowledgeLs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if g.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base disabled")
		return
	}

	entries, err := g.knowledge.Ls(r.Context(), r.URL.Query().Get("uri"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleHealth reports readiness of the engine and the optional knowledge
// backend
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	engineReady := g.engine.Ready(ctx)
	payload := map[string]any{
		"status":      "ok",
		"agent_ready": engineReady,
		"timestamp":   float64(time.Now().UnixNano()) / 1e9,
	}
	if g.knowledge != nil {
		payload["knowledge_ready"] = g.knowledge.Ready(ctx)
	}

	status := http.StatusOK
	if !engineReady {
		status = http.StatusServiceUnavailable
		payload["status"] = "degraded"
	}
	writeJSON(w, status, payload)
}

// ABOUTME: WebSocket connection manager for the chat endpoint
// ABOUTME: One run per connection; frames are sent FIFO by a single writer

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tankyhsu/nanobot-web-console/internal/bridge"
)

// wsClient is one live client attachment. It owns at most one active run;
// the write mutex keeps frame transmission strictly FIFO with no partial
// interleaving.
type wsClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	runActive bool
	cancelRun context.CancelFunc
}

func (c *wsClient) writeFrame(ctx context.Context, f bridge.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.conn, f)
}

// tryStartRun marks the connection busy. It fails when a run is already
// active.
func (c *wsClient) tryStartRun(cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runActive {
		return false
	}
	c.runActive = true
	c.cancelRun = cancel
	return true
}

func (c *wsClient) finishRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runActive = false
	c.cancelRun = nil
}

// abort cancels the active run, if any. Called on disconnect.
func (c *wsClient) abort() {
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handleChatWS accepts a WebSocket connection and serves its receive loop.
// Each JSON request starts one run; requests arriving while a run is active
// are rejected with an error frame and do not disturb the run. A disconnect
// cancels the active run; reconnection is a brand-new connection and the
// client re-issues its request.
func (g *Gateway) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &wsClient{conn: conn}
	g.addClient(c)
	g.logger.Info("client connected", "remote", r.RemoteAddr)
	defer func() {
		c.abort()
		g.removeClient(c)
		g.logger.Info("client disconnected", "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				g.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var req bridge.Request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.writeFrame(ctx, bridge.ErrorFrame("Invalid JSON"))
			continue
		}
		if err := req.Normalize("ws"); err != nil {
			_ = c.writeFrame(ctx, bridge.ErrorFrame("Empty message"))
			continue
		}

		runCtx, cancel := context.WithCancel(ctx)
		if !c.tryStartRun(cancel) {
			cancel()
			_ = c.writeFrame(ctx, bridge.ErrorFrame("A request is already in progress on this connection"))
			continue
		}

		go func() {
			defer c.finishRun()
			defer cancel()
			for frame := range g.bridge.Run(runCtx, req) {
				if err := c.writeFrame(runCtx, frame); err != nil {
					// Transmission failed: the connection is gone, stop
					// the run and drain remaining frames.
					cancel()
				}
			}
		}()
	}
}

func (g *Gateway) addClient(c *wsClient) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	g.clients[c] = struct{}{}
}

func (g *Gateway) removeClient(c *wsClient) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	delete(g.clients, c)
}

// closeClients aborts all active runs and closes every live connection.
// Called during shutdown, after the HTTP listener stops accepting.
func (g *Gateway) closeClients() {
	g.clientsMu.Lock()
	clients := make([]*wsClient, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.clientsMu.Unlock()

	for _, c := range clients {
		c.abort()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

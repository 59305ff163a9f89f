// ABOUTME: Gateway orchestrator wiring the store, engine bridge, scheduler, and HTTP server
// ABOUTME: Owns startup order, the HTTP mux, and graceful reverse-order shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tankyhsu/nanobot-web-console/internal/bridge"
	"github.com/tankyhsu/nanobot-web-console/internal/config"
	"github.com/tankyhsu/nanobot-web-console/internal/cronsync"
	"github.com/tankyhsu/nanobot-web-console/internal/engine"
	"github.com/tankyhsu/nanobot-web-console/internal/knowledge"
	"github.com/tankyhsu/nanobot-web-console/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Gateway is the top-level coordinator. It owns every long-lived component
// and is responsible for starting and stopping them in a safe order.
type Gateway struct {
	config    *config.Config
	store     store.Store
	engine    engine.Engine
	knowledge *knowledge.Client
	bridge    *bridge.Bridge
	scheduler *cronsync.CronScheduler
	sync      *cronsync.Synchronizer
	server    *http.Server
	logger    *slog.Logger

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}

	syncCancel context.CancelFunc
}

// New builds a Gateway from configuration. The store is opened here; network
// listeners are not bound until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	eng := engine.NewHTTPEngine(cfg.Engine.Endpoint, cfg.Engine.RequestTimeout)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var kc *knowledge.Client
	var kn bridge.Knowledge
	if cfg.Knowledge.Enabled {
		kc = knowledge.NewClient(cfg.Knowledge.Endpoint)
		kn = kc
	}

	g := &Gateway{
		config:    cfg,
		store:     st,
		engine:    eng,
		knowledge: kc,
		bridge:    bridge.New(eng, st, kn, cfg.Engine.HeartbeatInterval, logger),
		scheduler: cronsync.NewCronScheduler(logger),
		logger:    logger.With("component", "gateway"),
		clients:   make(map[*wsClient]struct{}),
	}

	g.sync = cronsync.New(st, g.scheduler, cronsync.RunnerFunc(g.runJob), cfg.Cron.ReconcileInterval, logger)

	g.server = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: g.routes(),
	}

	return g, nil
}

func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/ws/chat", g.handleChatWS)
	mux.HandleFunc("/api/chat", g.handleChat)
	mux.HandleFunc("/v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("/api/sessions", g.handleSessions)
	mux.HandleFunc("/api/sessions/", g.handleSessionByName)
	mux.HandleFunc("/api/jobs", g.handleJobs)
	mux.HandleFunc("/api/jobs/", g.handleJobByID)
	mux.HandleFunc("/api/knowledge/status", g.handleKnowledgeStatus)
	mux.HandleFunc("/api/knowledge/search", g.handleKnowledgeSearch)
	mux.HandleFunc("/api/knowledge/find", g.handleKnowledgeFind)
	mux.HandleFunc("/api/knowledge/add", g.handleKnowledgeAdd)
	mux.HandleFunc("/api/knowledge/ls", g.handleKnowledgeLs)
	return mux
}

// runJob executes a scheduled job by pushing its payload through the bridge
// under a per-job session. Scheduled runs persist history the same way
// interactive ones do.
func (g *Gateway) runJob(ctx context.Context, job *store.Job) error {
	req := bridge.Request{
		Message: job.Payload,
		Session: "cron:" + job.ID,
	}
	if err := req.Normalize("cron"); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	var failure error
	for frame := range g.bridge.Run(ctx, req) {
		if frame.Type == bridge.FrameError {
			failure = errors.New(frame.Message)
		}
	}
	if failure != nil {
		return fmt.Errorf("job %s: %w", job.ID, failure)
	}
	return nil
}

// Run starts the scheduler, the reconcile loop, and the HTTP server, then
// blocks until the context is cancelled or the server fails. Shutdown is
// always attempted on the way out.
func (g *Gateway) Run(ctx context.Context) error {
	g.scheduler.Start()

	syncCtx, cancel := context.WithCancel(context.Background())
	g.syncCancel = cancel
	go g.sync.Run(syncCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.server.Addr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case runErr = <-errCh:
		g.logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := g.Shutdown(shutdownCtx); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			g.logger.Error("shutdown error", "error", err)
		}
	}
	return runErr
}

// Shutdown stops components in reverse startup order: stop accepting HTTP
// traffic, close WebSocket clients, halt the reconcile loop and scheduler,
// then close the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down")

	var errs []error
	appendErr := func(stage string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", stage, err))
		}
	}

	appendErr("http server", g.server.Shutdown(ctx))
	g.closeClients()

	if g.syncCancel != nil {
		g.syncCancel()
	}
	g.scheduler.Stop()

	appendErr("store", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	g.logger.Info("shutdown complete")
	return nil
}

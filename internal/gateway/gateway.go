// ABOUTME: Gateway orchestrator for the browser websocket channel
// ABOUTME: Owns the session registry, response queue, dispatch loop, and HTTP server

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lantern-ai/lantern-gateway/internal/assets"
	"github.com/lantern-ai/lantern-gateway/internal/config"
	"github.com/lantern-ai/lantern-gateway/internal/history"
	"github.com/lantern-ai/lantern-gateway/internal/pipeline"
	"github.com/lantern-ai/lantern-gateway/internal/queue"
	"github.com/lantern-ai/lantern-gateway/internal/session"
)

// Gateway coordinates the websocket channel: it admits clients, owns the
// session registry and resume tokens, and runs the single dispatch loop
// that performs every queued transport write.
type Gateway struct {
	cfg      *config.Config
	registry *session.Registry
	tokens   *session.TokenTable
	queue    *queue.Queue
	pipe     pipeline.Pipeline
	store    *history.Store
	logger   *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients int

	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a gateway. The transcript store may be nil, in which case
// conversation history lives only in memory.
func New(cfg *config.Config, pipe pipeline.Pipeline, store *history.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	return &Gateway{
		cfg:      cfg,
		registry: session.NewRegistry(logger),
		tokens:   session.NewTokenTable(cfg.Gateway.TokenTableSize, cfg.Gateway.ResumeTTL),
		queue:    queue.New(cfg.Gateway.QueueSize, logger),
		pipe:     pipe,
		store:    store,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The browser client is served from this same process
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving the static client, health
// endpoint, and websocket channel.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", assets.Handler())
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/ws", g.handleWS)
	return mux
}

// Start begins serving on the configured address. It returns once the
// listener is bound; serving continues until Stop.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("binding http listener: %w", err)
	}

	g.httpServer = &http.Server{Handler: g.Handler()}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.dispatchLoop()
	}()

	if g.cfg.Gateway.ResumeTTL > 0 {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.sweepLoop()
		}()
	}

	go func() {
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("http server failed", "error", err)
		}
	}()

	g.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts down the HTTP server and the dispatch loop.
func (g *Gateway) Stop(ctx context.Context) error {
	var err error
	if g.httpServer != nil {
		err = g.httpServer.Shutdown(ctx)
	}
	g.stopOnce.Do(func() { close(g.done) })
	g.wg.Wait()
	return err
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, g.registry.Count())
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newConn(g, ws)
	go c.readPump()
}

// dispatchLoop is the only goroutine that performs queued transport
// writes. One entry is written per wakeup; when entries remain the loop
// pokes itself so a slow client cannot starve the channel. The poll
// ticker covers queue entries whose wakeup was coalesced.
func (g *Gateway) dispatchLoop() {
	interval := g.cfg.Gateway.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-g.queue.Notify():
		case <-ticker.C:
		}

		if g.queue.DrainOne(g.resolveSink) {
			g.queue.Poke()
		}
	}
}

// resolveSink maps a session id to its live transport, or nil when the
// entry should be dropped. The dispatch loop never writes to a session
// that is disconnected or detached.
func (g *Gateway) resolveSink(sessionID uint32) queue.Sink {
	s := g.registry.Peek(sessionID)
	if s == nil || s.Disconnected() {
		return nil
	}
	sink, ok := s.AttachedSink().(queue.Sink)
	if !ok {
		return nil
	}
	return sink
}

func (g *Gateway) sweepLoop() {
	ticker := time.NewTicker(g.cfg.Gateway.ResumeTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			for _, id := range g.registry.Sweep(g.cfg.Gateway.ResumeTTL) {
				g.tokens.DropSession(id)
			}
		}
	}
}

// tryAdmit accounts for a fresh connection, enforcing the client cap.
func (g *Gateway) tryAdmit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients >= g.cfg.Gateway.MaxClients {
		return false
	}
	g.clients++
	return true
}

// admitResumed accounts for a resumed connection. Resume bypasses the cap
// check: the client already held a slot when it disconnected.
func (g *Gateway) admitResumed() {
	g.mu.Lock()
	g.clients++
	g.mu.Unlock()
}

func (g *Gateway) releaseClient() {
	g.mu.Lock()
	if g.clients > 0 {
		g.clients--
	}
	g.mu.Unlock()
}

// clientCount reports the number of admitted connections.
func (g *Gateway) clientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clients
}

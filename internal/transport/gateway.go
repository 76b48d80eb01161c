// Package transport exposes the daemon's JSON-RPC protocol over WebSocket
// for browser-based and remote UIs, mirroring the Unix socket wire format
// one-message-per-frame instead of one-message-per-line.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/agent-tui/agent-tui/internal/rpc"
	"github.com/agent-tui/agent-tui/internal/streaming"
)

// Config controls how the gateway binds and how many concurrent connections
// it accepts.
type Config struct {
	Listen         string
	AllowRemote    bool
	MaxConnections int
}

// Gateway serves the daemon's JSON-RPC protocol over WebSocket. It
// dispatches through an rpc.Dispatcher over the same session Manager the
// Unix socket transport uses, and runs the same internal/streaming loops.
type Gateway struct {
	cfg      Config
	disp     *rpc.Dispatcher
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	shutdown chan struct{}

	mu      sync.Mutex
	running bool

	active int32
}

func NewGateway(cfg Config, disp *rpc.Dispatcher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 32
	}
	return &Gateway{
		cfg:      cfg,
		disp:     disp,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Start binds the listener and begins serving in the background. Without
// AllowRemote, a non-loopback Listen address is rejected outright — remote
// exposure is opt-in, never accidental.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("gateway already running")
	}

	if !g.cfg.AllowRemote {
		if err := requireLoopback(g.cfg.Listen); err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", g.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.cfg.Listen, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", g.handleWS)

	g.server = &http.Server{Handler: mux}
	g.listener = listener
	g.running = true

	go func() {
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("websocket gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the HTTP server down, waiting up to the context deadline for
// in-flight connections to drain.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	close(g.shutdown)
	server := g.server
	g.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Addr returns the listener's bound address, useful when Listen was ":0".
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return g.cfg.Listen
	}
	return g.listener.Addr().String()
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if int(atomic.AddInt32(&g.active, 1)) > g.cfg.MaxConnections {
		atomic.AddInt32(&g.active, -1)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&g.active, -1)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: g.cfg.AllowRemote,
	})
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	cancelled := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-g.shutdown:
			close(cancelled)
		case <-cancelled:
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var req rpc.Request
		if err := json.Unmarshal(data, &req); err != nil {
			g.writeJSON(ctx, conn, rpc.NewError(nil, rpc.CodeInvalidParams, "parse error: "+err.Error()))
			continue
		}

		if rpc.StreamingMethods[req.Method] {
			g.dispatchStreaming(ctx, conn, req, cancelled)
			continue
		}

		resp := g.disp.Dispatch(req)
		if !g.writeJSON(ctx, conn, resp) {
			return
		}
	}
}

type streamParams struct {
	Session    string `json:"session,omitempty"`
	IntervalMs int    `json:"interval_ms,omitempty"`
}

func (g *Gateway) dispatchStreaming(ctx context.Context, conn *websocket.Conn, req rpc.Request, cancelled chan struct{}) {
	var p streamParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &p)
	}

	emit := func(payload map[string]any) error {
		if !g.writeJSON(ctx, conn, rpc.NewResult(req.ID, payload)) {
			return fmt.Errorf("write to websocket failed")
		}
		return nil
	}
	term := streaming.Terminate{Shutdown: g.shutdown, Cancelled: cancelled}

	var err error
	switch req.Method {
	case "attach_stream":
		err = streaming.AttachStream(g.disp.Manager, p.Session, term, emit)
	case "live_preview_stream":
		err = streaming.LivePreviewStream(g.disp.Manager, p.Session, g.disp.StartTime, term, emit)
	case "flightdeck_stream":
		err = streaming.FlightdeckStream(g.disp.Manager, p.IntervalMs, term, emit)
	}
	if err != nil {
		g.logger.Debug("websocket streaming connection ended", "method", req.Method, "error", err)
	}
}

func (g *Gateway) writeJSON(ctx context.Context, conn *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("marshal response", "error", err)
		return false
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return false
	}
	return true
}

// requireLoopback rejects any listen address that isn't bound to loopback,
// so exposing the gateway beyond localhost is always an explicit choice.
func requireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("listen address %q binds all interfaces; set allow_remote to permit this", addr)
	}
	if host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("listen address %q is not loopback; set allow_remote to permit this", addr)
}

package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/agent-tui/agent-tui/internal/rpc"
	"github.com/agent-tui/agent-tui/internal/streaming"
)

const (
	// maxMessageSize bounds a single line-delimited JSON-RPC message.
	maxMessageSize = 1024 * 1024
	// socketPermissions are the file permissions for the Unix socket.
	socketPermissions = 0600
)

// Start begins listening on the Unix socket and serving requests. It
// blocks until ctx is cancelled, then shuts down cleanly.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.mu.Unlock()

	_ = os.Remove(d.sockPath)

	listener, err := net.Listen("unix", d.sockPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(d.sockPath, socketPermissions); err != nil {
		_ = listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	d.mu.Lock()
	d.listener = listener
	d.running = true
	d.startTime = time.Now()
	d.disp.StartTime = d.startTime
	d.mu.Unlock()

	d.logger.Info("daemon started", "socket", d.sockPath)

	go d.serve(ctx)

	<-ctx.Done()
	return d.Stop()
}

// Stop closes the listener, signals every in-flight streaming connection
// to terminate, and removes the socket file.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false

	close(d.shutdown)

	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			d.logger.Error("error closing listener", "error", err)
		}
		d.listener = nil
	}
	_ = os.Remove(d.sockPath)

	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) serve(ctx context.Context) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.mu.RLock()
				running := d.running
				d.mu.RUnlock()
				if !running {
					return
				}
				d.logger.Error("accept error", "error", err)
				continue
			}
		}
		go d.handleConnection(conn)
	}
}

// handleConnection serves one connection for its lifetime: single
// goroutine reads newline-delimited requests, dispatches each
// synchronously (streaming methods take over the connection until their
// loop returns), and writes each response/event as its own JSON line.
func (d *Daemon) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	cancelled := make(chan struct{})
	connDone := make(chan struct{})
	defer close(connDone)

	reader := bufio.NewReaderSize(conn, maxMessageSize)
	writer := json.NewEncoder(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var req rpc.Request
			if err := json.Unmarshal(line, &req); err != nil {
				_ = writer.Encode(rpc.NewError(nil, rpc.CodeInvalidParams, "parse error: "+err.Error()))
				return
			}

			if rpc.StreamingMethods[req.Method] {
				d.dispatchStreaming(req, writer, cancelled)
			} else {
				resp := d.disp.Dispatch(req)
				if encErr := writer.Encode(resp); encErr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

type streamParams struct {
	Session    string `json:"session,omitempty"`
	IntervalMs int    `json:"interval_ms,omitempty"`
}

func (d *Daemon) dispatchStreaming(req rpc.Request, writer *json.Encoder, cancelled chan struct{}) {
	var p streamParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &p)
	}

	emit := func(payload map[string]any) error {
		return writer.Encode(rpc.NewResult(req.ID, payload))
	}
	term := streaming.Terminate{Shutdown: d.shutdown, Cancelled: cancelled}

	var err error
	switch req.Method {
	case "attach_stream":
		err = streaming.AttachStream(d.manager, p.Session, term, emit)
	case "live_preview_stream":
		err = streaming.LivePreviewStream(d.manager, p.Session, d.startTime, term, emit)
	case "flightdeck_stream":
		err = streaming.FlightdeckStream(d.manager, p.IntervalMs, term, emit)
	}
	if err != nil {
		d.logger.Debug("streaming connection ended", "method", req.Method, "error", err)
	}
}

// Package daemon owns the agent-tui daemon's lifecycle: the PID/socket
// lock, the Unix-socket accept loop, line-delimited JSON-RPC dispatch
// (including the three streaming methods), and graceful shutdown.
package daemon

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/agent-tui/agent-tui/internal/config"
	"github.com/agent-tui/agent-tui/internal/persistence"
	"github.com/agent-tui/agent-tui/internal/rpc"
	"github.com/agent-tui/agent-tui/internal/sessionmanager"
)

// Daemon owns the Unix socket listener and dispatches every connection's
// requests against a shared session Manager.
type Daemon struct {
	config   *config.Config
	manager  *sessionmanager.Manager
	disp     *rpc.Dispatcher
	sockPath string
	logger   *slog.Logger

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	listener  net.Listener

	shutdown chan struct{}
}

// New constructs a Daemon around manager. If manager is nil, New builds
// one from cfg's persistence and session settings.
func New(cfg *config.Config, manager *sessionmanager.Manager, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	if manager == nil && cfg != nil {
		store := persistence.NewStore(cfg.Paths.SessionStore, logger)
		var err error
		manager, err = sessionmanager.New(store, cfg.Sessions.MaxSessions, logger)
		if err != nil {
			logger.Error("failed to construct session manager", "error", err)
		}
	}

	d := &Daemon{
		config:   cfg,
		manager:  manager,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
	if cfg != nil {
		d.sockPath = cfg.Paths.Socket
	}
	d.disp = &rpc.Dispatcher{Manager: manager, Logger: logger}
	return d
}

// Running returns whether the daemon is currently serving connections.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// setRunning sets the running flag under the daemon's lock.
func (d *Daemon) setRunning(running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = running
}

// Manager returns the underlying session manager, for tests and the CLI
// frontend's in-process short-circuit paths.
func (d *Daemon) Manager() *sessionmanager.Manager {
	return d.manager
}

// StartTime returns when the daemon began serving, the zero time if not
// yet started.
func (d *Daemon) StartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// SocketPath returns the Unix socket path this daemon listens on.
func (d *Daemon) SocketPath() string {
	return d.sockPath
}

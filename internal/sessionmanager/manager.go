// Package sessionmanager implements the session registry: spawn, kill,
// list, active-session election, and integration with the persisted
// session store and startup stale-session cleanup.
package sessionmanager

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agent-tui/agent-tui/internal/persistence"
	"github.com/agent-tui/agent-tui/internal/pty"
	"github.com/agent-tui/agent-tui/internal/session"
)

// DefaultMaxSessions is the default bound on concurrently live sessions.
const DefaultMaxSessions = 16

// listLockTimeout bounds how long List waits to query a single session
// before reporting it as locked rather than blocking the whole listing.
const listLockTimeout = 100 * time.Millisecond

// Manager is the registry of live sessions plus active-session election,
// backed by a persistence.Store for durability across daemon restarts.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[session.ID]*session.Session
	active      session.ID
	maxSessions int

	store  *persistence.Store
	logger *slog.Logger
}

// New constructs a Manager, runs startup stale-session cleanup against
// store, and returns the manager ready to serve spawn/resolve/list/kill.
func New(store *persistence.Store, maxSessions int, logger *slog.Logger) (*Manager, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	m := &Manager{
		sessions:    make(map[session.ID]*session.Session),
		maxSessions: maxSessions,
		store:       store,
		logger:      logger,
	}

	removed, err := store.CleanupStaleSessions()
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		logger.Info("removed stale persisted sessions at startup", "count", removed)
	}
	return m, nil
}

// Spawn allocates a session id (supplied or generated), starts a PTY
// running command, registers it as the active session, and persists an
// upsert event.
func (m *Manager) Spawn(command string, args []string, dir string, env []string, sessionID session.ID, cols, rows uint16) (session.ID, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if _, exists := m.sessions[sessionID]; exists {
			return "", 0, &session.AlreadyExistsError{ID: string(sessionID)}
		}
	}
	if len(m.sessions) >= m.maxSessions {
		return "", 0, &session.LimitReachedError{Max: m.maxSessions}
	}

	id := sessionID
	if id == "" {
		id = session.GenerateID()
	}

	handle, err := pty.Spawn(command, args, dir, env, pty.Size{Cols: cols, Rows: rows})
	if err != nil {
		return "", 0, &session.TerminalError{Reason: err.Error()}
	}

	sess := session.New(id, command, args, handle, cols, rows, m.logger)
	sess.AttachPump()

	m.sessions[id] = sess
	m.active = id

	if err := m.store.Upsert(persistence.PersistedSession{
		ID:        string(id),
		Command:   command,
		Pid:       sess.Pid(),
		CreatedAt: sess.CreatedAt(),
		Cols:      cols,
		Rows:      rows,
	}); err != nil {
		m.logger.Warn("failed to persist spawned session", "id", id, "error", err)
	}

	return id, sess.Pid(), nil
}

// Resolve returns the session addressed by sessionID, or (if sessionID
// is empty) the active session if it is still running, or else the
// most-recently-created running session, promoting it to active.
func (m *Manager) Resolve(sessionID session.ID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		sess, ok := m.sessions[sessionID]
		if !ok {
			return nil, &session.NotFoundError{ID: string(sessionID)}
		}
		return sess, nil
	}

	if m.active != "" {
		if sess, ok := m.sessions[m.active]; ok && sess.Running() {
			return sess, nil
		}
	}

	best := m.bestRunningLocked()
	if best == nil {
		m.active = ""
		return nil, session.ErrNoActiveSession
	}
	m.active = best.ID()
	return best, nil
}

// bestRunningLocked scans the registry for the running session with the
// greatest created_at, tie-broken by the greater id. Caller must hold mu.
func (m *Manager) bestRunningLocked() *session.Session {
	var best *session.Session
	for _, sess := range m.sessions {
		if !sess.Running() {
			continue
		}
		if best == nil {
			best = sess
			continue
		}
		if sess.CreatedAt().After(best.CreatedAt()) {
			best = sess
			continue
		}
		if sess.CreatedAt().Equal(best.CreatedAt()) && sess.ID() > best.ID() {
			best = sess
		}
	}
	return best
}

// SetActive marks id as the active session. Fails with NotFound if no
// such session is registered.
func (m *Manager) SetActive(id session.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return &session.NotFoundError{ID: string(id)}
	}
	m.active = id
	return nil
}

// List returns a snapshot of every registered session's Info. A session
// whose lock cannot be acquired within listLockTimeout is reported with
// Command="(locked)", Pid=0, Running=false rather than blocking the
// whole listing.
func (m *Manager) List() []session.Info {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, infoWithTimeout(sess, listLockTimeout))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// infoWithTimeout queries sess.Info() on a separate goroutine so a
// session whose lock is held past timeout never blocks List.
func infoWithTimeout(sess *session.Session, timeout time.Duration) session.Info {
	resultCh := make(chan session.Info, 1)
	go func() { resultCh <- sess.Info() }()

	select {
	case info := <-resultCh:
		return info
	case <-time.After(timeout):
		return session.Info{
			ID:      sess.ID(),
			Command: "(locked)",
			Pid:     0,
			Running: false,
		}
	}
}

// Kill removes id from the registry, shuts down its pump and child, and
// persists a remove event. If id was active, promotes a new active
// session by the same rule as Resolve.
func (m *Manager) Kill(id session.ID) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return &session.NotFoundError{ID: string(id)}
	}
	delete(m.sessions, id)
	wasActive := m.active == id
	if wasActive {
		m.active = ""
	}
	m.mu.Unlock()

	if err := sess.Kill(); err != nil {
		m.logger.Warn("error signaling session during kill", "id", id, "error", err)
	}

	select {
	case <-sess.PumpDone():
	case <-time.After(sessionKillJoinTimeout):
		m.logger.Warn("pump did not exit promptly after kill", "id", id)
	}

	if err := m.store.Remove(string(id)); err != nil {
		m.logger.Warn("failed to persist session removal", "id", id, "error", err)
	}

	if wasActive {
		m.mu.Lock()
		best := m.bestRunningLocked()
		if best != nil {
			m.active = best.ID()
		}
		m.mu.Unlock()
	}

	return nil
}

const sessionKillJoinTimeout = 2 * time.Second

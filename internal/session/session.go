// Package session implements the per-session PTY runtime: the Session
// type that exclusively owns a PTY handle, a terminal emulator, a stream
// buffer, and a pump worker, plus the lock discipline and operations RPC
// handlers drive it through.
package session

import (
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/google/uuid"

	ptypkg "github.com/agent-tui/agent-tui/internal/pty"
	"github.com/agent-tui/agent-tui/internal/stream"
	"github.com/agent-tui/agent-tui/internal/vt"
)

// ID is a short opaque session identifier, unique within a running
// daemon instance.
type ID string

// GenerateID returns a new random 8-character session id, the first
// 8 hex characters of a UUIDv4.
func GenerateID() ID {
	return ID(uuid.New().String()[:8])
}

// Info is a snapshot of a session's attributes, used by SessionManager.List
// and the flightdeck stream.
type Info struct {
	ID        ID
	Command   string
	Pid       int
	Running   bool
	CreatedAt time.Time
	Cols      uint16
	Rows      uint16
}

// LivePreviewSnapshot is a self-contained description of a session's
// current screen, replayable on a blank terminal to reconstruct it.
type LivePreviewSnapshot struct {
	Cols      uint16
	Rows      uint16
	Init      []byte
	StreamSeq uint64
}

// Session exclusively owns one PTY, one terminal emulator, one stream
// buffer, and one pump worker. All RPC mutators acquire lock for the
// duration of the call only; lock is never held across a blocking
// StreamBuffer read.
type Session struct {
	id        ID
	command   string
	args      []string
	createdAt time.Time

	handle ptypkg.Handle
	term   *vt.Terminal
	buf    *stream.Buffer
	pump   *ptypkg.Pump
	timeline *Timeline

	lock     *timedMutex
	modifier Modifier

	logger *slog.Logger
}

// New constructs a Session around an already-spawned PTY handle. The
// caller is expected to call AttachPump once the stream buffer and pump
// have been wired (SessionManager.Spawn does this as one sequence).
func New(id ID, command string, args []string, handle ptypkg.Handle, cols, rows uint16, logger *slog.Logger) *Session {
	return &Session{
		id:        id,
		command:   command,
		args:      args,
		createdAt: time.Now().UTC(),
		handle:    handle,
		term:      vt.New(cols, rows),
		buf:       stream.NewBuffer(0),
		timeline:  &Timeline{},
		lock:      newTimedMutex(),
		logger:    logger,
	}
}

// AttachPump starts the session's pump worker over its PTY handle,
// terminal, and stream buffer.
func (s *Session) AttachPump() {
	s.pump = ptypkg.NewPump(s.handle, s.buf, s.term, s.logger)
	s.pump.Start()
}

// ID returns the session's id.
func (s *Session) ID() ID { return s.id }

// Command returns the spawned command string (for display/persistence).
func (s *Session) Command() string { return s.command }

// CreatedAt returns the session's UTC creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Pid returns the child process id.
func (s *Session) Pid() int { return s.handle.Pid() }

// Running reports whether the child process is still alive, by probing
// it with signal 0 (which delivers no signal but fails if the process is
// gone).
func (s *Session) Running() bool {
	pid := s.handle.Pid()
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Size returns the terminal's current dimensions.
func (s *Session) Size() (cols, rows uint16) {
	return s.term.Size()
}

// Cursor returns the terminal's current cursor position.
func (s *Session) Cursor() vt.CursorPosition {
	return s.term.Cursor()
}

// ScreenText returns the current screen contents as plain text.
func (s *Session) ScreenText() string {
	return s.term.Text()
}

// ScreenRender returns the current screen buffer.
func (s *Session) ScreenRender() vt.ScreenBuffer {
	return s.term.Screen()
}

// Info returns a point-in-time Info snapshot.
func (s *Session) Info() Info {
	cols, rows := s.Size()
	return Info{
		ID:        s.id,
		Command:   s.command,
		Pid:       s.Pid(),
		Running:   s.Running(),
		CreatedAt: s.createdAt,
		Cols:      cols,
		Rows:      rows,
	}
}

const (
	sessionQueryLockTimeout  = 100 * time.Millisecond
	sessionMutateLockTimeout = 500 * time.Millisecond
)

// Keystroke maps a named key to its byte sequence and writes it to the
// PTY, recording a timeline entry. Modifiers held via Keydown do not
// change the bytes written. Fails with ErrInvalidKey for unrecognized
// names.
func (s *Session) Keystroke(key string) error {
	seq, err := resolveKeystroke(key)
	if err != nil {
		return err
	}

	return withTimedLock(s.lock, sessionMutateLockTimeout, func() {
		_, _ = s.handle.Write([]byte(seq))
		s.timeline.Append(TimelinePress, key)
	})
}

// Keydown sets a modifier bit. Pure state; does not write to the PTY.
func (s *Session) Keydown(key string) error {
	mod, err := resolveModifier(key)
	if err != nil {
		return err
	}
	return withTimedLock(s.lock, sessionMutateLockTimeout, func() {
		s.modifier |= mod
		s.timeline.Append(TimelineKeydown, key)
	})
}

// Keyup clears a modifier bit. Pure state; does not write to the PTY.
func (s *Session) Keyup(key string) error {
	mod, err := resolveModifier(key)
	if err != nil {
		return err
	}
	return withTimedLock(s.lock, sessionMutateLockTimeout, func() {
		s.modifier &^= mod
		s.timeline.Append(TimelineKeyup, key)
	})
}

// TypeText writes raw UTF-8 bytes to the PTY and records a sanitized
// timeline entry.
func (s *Session) TypeText(text string) error {
	return withTimedLock(s.lock, sessionMutateLockTimeout, func() {
		_, _ = s.handle.Write([]byte(text))
		s.timeline.Append(TimelineType, text)
	})
}

// PtyWrite writes raw bytes to the PTY, for attach-input paths, and
// records a "write" timeline entry whose value is the sanitized data.
func (s *Session) PtyWrite(data []byte) error {
	return withTimedLock(s.lock, sessionMutateLockTimeout, func() {
		_, _ = s.handle.Write(data)
		s.timeline.Append(TimelineWrite, string(data))
	})
}

// Resize updates the PTY window size and the terminal emulator's
// dimensions, records a timeline entry, and notifies the stream so
// live-preview readers observe the change.
func (s *Session) Resize(cols, rows uint16) error {
	return withTimedLock(s.lock, sessionMutateLockTimeout, func() {
		_ = s.handle.Resize(ptypkg.Size{Cols: cols, Rows: rows})
		s.term.Resize(cols, rows)
		s.timeline.Append(TimelineResize, fmt.Sprintf("%dx%d", cols, rows))
		s.buf.Notify()
	})
}

// Kill asks the pump to shut down, which makes the pump close the PTY
// handle, and then sends SIGTERM to the child's process group. It does
// not wait for the pump to exit; see PumpDone.
func (s *Session) Kill() error {
	return withTimedLock(s.lock, sessionMutateLockTimeout, func() {
		if s.pump != nil {
			s.pump.Shutdown()
		}
		_ = s.handle.Signal(syscall.SIGTERM)
	})
}

// StreamRead delegates to the stream buffer.
func (s *Session) StreamRead(cursor *stream.Cursor, maxBytes, timeoutMs int) (stream.Read, error) {
	return s.buf.Read(cursor, maxBytes, timeoutMs)
}

// StreamSubscribe delegates to the stream buffer.
func (s *Session) StreamSubscribe() *stream.Subscription {
	return s.buf.Subscribe()
}

// LatestStreamSeq returns the stream buffer's current end-of-stream
// sequence number.
func (s *Session) LatestStreamSeq() uint64 {
	return s.buf.LatestCursor().Seq
}

// LivePreviewSnapshot asks the emulator for its current screen and
// cursor, renders an init byte sequence, and returns it alongside the
// stream sequence incremental output should resume from.
func (s *Session) LivePreviewSnapshot() LivePreviewSnapshot {
	cols, rows := s.term.Size()
	cursor := s.term.Cursor()
	screen := s.term.Screen()

	return LivePreviewSnapshot{
		Cols:      cols,
		Rows:      rows,
		Init:      renderLivePreviewInit(screen, cursor),
		StreamSeq: s.buf.LatestCursor().Seq,
	}
}

// CommandTimelineRead returns timeline entries after cursor, capped at
// max.
func (s *Session) CommandTimelineRead(cursor uint64, max int) []TimelineEntry {
	return s.timeline.Read(cursor, max)
}

// Flush blocks until every PTY byte already read by the pump has been
// published to the stream buffer. Used before taking a synchronous
// snapshot so it reflects the most recent output.
func (s *Session) Flush() {
	if s.pump != nil {
		s.pump.Flush()
	}
}

// PumpDone returns a channel closed once the session's pump has exited.
func (s *Session) PumpDone() <-chan struct{} {
	if s.pump == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.pump.Done()
}

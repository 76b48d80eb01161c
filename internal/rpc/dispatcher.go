package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/agent-tui/agent-tui/internal/session"
	"github.com/agent-tui/agent-tui/internal/sessionmanager"
)

// Version and Commit are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Dispatcher holds everything a non-streaming method handler needs:
// the session registry and the time the daemon started (for health/
// uptime reporting). Streaming methods are dispatched separately by
// internal/streaming, which shares the same Manager.
type Dispatcher struct {
	Manager   *sessionmanager.Manager
	StartTime time.Time
	Logger    *slog.Logger
}

// StreamingMethods names every method that keeps the connection open and
// emits a series of events instead of one result. Callers (internal/daemon,
// internal/transport) check this before calling Dispatch.
var StreamingMethods = map[string]bool{
	"attach_stream":       true,
	"live_preview_stream": true,
	"flightdeck_stream":   true,
}

// Dispatch handles one non-streaming request and returns its response.
func (d *Dispatcher) Dispatch(req Request) Response {
	switch req.Method {
	case "ping":
		return NewResult(req.ID, map[string]any{"pong": true})
	case "health":
		return d.handleHealth(req)
	case "version":
		return NewResult(req.ID, map[string]any{
			"daemon_version": Version,
			"daemon_commit":  Commit,
		})
	case "spawn":
		return d.handleSpawn(req)
	case "snapshot":
		return d.handleSnapshot(req)
	case "sessions":
		return d.handleSessions(req)
	case "attach":
		return d.handleAttach(req)
	case "kill":
		return d.handleKill(req)
	case "restart":
		return d.handleRestart(req)
	case "resize":
		return d.handleResize(req)
	case "keystroke":
		return d.handleKeystroke(req)
	case "keydown":
		return d.handleKeydown(req)
	case "keyup":
		return d.handleKeyup(req)
	case "type":
		return d.handleType(req)
	case "wait":
		return d.handleWait(req)
	default:
		return NewError(req.ID, CodeUnknownMethod, "unknown method: "+req.Method)
	}
}

func (d *Dispatcher) handleHealth(req Request) Response {
	return NewResult(req.ID, map[string]any{
		"status":        "ok",
		"pid":           os.Getpid(),
		"uptime_ms":     time.Since(d.StartTime).Milliseconds(),
		"session_count": len(d.Manager.List()),
		"version":       Version,
		"commit":        Commit,
	})
}

type spawnParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
	Session string   `json:"session,omitempty"`
	Cols    uint16   `json:"cols"`
	Rows    uint16   `json:"rows"`
}

func (d *Dispatcher) handleSpawn(req Request) Response {
	var p spawnParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	if p.Command == "" {
		return NewError(req.ID, CodeInvalidParams, "command is required")
	}
	if p.Cols == 0 || p.Rows == 0 {
		return NewError(req.ID, CodeInvalidParams, "cols and rows must be positive")
	}

	id, pid, err := d.Manager.Spawn(p.Command, p.Args, p.Cwd, nil, session.ID(p.Session), p.Cols, p.Rows)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"session_id": string(id), "pid": pid})
}

type sessionOnlyParams struct {
	Session string `json:"session,omitempty"`
}

func (d *Dispatcher) handleSnapshot(req Request) Response {
	var p struct {
		Session       string `json:"session,omitempty"`
		StripANSI     bool   `json:"strip_ansi,omitempty"`
		IncludeCursor bool   `json:"include_cursor,omitempty"`
		IncludeRender bool   `json:"include_render,omitempty"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}

	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}

	sess.Flush()
	cols, rows := sess.Size()
	result := map[string]any{
		"session_id": string(sess.ID()),
		"text":       sess.ScreenText(),
		"cols":       cols,
		"rows":       rows,
	}
	if p.IncludeCursor {
		result["cursor"] = sess.Cursor()
	}
	if p.IncludeRender {
		result["render"] = sess.ScreenRender()
	}
	return NewResult(req.ID, result)
}

func (d *Dispatcher) handleSessions(req Request) Response {
	infos := d.Manager.List()
	active := ""
	if sess, err := d.Manager.Resolve(""); err == nil {
		active = string(sess.ID())
	}
	return NewResult(req.ID, map[string]any{
		"sessions":       infos,
		"active_session": active,
	})
}

func (d *Dispatcher) handleAttach(req Request) Response {
	var p sessionOnlyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	if p.Session == "" {
		return NewError(req.ID, CodeInvalidParams, "session is required")
	}
	if err := d.Manager.SetActive(session.ID(p.Session)); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"attached": true})
}

func (d *Dispatcher) handleKill(req Request) Response {
	var p sessionOnlyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}

	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if err := d.Manager.Kill(sess.ID()); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"killed": string(sess.ID())})
}

func (d *Dispatcher) handleRestart(req Request) Response {
	var p sessionOnlyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}

	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	command := sess.Command()
	cols, rows := sess.Size()

	if err := d.Manager.Kill(sess.ID()); err != nil {
		return errorResponse(req.ID, err)
	}

	id, pid, err := d.Manager.Spawn(command, nil, "", nil, sess.ID(), cols, rows)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"session_id": string(id), "pid": pid})
}

func (d *Dispatcher) handleResize(req Request) Response {
	var p struct {
		Session string `json:"session,omitempty"`
		Cols    uint16 `json:"cols"`
		Rows    uint16 `json:"rows"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	if p.Cols == 0 || p.Rows == 0 {
		return NewError(req.ID, CodeInvalidParams, "cols and rows must be positive")
	}

	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if err := sess.Resize(p.Cols, p.Rows); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"resized": true})
}

type keyParams struct {
	Key     string `json:"key"`
	Session string `json:"session,omitempty"`
}

func (d *Dispatcher) handleKeystroke(req Request) Response {
	var p keyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if err := sess.Keystroke(p.Key); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"sent": true})
}

func (d *Dispatcher) handleKeydown(req Request) Response {
	var p keyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if err := sess.Keydown(p.Key); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"sent": true})
}

func (d *Dispatcher) handleKeyup(req Request) Response {
	var p keyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if err := sess.Keyup(p.Key); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"sent": true})
}

func (d *Dispatcher) handleType(req Request) Response {
	var p struct {
		Text    string `json:"text"`
		Session string `json:"session,omitempty"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if err := sess.TypeText(p.Text); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, map[string]any{"sent": true})
}

const waitPollInterval = 50 * time.Millisecond

func (d *Dispatcher) handleWait(req Request) Response {
	var p struct {
		Session   string `json:"session,omitempty"`
		Text      string `json:"text,omitempty"`
		Condition string `json:"condition,omitempty"` // "present" | "gone" | "stable"
		TimeoutMs int    `json:"timeout_ms,omitempty"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		return NewError(req.ID, CodeInvalidParams, err.Error())
	}
	if p.Condition == "" {
		p.Condition = "present"
	}
	if p.TimeoutMs <= 0 {
		p.TimeoutMs = 5000
	}

	sess, err := d.Manager.Resolve(session.ID(p.Session))
	if err != nil {
		return errorResponse(req.ID, err)
	}

	start := time.Now()
	deadline := start.Add(time.Duration(p.TimeoutMs) * time.Millisecond)

	var lastText string
	stableSince := time.Time{}

	for {
		sess.Flush()
		text := sess.ScreenText()

		found := false
		switch p.Condition {
		case "present":
			found = containsSubstring(text, p.Text)
		case "gone":
			found = !containsSubstring(text, p.Text)
		case "stable":
			if text == lastText {
				if stableSince.IsZero() {
					stableSince = time.Now()
				} else if time.Since(stableSince) >= waitPollInterval*2 {
					found = true
				}
			} else {
				stableSince = time.Time{}
			}
			lastText = text
		}

		if found {
			return NewResult(req.ID, map[string]any{
				"found":      true,
				"elapsed_ms": time.Since(start).Milliseconds(),
			})
		}
		if time.Now().After(deadline) {
			return NewResult(req.ID, map[string]any{
				"found":      false,
				"elapsed_ms": time.Since(start).Milliseconds(),
			})
		}
		time.Sleep(waitPollInterval)
	}
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(haystack, needle)
}

func unmarshalParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// errorResponse maps a domain error to a JSON-RPC error object, naming
// the session id when the error carries one.
func errorResponse(id any, err error) Response {
	var notFound *session.NotFoundError
	var alreadyExists *session.AlreadyExistsError
	var limitReached *session.LimitReachedError
	var lockTimeout *session.LockTimeoutError
	var persistenceErr *session.PersistenceError

	switch {
	case errors.As(err, &notFound), errors.As(err, &alreadyExists), errors.As(err, &limitReached), errors.As(err, &lockTimeout), errors.As(err, &persistenceErr):
		return NewError(id, CodeApplicationError, err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		return NewError(id, CodeApplicationError, err.Error())
	case errors.Is(err, session.ErrInvalidKey):
		return NewError(id, CodeInvalidParams, err.Error())
	default:
		return NewError(id, CodeApplicationError, err.Error())
	}
}

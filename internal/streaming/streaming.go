// Package streaming implements the three long-lived RPC methods that
// keep a connection open and emit a series of events instead of one
// result: attach_stream, live_preview_stream, and flightdeck_stream.
package streaming

import (
	"encoding/base64"
	"time"

	"github.com/agent-tui/agent-tui/internal/session"
	"github.com/agent-tui/agent-tui/internal/sessionmanager"
	"github.com/agent-tui/agent-tui/internal/stream"
)

// waitSlice bounds every blocking wait inside a streaming loop so a
// shutdown or cancellation flag is observed within this long of it
// being set.
const waitSlice = 250 * time.Millisecond

// Terminate reports why a streaming loop should stop.
type Terminate struct {
	Shutdown   <-chan struct{}
	Cancelled  <-chan struct{}
}

func (t Terminate) fired() bool {
	select {
	case <-t.Shutdown:
		return true
	case <-t.Cancelled:
		return true
	default:
		return false
	}
}

// Emit sends one event to the client. Streaming loops call this for
// every event; the caller (internal/daemon or internal/transport) wires
// it to the connection's writer.
type Emit func(payload map[string]any) error

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// event builds a streaming event payload: a flat map with "event" plus
// whatever fields are relevant to that event kind.
func event(name string, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["event"] = name
	return out
}

// resolveSession mirrors rpc's session-id-or-active resolution,
// including the "active" sentinel used by live_preview_stream.
func resolveSession(mgr *sessionmanager.Manager, raw string) (*session.Session, error) {
	if raw == "active" {
		raw = ""
	}
	return mgr.Resolve(session.ID(raw))
}

// waitOutcome is the result of waitForStreamEventOrTick.
type waitOutcome int

const (
	waitNotified waitOutcome = iota
	waitHeartbeatElapsed
	waitTerminated
)

// waitForStreamEventOrTick blocks in waitSlice increments until the
// subscription is notified, the heartbeat deadline (heartbeatMs) is
// reached, or term fires — whichever happens first. Looping in short
// slices keeps shutdown/cancellation observable quickly even though the
// heartbeat and notification waits can each be much longer.
func waitForStreamEventOrTick(sub *stream.Subscription, term Terminate, heartbeatMs int) waitOutcome {
	deadline := time.Now().Add(time.Duration(heartbeatMs) * time.Millisecond)
	for {
		if term.fired() {
			return waitTerminated
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return waitHeartbeatElapsed
		}
		slice := waitSlice
		if remaining < slice {
			slice = remaining
		}
		if sub.Wait(slice) {
			return waitNotified
		}
	}
}

package streaming

import (
	"reflect"
	"time"

	"github.com/agent-tui/agent-tui/internal/session"
	"github.com/agent-tui/agent-tui/internal/sessionmanager"
)

const (
	flightdeckDefaultIntervalMs = 1000
	flightdeckMinIntervalMs     = 250
	flightdeckMaxIntervalMs     = 5000
	flightdeckHeartbeatMs       = 5 * 1000
)

// flightdeckSnapshot is the comparable value flightdeck_stream diffs
// across ticks to decide whether a fresh "sessions" event is warranted.
type flightdeckSnapshot struct {
	Sessions      []session.Info
	ActiveSession string
}

func takeFlightdeckSnapshot(mgr *sessionmanager.Manager) flightdeckSnapshot {
	infos := mgr.List()
	active := ""
	if sess, err := mgr.Resolve(""); err == nil {
		active = string(sess.ID())
	}
	return flightdeckSnapshot{Sessions: infos, ActiveSession: active}
}

func (s flightdeckSnapshot) toEvent(name string) map[string]any {
	return event(name, map[string]any{
		"sessions":       s.Sessions,
		"active_session": s.ActiveSession,
	})
}

// ClampFlightdeckInterval clamps a requested interval to
// [flightdeckMinIntervalMs, flightdeckMaxIntervalMs], defaulting to
// flightdeckDefaultIntervalMs when intervalMs is zero.
func ClampFlightdeckInterval(intervalMs int) int {
	if intervalMs <= 0 {
		intervalMs = flightdeckDefaultIntervalMs
	}
	if intervalMs < flightdeckMinIntervalMs {
		return flightdeckMinIntervalMs
	}
	if intervalMs > flightdeckMaxIntervalMs {
		return flightdeckMaxIntervalMs
	}
	return intervalMs
}

// FlightdeckStream reports the set of sessions and which is active, for
// operator dashboards. It emits a "sessions" event only when the
// snapshot differs (deep-equal) from the previous one, plus periodic
// heartbeats and the usual terminal event.
func FlightdeckStream(mgr *sessionmanager.Manager, intervalMs int, term Terminate, emit Emit) error {
	interval := time.Duration(ClampFlightdeckInterval(intervalMs)) * time.Millisecond

	snapshot := takeFlightdeckSnapshot(mgr)
	if err := emit(snapshot.toEvent("ready")); err != nil {
		return err
	}

	nextSnapshot := time.Now().Add(interval)
	nextHeartbeat := time.Now().Add(flightdeckHeartbeatMs * time.Millisecond)

	for {
		if term.fired() {
			return emit(event("closed", nil))
		}

		now := time.Now()
		if !now.Before(nextSnapshot) {
			fresh := takeFlightdeckSnapshot(mgr)
			if !reflect.DeepEqual(fresh, snapshot) {
				snapshot = fresh
				if err := emit(snapshot.toEvent("sessions")); err != nil {
					return err
				}
			}
			nextSnapshot = now.Add(interval)
		}
		if !now.Before(nextHeartbeat) {
			if err := emit(event("heartbeat", nil)); err != nil {
				return err
			}
			nextHeartbeat = now.Add(flightdeckHeartbeatMs * time.Millisecond)
		}

		sleepUntil := nextSnapshot
		if nextHeartbeat.Before(sleepUntil) {
			sleepUntil = nextHeartbeat
		}
		sleep := time.Until(sleepUntil)
		if sleep > waitSlice {
			sleep = waitSlice
		}
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

package streaming

import (
	"github.com/agent-tui/agent-tui/internal/session"
	"github.com/agent-tui/agent-tui/internal/sessionmanager"
	"github.com/agent-tui/agent-tui/internal/stream"
)

const (
	attachByteBudget  = 512 * 1024
	attachChunkBudget = 64 * 1024
	attachHeartbeatMs = 30 * 1000
)

// AttachStream runs the attach_stream loop: sets the named session
// active, emits ready/output/dropped/heartbeat/closed events until the
// connection is cancelled, the daemon shuts down, or the child exits.
func AttachStream(mgr *sessionmanager.Manager, sessionID string, term Terminate, emit Emit) error {
	sess, err := mgr.Resolve(session.ID(sessionID))
	if err != nil {
		return emit(event("closed", nil))
	}
	if err := mgr.SetActive(sess.ID()); err != nil {
		return emit(event("closed", nil))
	}

	if err := emit(event("ready", map[string]any{"session_id": string(sess.ID())})); err != nil {
		return err
	}

	snap := sess.LivePreviewSnapshot()
	cursor := stream.Cursor{Seq: snap.StreamSeq}

	sub := sess.StreamSubscribe()
	defer sub.Close()

	for {
		if term.fired() {
			return emit(event("closed", nil))
		}

		budget := attachByteBudget
		produced := false
		closed := false
		for budget > 0 {
			chunk := attachChunkBudget
			if chunk > budget {
				chunk = budget
			}
			read, err := sess.StreamRead(&cursor, chunk, 0)
			if err != nil {
				return emit(event("closed", map[string]any{"reason": err.Error()}))
			}
			if len(read.Data) > 0 {
				if emitErr := emit(event("output", map[string]any{
					"data":          b64(read.Data),
					"bytes":         len(read.Data),
					"dropped_bytes": read.DroppedBytes,
				})); emitErr != nil {
					return emitErr
				}
				produced = true
				budget -= len(read.Data)
				if read.Closed {
					closed = true
					break
				}
				continue
			}
			if read.DroppedBytes > 0 {
				if emitErr := emit(event("dropped", map[string]any{"dropped_bytes": read.DroppedBytes})); emitErr != nil {
					return emitErr
				}
				produced = true
			}
			if read.Closed {
				closed = true
			}
			break
		}

		if closed {
			return emit(event("closed", nil))
		}
		if produced {
			continue
		}

		switch waitForStreamEventOrTick(sub, term, attachHeartbeatMs) {
		case waitTerminated:
			return emit(event("closed", nil))
		case waitHeartbeatElapsed:
			if err := emit(event("heartbeat", nil)); err != nil {
				return err
			}
		case waitNotified:
			// loop around and drain again
		}
	}
}

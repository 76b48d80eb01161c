package streaming

import (
	"time"

	"github.com/agent-tui/agent-tui/internal/sessionmanager"
	"github.com/agent-tui/agent-tui/internal/stream"
)

const (
	livePreviewByteBudget  = 256 * 1024
	livePreviewChunkBudget = 64 * 1024
	livePreviewHeartbeatMs = 5 * 1000
)

// LivePreviewStream resolves sessionID (accepting the sentinel "active"),
// emits ready/init, then output/resize/heartbeat/closed events, with an
// init re-emitted whenever a cursor drop is observed so the client can
// resynchronize instead of trying to reconstruct dropped bytes.
func LivePreviewStream(mgr *sessionmanager.Manager, sessionID string, start time.Time, term Terminate, emit Emit) error {
	sess, err := resolveSession(mgr, sessionID)
	if err != nil {
		return emit(event("closed", nil))
	}

	snap := sess.LivePreviewSnapshot()
	if err := emit(event("ready", map[string]any{
		"session_id": string(sess.ID()),
		"cols":       snap.Cols,
		"rows":       snap.Rows,
	})); err != nil {
		return err
	}

	if err := emit(event("init", map[string]any{
		"time": time.Since(start).Seconds(),
		"cols": snap.Cols,
		"rows": snap.Rows,
		"init": b64(snap.Init),
	})); err != nil {
		return err
	}

	cursor := stream.Cursor{Seq: snap.StreamSeq}
	lastCols, lastRows := snap.Cols, snap.Rows

	sub := sess.StreamSubscribe()
	defer sub.Close()

	for {
		if term.fired() {
			return emit(event("closed", nil))
		}

		if cols, rows := sess.Size(); cols != lastCols || rows != lastRows {
			lastCols, lastRows = cols, rows
			if err := emit(event("resize", map[string]any{
				"time": time.Since(start).Seconds(),
				"cols": cols,
				"rows": rows,
			})); err != nil {
				return err
			}
		}

		budget := livePreviewByteBudget
		produced := false
		closed := false
		for budget > 0 {
			chunk := livePreviewChunkBudget
			if chunk > budget {
				chunk = budget
			}
			read, err := sess.StreamRead(&cursor, chunk, 0)
			if err != nil {
				return emit(event("closed", map[string]any{"reason": err.Error()}))
			}
			if len(read.Data) > 0 {
				if emitErr := emit(event("output", map[string]any{
					"time":    time.Since(start).Seconds(),
					"data_b64": b64(read.Data),
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
				// Resync: consume the drop, re-snapshot the emulator,
				// advance to the latest cursor, re-emit init.
				freshSnap := sess.LivePreviewSnapshot()
				cursor = stream.Cursor{Seq: read.LatestCursor.Seq}
				lastCols, lastRows = freshSnap.Cols, freshSnap.Rows
				if emitErr := emit(event("init", map[string]any{
					"time": time.Since(start).Seconds(),
					"cols": freshSnap.Cols,
					"rows": freshSnap.Rows,
					"init": b64(freshSnap.Init),
				})); emitErr != nil {
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

		switch waitForStreamEventOrTick(sub, term, livePreviewHeartbeatMs) {
		case waitTerminated:
			return emit(event("closed", nil))
		case waitHeartbeatElapsed:
			if err := emit(event("heartbeat", nil)); err != nil {
				return err
			}
		case waitNotified:
		}
	}
}

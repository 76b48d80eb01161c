package session

import (
	"testing"
	"time"

	"github.com/agent-tui/agent-tui/internal/logger"
	"github.com/agent-tui/agent-tui/internal/pty"
)

func newTestSession(t *testing.T) (*Session, *pty.FakeHandle) {
	t.Helper()
	handle := pty.NewFakeHandle(4321)
	s := New(GenerateID(), "bash", nil, handle, 80, 24, logger.Discard())
	s.AttachPump()
	return s, handle
}

func TestGenerateIDLength(t *testing.T) {
	id := GenerateID()
	if len(id) != 8 {
		t.Errorf("GenerateID() = %q, want length 8", id)
	}
}

func TestKeystrokeWritesEscapeSequence(t *testing.T) {
	s, handle := newTestSession(t)
	if err := s.Keystroke("Enter"); err != nil {
		t.Fatalf("Keystroke failed: %v", err)
	}
	if got := string(handle.Written()); got != "\r" {
		t.Errorf("written = %q, want %q", got, "\r")
	}
}

func TestKeystrokeInvalidKey(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Keystroke("NotAKey!!"); err != ErrInvalidKey {
		t.Errorf("err = %v, want ErrInvalidKey", err)
	}
}

func TestKeydownKeyupModifierState(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Keydown("Ctrl"); err != nil {
		t.Fatalf("Keydown failed: %v", err)
	}
	if s.modifier&ModCtrl == 0 {
		t.Error("expected ModCtrl set after Keydown")
	}
	if err := s.Keyup("Ctrl"); err != nil {
		t.Fatalf("Keyup failed: %v", err)
	}
	if s.modifier&ModCtrl != 0 {
		t.Error("expected ModCtrl cleared after Keyup")
	}
}

func TestKeydownDoesNotWriteToPty(t *testing.T) {
	s, handle := newTestSession(t)
	_ = s.Keydown("Ctrl")
	if len(handle.Written()) != 0 {
		t.Errorf("expected no PTY writes from Keydown, got %q", handle.Written())
	}
}

func TestTypeTextWritesRawBytes(t *testing.T) {
	s, handle := newTestSession(t)
	if err := s.TypeText("echo hi"); err != nil {
		t.Fatalf("TypeText failed: %v", err)
	}
	if got := string(handle.Written()); got != "echo hi" {
		t.Errorf("written = %q, want %q", got, "echo hi")
	}
}

func TestResizeUpdatesHandleAndTerminal(t *testing.T) {
	s, handle := newTestSession(t)
	if err := s.Resize(100, 40); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if got := handle.LastSize(); got.Cols != 100 || got.Rows != 40 {
		t.Errorf("handle size = %+v, want 100x40", got)
	}
	cols, rows := s.Size()
	if cols != 100 || rows != 40 {
		t.Errorf("Session size = %dx%d, want 100x40", cols, rows)
	}
}

func TestKillSendsSignalAndShutsDownPump(t *testing.T) {
	s, handle := newTestSession(t)
	if err := s.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	handle.FeedEOF()

	select {
	case <-s.PumpDone():
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after Kill")
	}

	sigs := handle.Signals()
	if len(sigs) != 1 {
		t.Fatalf("expected exactly one signal, got %d", len(sigs))
	}
}

func TestCommandTimelineRecordsEntries(t *testing.T) {
	s, _ := newTestSession(t)
	_ = s.Keystroke("Enter")
	_ = s.TypeText("hi")

	entries := s.CommandTimelineRead(0, 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(entries))
	}
	if entries[0].Kind != TimelinePress {
		t.Errorf("entries[0].Kind = %q, want press", entries[0].Kind)
	}
	if entries[1].Kind != TimelineType {
		t.Errorf("entries[1].Kind = %q, want type", entries[1].Kind)
	}
}

func TestLivePreviewSnapshotReflectsScreen(t *testing.T) {
	s, handle := newTestSession(t)
	handle.Feed([]byte("hi"))
	s.Flush()

	snap := s.LivePreviewSnapshot()
	if snap.Cols != 80 || snap.Rows != 24 {
		t.Errorf("snapshot size = %dx%d, want 80x24", snap.Cols, snap.Rows)
	}
	if len(snap.Init) == 0 {
		t.Error("expected non-empty init sequence")
	}
}

package tui

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"os"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/agent-tui/agent-tui/internal/daemon"
	"github.com/agent-tui/agent-tui/internal/rpc"
)

func shortSocketPath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "sock")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	_ = f.Close()
	_ = os.Remove(path)
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

// fakeDaemon accepts every request, answering "type"/"resize"/"keystroke"
// calls with a generic ok result and streaming a canned event sequence for
// attach_stream.
func fakeDaemon(t *testing.T, sockPath string, streamEvents []map[string]any) func() {
	t.Helper()
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-done:
					return
				default:
					continue
				}
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				dec := json.NewDecoder(c)
				enc := json.NewEncoder(c)
				for {
					var req rpc.Request
					if err := dec.Decode(&req); err != nil {
						return
					}
					if rpc.StreamingMethods[req.Method] {
						for _, e := range streamEvents {
							if err := enc.Encode(rpc.NewResult(req.ID, e)); err != nil {
								return
							}
						}
						<-done
						return
					}
					_ = enc.Encode(rpc.NewResult(req.ID, map[string]any{"ok": true}))
				}
			}(conn)
		}
	}()

	return func() {
		close(done)
		_ = listener.Close()
		_ = os.Remove(sockPath)
	}
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestAttachModel_OutputAppendsToScreen(t *testing.T) {
	sockPath := shortSocketPath(t)
	cleanup := fakeDaemon(t, sockPath, []map[string]any{
		{"event": "ready", "session_id": "abc"},
		{"event": "output", "data": b64("hello")},
	})
	defer cleanup()

	client := daemon.NewClient(sockPath)
	m := newAttachModel(client, "abc")

	model, _ := m.Update(attachEventMsg{"event": "ready", "session_id": "abc"})
	m = model.(attachModel)
	if m.status != "attached" {
		t.Errorf("expected status %q, got %q", "attached", m.status)
	}

	model, _ = m.Update(attachEventMsg{"event": "output", "data": b64("hello")})
	m = model.(attachModel)
	if string(m.screen) != "hello" {
		t.Errorf("expected screen %q, got %q", "hello", string(m.screen))
	}
}

func TestAttachModel_ClosedQuits(t *testing.T) {
	m := newAttachModel(daemon.NewClient(shortSocketPath(t)), "abc")
	model, cmd := m.Update(attachEventMsg{"event": "closed"})
	m = model.(attachModel)
	if m.status != "session closed" {
		t.Errorf("expected status %q, got %q", "session closed", m.status)
	}
	if cmd == nil {
		t.Error("expected a quit command")
	}
}

func TestAttachModel_DetachOnCtrlG(t *testing.T) {
	m := newAttachModel(daemon.NewClient(shortSocketPath(t)), "abc")
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlG})
	m = model.(attachModel)
	if !m.detached {
		t.Error("expected model to be detached after ctrl+g")
	}
	if cmd == nil {
		t.Error("expected a quit command")
	}
}

func TestAttachModel_SpecialKeyDoesNotDetach(t *testing.T) {
	sockPath := shortSocketPath(t)
	cleanup := fakeDaemon(t, sockPath, nil)
	defer cleanup()

	client := daemon.NewClient(sockPath)
	m := newAttachModel(client, "abc")

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = model.(attachModel)
	if m.detached {
		t.Error("model should not be detached after a regular keystroke")
	}
}

func TestAttachModel_ViewRendersStatusBar(t *testing.T) {
	m := newAttachModel(daemon.NewClient(shortSocketPath(t)), "abc")
	m.status = "attached"
	m.screen = []byte("some output")

	view := m.View()
	if view == "" {
		t.Fatal("expected non-empty view")
	}
}

func TestSpecialKeys_MapsCommonNames(t *testing.T) {
	cases := map[string]string{
		"enter":  "Enter",
		"tab":    "Tab",
		"ctrl+c": "Ctrl+C",
		"up":     "ArrowUp",
	}
	for in, want := range cases {
		if got := specialKeys[in]; got != want {
			t.Errorf("specialKeys[%q] = %q, want %q", in, got, want)
		}
	}
}

package daemon

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-tui/agent-tui/internal/rpc"
)

// mockServer starts a mock daemon server that returns one canned response
// per line-delimited request.
func mockServer(t *testing.T, sockPath string, handler func(req rpc.Request) rpc.Response) func() {
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

				var req rpc.Request
				if err := json.NewDecoder(c).Decode(&req); err != nil {
					return
				}

				resp := handler(req)
				resp.ID = req.ID
				_ = json.NewEncoder(c).Encode(resp)
			}(conn)
		}
	}()

	return func() {
		close(done)
		_ = listener.Close()
		_ = os.Remove(sockPath)
	}
}

// mockStreamServer starts a mock daemon server that writes a fixed sequence
// of event payloads as JSON lines in response to any request.
func mockStreamServer(t *testing.T, sockPath string, events []map[string]any) func() {
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

				var req rpc.Request
				if err := json.NewDecoder(c).Decode(&req); err != nil {
					return
				}

				enc := json.NewEncoder(c)
				for _, e := range events {
					if err := enc.Encode(rpc.NewResult(req.ID, e)); err != nil {
						return
					}
				}
				<-done
			}(conn)
		}
	}()

	return func() {
		close(done)
		_ = listener.Close()
		_ = os.Remove(sockPath)
	}
}

func TestClient_Call_Success(t *testing.T) {
	sockPath := shortSocketPath(t)

	cleanup := mockServer(t, sockPath, func(req rpc.Request) rpc.Response {
		if req.Method != "ping" {
			return rpc.NewError(req.ID, rpc.CodeUnknownMethod, "unexpected method")
		}
		return rpc.NewResult(req.ID, "pong")
	})
	defer cleanup()

	client := NewClient(sockPath)
	resp, err := client.Call("ping", nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if resp.Result != "pong" {
		t.Errorf("expected result %q, got %v", "pong", resp.Result)
	}
}

func TestClient_Call_WithParams(t *testing.T) {
	sockPath := shortSocketPath(t)

	var receivedCommand string
	cleanup := mockServer(t, sockPath, func(req rpc.Request) rpc.Response {
		var params map[string]any
		_ = json.Unmarshal(req.Params, &params)
		if cmd, ok := params["command"].(string); ok {
			receivedCommand = cmd
		}
		return rpc.NewResult(req.ID, "ok")
	})
	defer cleanup()

	client := NewClient(sockPath)
	_, err := client.Call("spawn", map[string]any{"command": "bash"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if receivedCommand != "bash" {
		t.Errorf("expected command %q to reach server, got %q", "bash", receivedCommand)
	}
}

func TestClient_IsRunning_True(t *testing.T) {
	sockPath := shortSocketPath(t)

	cleanup := mockServer(t, sockPath, func(req rpc.Request) rpc.Response {
		return rpc.NewResult(req.ID, "ok")
	})
	defer cleanup()

	client := NewClient(sockPath)
	if !client.IsRunning() {
		t.Error("expected IsRunning() to return true")
	}
}

func TestClient_IsRunning_False(t *testing.T) {
	client := NewClient("/tmp/nonexistent.sock")
	if client.IsRunning() {
		t.Error("expected IsRunning() to return false for nonexistent socket")
	}
}

func TestClient_SocketNotFound(t *testing.T) {
	client := NewClient("/tmp/nonexistent.sock")
	_, err := client.Call("ping", nil)
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}

	expected := "daemon not running (socket not found)"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestClient_DaemonError(t *testing.T) {
	sockPath := shortSocketPath(t)

	cleanup := mockServer(t, sockPath, func(req rpc.Request) rpc.Response {
		return rpc.NewError(req.ID, rpc.CodeApplicationError, "session not found")
	})
	defer cleanup()

	client := NewClient(sockPath)
	_, err := client.Call("kill", nil)
	if err == nil {
		t.Fatal("expected error for daemon error response")
	}

	expected := "daemon error (-32000): session not found"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestClient_SetTimeout(t *testing.T) {
	client := NewClient("/tmp/test.sock")

	if client.timeout != DefaultClientTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultClientTimeout, client.timeout)
	}

	client.SetTimeout(10 * time.Second)
	if client.timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", client.timeout)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	tmp := t.TempDir()
	sockPath := filepath.Join(tmp, "test.sock")

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("create socket: %v", err)
	}
	_ = listener.Close()

	client := NewClient(sockPath)
	_, err = client.Call("ping", nil)
	if err == nil {
		t.Fatal("expected error for closed socket")
	}
	if err.Error() != "daemon not running (connection refused)" &&
		err.Error() != "daemon not running (socket not found)" {
		t.Logf("got error: %v (acceptable)", err)
	}
}

func TestClient_Stream_DeliversEvents(t *testing.T) {
	sockPath := shortSocketPath(t)

	cleanup := mockStreamServer(t, sockPath, []map[string]any{
		{"event": "ready", "session_id": "abc"},
		{"event": "output", "data": "aGVsbG8="},
	})
	defer cleanup()

	client := NewClient(sockPath)
	stop := make(chan struct{})

	var got []string
	done := make(chan error, 1)
	go func() {
		done <- client.Stream("attach_stream", map[string]any{"session": "abc"}, stop, func(payload map[string]any) error {
			name, _ := payload["event"].(string)
			got = append(got, name)
			if len(got) == 2 {
				close(stop)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return within 2s")
	}

	if len(got) != 2 || got[0] != "ready" || got[1] != "output" {
		t.Errorf("events = %v, want [ready, output]", got)
	}
}

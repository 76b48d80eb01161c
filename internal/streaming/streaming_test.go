package streaming

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agent-tui/agent-tui/internal/logger"
	"github.com/agent-tui/agent-tui/internal/persistence"
	"github.com/agent-tui/agent-tui/internal/sessionmanager"
)

func newTestManager(t *testing.T) *sessionmanager.Manager {
	t.Helper()
	dir := t.TempDir()
	store := persistence.NewStore(filepath.Join(dir, "sessions.jsonl"), logger.Discard())
	mgr, err := sessionmanager.New(store, 0, logger.Discard())
	if err != nil {
		t.Fatalf("sessionmanager.New failed: %v", err)
	}
	return mgr
}

type eventCollector struct {
	mu     sync.Mutex
	events []map[string]any
}

func (c *eventCollector) emit(payload map[string]any) error {
	c.mu.Lock()
	c.events = append(c.events, payload)
	c.mu.Unlock()
	return nil
}

func (c *eventCollector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e["event"].(string)
	}
	return out
}

func (c *eventCollector) has(name string) bool {
	for _, n := range c.names() {
		if n == name {
			return true
		}
	}
	return false
}

func TestAttachStreamEmitsReadyThenClosedOnCancellation(t *testing.T) {
	mgr := newTestManager(t)
	id, _, err := mgr.Spawn("sh", []string{"-c", "sleep 5"}, "", nil, "", 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer func() { _ = mgr.Kill(id) }()

	cancelled := make(chan struct{})
	collector := &eventCollector{}

	done := make(chan error, 1)
	go func() {
		done <- AttachStream(mgr, string(id), Terminate{Shutdown: make(chan struct{}), Cancelled: cancelled}, collector.emit)
	}()

	deadline := time.After(time.Second)
	for !collector.has("ready") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ready event")
		case <-time.After(time.Millisecond):
		}
	}

	close(cancelled)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AttachStream returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AttachStream did not return within 1s of cancellation")
	}

	if !collector.has("closed") {
		t.Errorf("events = %v, want a closed event", collector.names())
	}
}

func TestLivePreviewStreamEmitsReadyThenInit(t *testing.T) {
	mgr := newTestManager(t)
	id, _, err := mgr.Spawn("sh", []string{"-c", "sleep 5"}, "", nil, "", 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer func() { _ = mgr.Kill(id) }()

	cancelled := make(chan struct{})
	collector := &eventCollector{}

	done := make(chan error, 1)
	go func() {
		done <- LivePreviewStream(mgr, string(id), time.Now(), Terminate{Shutdown: make(chan struct{}), Cancelled: cancelled}, collector.emit)
	}()

	deadline := time.After(time.Second)
	for !collector.has("init") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for init event")
		case <-time.After(time.Millisecond):
		}
	}

	names := collector.names()
	if len(names) < 2 || names[0] != "ready" || names[1] != "init" {
		t.Errorf("events = %v, want [ready, init, ...]", names)
	}

	close(cancelled)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LivePreviewStream did not return after cancellation")
	}
}

func TestFlightdeckStreamEmitsSessionsOnChange(t *testing.T) {
	mgr := newTestManager(t)
	cancelled := make(chan struct{})
	collector := &eventCollector{}

	done := make(chan error, 1)
	go func() {
		done <- FlightdeckStream(mgr, 250, Terminate{Shutdown: make(chan struct{}), Cancelled: cancelled}, collector.emit)
	}()

	deadline := time.After(time.Second)
	for !collector.has("ready") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ready event")
		case <-time.After(time.Millisecond):
		}
	}

	id, _, err := mgr.Spawn("sh", []string{"-c", "sleep 5"}, "", nil, "flightdeck-new", 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer func() { _ = mgr.Kill(id) }()

	deadline = time.After(3 * time.Second)
	for !collector.has("sessions") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sessions event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(cancelled)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FlightdeckStream did not return after cancellation")
	}
}

func TestClampFlightdeckInterval(t *testing.T) {
	cases := map[int]int{0: 1000, 50: 250, 10000: 5000, 1000: 1000}
	for in, want := range cases {
		if got := ClampFlightdeckInterval(in); got != want {
			t.Errorf("ClampFlightdeckInterval(%d) = %d, want %d", in, got, want)
		}
	}
}

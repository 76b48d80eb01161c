// Package tui provides a terminal viewer for attaching to a live agent-tui
// session over the daemon's attach_stream RPC, using bubbletea.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/agent-tui/agent-tui/internal/daemon"
)

// Viewer is a terminal UI that attaches to one session and mirrors its
// screen, forwarding local keystrokes as keystroke/type RPCs.
type Viewer struct {
	client    *daemon.Client
	sessionID string
}

// New creates a Viewer for the given session, driven by client.
func New(client *daemon.Client, sessionID string) *Viewer {
	return &Viewer{client: client, sessionID: sessionID}
}

// Run starts the viewer and blocks until the session closes or the user
// detaches (Ctrl-G). Falls back to a plain streaming dump when stdout/stdin
// aren't TTYs.
func (v *Viewer) Run() error {
	if !isTerminal() {
		return v.runSimple()
	}

	m := newAttachModel(v.client, v.sessionID)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

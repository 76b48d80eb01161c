package tui

import (
	"encoding/base64"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/agent-tui/agent-tui/internal/daemon"
)

// specialKeys maps bubbletea's KeyMsg.String() form to the named-key
// vocabulary internal/session/keys.go accepts for the keystroke RPC.
// Anything not listed here is sent verbatim as literal text via "type".
var specialKeys = map[string]string{
	"enter":     "Enter",
	"tab":       "Tab",
	"backspace": "Backspace",
	"esc":       "Escape",
	"up":        "ArrowUp",
	"down":      "ArrowDown",
	"right":     "ArrowRight",
	"left":      "ArrowLeft",
	"home":      "Home",
	"end":       "End",
	"pgup":      "PageUp",
	"pgdown":    "PageDown",
	"insert":    "Insert",
	"delete":    "Delete",
	"ctrl+a":    "Ctrl+A",
	"ctrl+c":    "Ctrl+C",
	"ctrl+d":    "Ctrl+D",
	"ctrl+e":    "Ctrl+E",
	"ctrl+k":    "Ctrl+K",
	"ctrl+l":    "Ctrl+L",
	"ctrl+u":    "Ctrl+U",
	"ctrl+w":    "Ctrl+W",
	"ctrl+z":    "Ctrl+Z",
}

// attachModel is a bubbletea Model that mirrors a session's PTY output and
// forwards local keystrokes back to the daemon as type/keystroke RPCs.
type attachModel struct {
	client    *daemon.Client
	sessionID string

	events chan map[string]any
	stop   chan struct{}

	screen   []byte
	status   string
	err      error
	detached bool
	width    int
	height   int
}

func newAttachModel(client *daemon.Client, sessionID string) attachModel {
	return attachModel{
		client:    client,
		sessionID: sessionID,
		events:    make(chan map[string]any, 64),
		stop:      make(chan struct{}),
		status:    "connecting…",
	}
}

type attachEventMsg map[string]any
type attachClosedMsg struct{}
type attachErrMsg error

func (m attachModel) Init() tea.Cmd {
	return tea.Batch(m.startStream(), m.waitForEvent())
}

// startStream runs attach_stream in the background, forwarding every event
// onto m.events until the daemon closes the connection or m.stop fires.
func (m attachModel) startStream() tea.Cmd {
	return func() tea.Msg {
		err := m.client.Stream("attach_stream", map[string]any{"session": m.sessionID}, m.stop, func(payload map[string]any) error {
			m.events <- payload
			return nil
		})
		close(m.events)
		if err != nil {
			return attachErrMsg(err)
		}
		return nil
	}
}

// waitForEvent blocks for the next event off the channel; Update
// re-schedules it after each message so the program keeps draining.
func (m attachModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		payload, ok := <-m.events
		if !ok {
			return attachClosedMsg{}
		}
		return attachEventMsg(payload)
	}
}

func (m attachModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.detached {
			_, _ = m.client.Call("resize", map[string]any{
				"session": m.sessionID,
				"cols":    msg.Width,
				"rows":    msg.Height - 1,
			})
		}
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		if key == "ctrl+g" {
			m.detached = true
			close(m.stop)
			m.status = "detached"
			return m, tea.Quit
		}
		if !m.detached {
			if seq, ok := specialKeys[key]; ok {
				_, _ = m.client.Call("keystroke", map[string]any{
					"session": m.sessionID,
					"key":     seq,
				})
			} else {
				_, _ = m.client.Call("type", map[string]any{
					"session": m.sessionID,
					"text":    msg.String(),
				})
			}
		}
		return m, nil

	case attachEventMsg:
		switch msg["event"] {
		case "ready":
			m.status = "attached"
		case "output":
			data, _ := msg["data"].(string)
			if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
				m.screen = append(m.screen, raw...)
				if len(m.screen) > 1<<20 {
					m.screen = m.screen[len(m.screen)-1<<20:]
				}
			}
		case "closed":
			m.status = "session closed"
			return m, tea.Quit
		case "heartbeat":
		case "dropped":
			m.status = "output dropped (consumer too slow)"
		}
		return m, m.waitForEvent()

	case attachClosedMsg:
		if m.status == "" || m.status == "connecting…" {
			m.status = "stream ended"
		}
		return m, nil

	case attachErrMsg:
		m.err = msg
		return m, tea.Quit
	}

	return m, nil
}

func (m attachModel) View() string {
	if m.err != nil {
		return styles.Error.Render(fmt.Sprintf("attach error: %v\n", m.err))
	}

	bar := styles.StatusBar.Render(fmt.Sprintf(" session %s — %s — ctrl-g to detach ", m.sessionID, m.status))
	return string(m.screen) + "\n" + bar
}

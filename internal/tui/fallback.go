package tui

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// isTerminal returns true if both stdout and stdin are TTYs.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// terminalSize returns the current terminal width and height.
// Returns 0, 0 if the terminal size cannot be determined.
func terminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0, 0
	}
	return width, height
}

// runSimple streams raw session output straight to stdout for
// non-interactive environments (piped output, CI logs). It exits when the
// daemon closes the stream or on interrupt.
func (v *Viewer) runSimple() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	stop := make(chan struct{})
	go func() {
		<-sigChan
		close(stop)
	}()

	return v.client.Stream("attach_stream", map[string]any{"session": v.sessionID}, stop, func(payload map[string]any) error {
		switch payload["event"] {
		case "output":
			data, _ := payload["data"].(string)
			raw, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil
			}
			_, err = os.Stdout.Write(raw)
			return err
		case "closed":
			fmt.Fprintln(os.Stderr, "session closed")
		}
		return nil
	})
}

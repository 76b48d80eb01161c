package session

import (
	"fmt"
	"strings"

	"github.com/agent-tui/agent-tui/internal/vt"
)

// renderLivePreviewInit builds the byte sequence that, replayed on a
// blank terminal of the snapshot's dimensions, reconstructs the current
// screen: clear screen, cursor home, reset attributes, the rendered
// cells, then the cursor repositioned and shown or hidden to match.
func renderLivePreviewInit(screen vt.ScreenBuffer, cursor vt.CursorPosition) []byte {
	var b strings.Builder

	b.WriteString("\x1b[2J") // clear screen
	b.WriteString("\x1b[H")  // cursor home
	b.WriteString("\x1b[0m") // reset attributes

	for r, row := range screen.Cells {
		line := make([]rune, 0, len(row))
		for _, cell := range row {
			line = append(line, cell.Rune)
		}
		b.WriteString(strings.TrimRight(string(line), " "))
		if r != len(screen.Cells)-1 {
			b.WriteString("\r\n")
		}
	}

	b.WriteString(fmt.Sprintf("\x1b[%d;%dH", cursor.Row+1, cursor.Col+1))
	if cursor.Visible {
		b.WriteString("\x1b[?25h")
	} else {
		b.WriteString("\x1b[?25l")
	}

	return []byte(b.String())
}

package term

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// historyLimit bounds the rendered lines kept for reattach repaint.
const historyLimit = 2000

// screen keeps enough terminal state for a pipe-backed session to repaint a
// reattaching client: a vt emulator for the live grid plus the lines that
// scrolled off the top. Emulator callbacks fire inside emu.Write, which only
// runs under mu.
type screen struct {
	mu           sync.Mutex
	emu          *vt.Emulator
	history      []string // oldest first
	altScreen    bool
	cursorHidden bool
	rows         int
}

func newScreen(cols, rows int) *screen {
	s := &screen{
		emu:  vt.NewEmulator(cols, rows),
		rows: rows,
	}
	s.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if s.altScreen {
				// Full-screen programs churn the grid constantly; none
				// of that is history.
				return
			}
			for _, line := range lines {
				s.history = append(s.history, line.Render())
			}
			if len(s.history) > historyLimit {
				n := copy(s.history, s.history[len(s.history)-historyLimit:])
				s.history = s.history[:n]
			}
		},
		ScrollbackClear: func() {
			s.history = s.history[:0]
		},
		AltScreen: func(on bool) {
			s.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			s.cursorHidden = !visible
		},
	})
	return s
}

func (s *screen) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Write(p)
}

func (s *screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Resize(cols, rows)
	s.rows = rows
}

// Snapshot builds a single ANSI payload that reconstructs the session view
// on a fresh client emulator: history first, scrolled out of the visible
// grid, then the grid itself and the cursor state.
func (s *screen) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	if len(s.history) > 0 {
		b.WriteString(strings.Join(s.history, "\r\n"))
		b.WriteString("\r\n")
		if pad := s.rows - 1; pad > 0 {
			b.WriteString(strings.Repeat("\n", pad))
		}
	}

	b.WriteString("\x1b[0m\x1b[H")
	b.WriteString(s.emu.Render())

	if s.cursorHidden {
		b.WriteString("\x1b[?25l")
	} else {
		b.WriteString("\x1b[?25h")
	}
	pos := s.emu.CursorPosition()
	fmt.Fprintf(&b, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	return []byte(b.String())
}

func (s *screen) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Close()
}

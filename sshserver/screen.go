package sshserver

import (
	"io"
	"strings"
)

type screen struct {
	out io.Writer
}

func newScreen(out io.Writer) *screen {
	return &screen{out: out}
}

func (s *screen) EnterAltScreen() {
	_, _ = io.WriteString(s.out, "\x1b[?1049h\x1b[?25l\x1b[H\x1b[2J")
}

func (s *screen) ExitAltScreen() {
	_, _ = io.WriteString(s.out, "\x1b[?1049l\x1b[?25h")
}

// Render repaints the whole screen. Terminals in raw mode need CRLF line breaks.
func (s *screen) Render(frame string) error {
	var b strings.Builder
	b.WriteString("\x1b[H\x1b[2J")
	b.WriteString(strings.ReplaceAll(frame, "\n", "\r\n"))
	_, err := io.WriteString(s.out, b.String())
	return err
}

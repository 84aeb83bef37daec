package main

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

const prompt = "> "

// palette colours output lines by their leading text.
type palette struct {
	echo  *color.Color
	err   *color.Color
	usage *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		echo:  color.New(color.FgCyan),
		err:   color.New(color.FgRed),
		usage: color.New(color.FgYellow),
	}
	if noColor {
		p.echo.DisableColor()
		p.err.DisableColor()
		p.usage.DisableColor()
	} else {
		p.echo.EnableColor()
		p.err.EnableColor()
		p.usage.EnableColor()
	}
	return p
}

func (p palette) paint(line string) string {
	switch {
	case strings.HasPrefix(line, prompt):
		return p.echo.Sprint(line)
	case strings.HasPrefix(line, "Error"), strings.HasPrefix(line, "Command encountered"), line == "Unrecognized command":
		return p.err.Sprint(line)
	case strings.HasPrefix(line, "Usage: "), strings.HasPrefix(line, "Did you mean"):
		return p.usage.Sprint(line)
	}
	return line
}

// screen is the full-screen console.Sink: a scrollback buffer above a
// single input line. It is only touched by the UI loop.
type screen struct {
	out     io.Writer
	size    func() (width, height int)
	colors  palette
	lines   []string
	max     int
	offset  int // lines scrolled back from the newest
	input   lineEditor
	closed  bool
	visible bool
}

func newScreen(out io.Writer, size func() (int, int), scrollback int, noColor bool) *screen {
	if scrollback <= 0 {
		scrollback = 5000
	}
	return &screen{out: out, size: size, colors: newPalette(noColor), max: scrollback, visible: true}
}

func (s *screen) AppendOutput(line string, scroll bool) {
	for _, l := range strings.Split(strings.TrimRight(line, "\n"), "\n") {
		s.lines = append(s.lines, strings.TrimRight(expandTabs(l), "\r"))
		if !scroll && s.offset > 0 {
			s.offset++
		}
	}
	if scroll {
		s.offset = 0
	}
	if over := len(s.lines) - s.max; over > 0 {
		s.lines = append(s.lines[:0], s.lines[over:]...)
	}
	s.clampOffset()
}

func (s *screen) ReplaceInput(text string) { s.input.set(text) }

func (s *screen) Clear() {
	s.lines = s.lines[:0]
	s.offset = 0
}

// Scroll moves the view by whole pages; negative is back in time.
func (s *screen) Scroll(pages int) {
	s.offset -= pages * s.pageSize()
	s.clampOffset()
}

func (s *screen) Show()  { s.visible = true }
func (s *screen) Close() { s.closed = true }

func (s *screen) pageSize() int {
	_, h := s.size()
	if h <= 2 {
		return 1
	}
	return h - 2
}

func (s *screen) clampOffset() {
	if limit := len(s.lines) - 1; s.offset > limit {
		s.offset = limit
	}
	if s.offset < 0 {
		s.offset = 0
	}
}

// view returns the wrapped rows shown above the input line, oldest first.
func (s *screen) view(width, rows int) []string {
	if rows <= 0 || width <= 0 {
		return nil
	}
	end := len(s.lines) - s.offset
	var out []string
	for i := end - 1; i >= 0 && len(out) < rows; i-- {
		wrapped := wrap(s.lines[i], width)
		for j := len(wrapped) - 1; j >= 0 && len(out) < rows; j-- {
			out = append(out, wrapped[j])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// render redraws the whole screen in one write.
func (s *screen) render() error {
	if !s.visible {
		return nil
	}
	width, height := s.size()
	rows := height - 1
	var buf bytes.Buffer
	buf.WriteString("\x1b[H")
	view := s.view(width, rows)
	for i := 0; i < rows-len(view); i++ {
		buf.WriteString("\x1b[K\r\n")
	}
	for _, row := range view {
		buf.WriteString("\x1b[K")
		buf.WriteString(s.colors.paint(row))
		buf.WriteString("\r\n")
	}

	line, cursor := s.inputView(width)
	buf.WriteString("\x1b[K")
	buf.WriteString(line)
	buf.WriteString("\r")
	if cursor > 0 {
		buf.WriteString("\x1b[")
		buf.WriteString(strconv.Itoa(cursor))
		buf.WriteString("C")
	}
	_, err := s.out.Write(buf.Bytes())
	return err
}

// inputView returns the prompt line, horizontally scrolled to keep the
// cursor visible, and the cursor column.
func (s *screen) inputView(width int) (string, int) {
	text := s.input.buf
	pos := s.input.pos
	avail := width - utf8.RuneCountInString(prompt) - 1
	if avail < 1 {
		avail = 1
	}
	start := 0
	if pos > avail {
		start = pos - avail
	}
	end := start + avail
	if end > len(text) {
		end = len(text)
	}
	line := prompt + string(text[start:end])
	return line, utf8.RuneCountInString(prompt) + pos - start
}

// wrap splits line into rows of at most width runes.
func wrap(line string, width int) []string {
	runes := []rune(line)
	if len(runes) <= width {
		return []string{line}
	}
	var rows []string
	for len(runes) > width {
		rows = append(rows, string(runes[:width]))
		runes = runes[width:]
	}
	return append(rows, string(runes))
}

func expandTabs(line string) string {
	if !strings.Contains(line, "\t") {
		return line
	}
	var sb strings.Builder
	col := 0
	for _, r := range line {
		if r == '\t' {
			n := 8 - col%8
			sb.WriteString(strings.Repeat(" ", n))
			col += n
			continue
		}
		sb.WriteRune(r)
		col++
	}
	return sb.String()
}

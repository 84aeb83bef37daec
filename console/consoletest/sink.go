// Package consoletest provides a recording console.Sink for tests that
// drive a Control from several goroutines.
package consoletest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Paranoid-AF/mcconsole/console"
)

// Sink records every UI call. Calls are written by whichever goroutine
// drains the queue, which in tests is the test goroutine itself.
type Sink struct {
	Calls []string
	Lines []string
	Input string
	seen  int
}

func (s *Sink) AppendOutput(line string, scroll bool) {
	line = strings.TrimSuffix(line, "\n")
	s.Lines = append(s.Lines, line)
	s.Calls = append(s.Calls, "out:"+line)
}

func (s *Sink) ReplaceInput(text string) {
	s.Input = text
	s.Calls = append(s.Calls, "input:"+text)
}

func (s *Sink) Clear()           { s.Calls = append(s.Calls, "clear") }
func (s *Sink) Scroll(pages int) { s.Calls = append(s.Calls, fmt.Sprintf("scroll:%d", pages)) }
func (s *Sink) Show()            { s.Calls = append(s.Calls, "show") }
func (s *Sink) Close()           { s.Calls = append(s.Calls, "close") }

// WaitLine drains q into s until an output line containing substr arrives
// after the last line already matched, and returns it.
func (s *Sink) WaitLine(t testing.TB, q *console.Queue, substr string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		for s.seen < len(s.Lines) {
			line := s.Lines[s.seen]
			s.seen++
			if strings.Contains(line, substr) {
				return line
			}
		}
		select {
		case fn := <-q.C():
			fn(s)
		case <-deadline:
			t.Fatalf("timed out waiting for %q, got %q", substr, s.Lines)
			return ""
		}
	}
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/Paranoid-AF/mcconsole/console"
)

// Terminal is the controlling tty in raw mode. It reads from /dev/tty so it
// works even when stdout is redirected.
type Terminal struct {
	tty       *os.File
	oldState  *term.State
	closeOnce sync.Once
}

// OpenTerminal opens /dev/tty and switches it to raw mode.
func OpenTerminal() (*Terminal, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}
	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	return &Terminal{tty: tty, oldState: old}, nil
}

// Read reads raw key bytes.
func (t *Terminal) Read(p []byte) (int, error) { return t.tty.Read(p) }

// Write writes to the terminal.
func (t *Terminal) Write(p []byte) (int, error) { return t.tty.Write(p) }

// Size returns the terminal width and height, with a fallback of 80x24.
func (t *Terminal) Size() (width, height int) {
	w, h, err := term.GetSize(int(t.tty.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return w, h
}

// Close clears the screen, restores the terminal state and closes the tty,
// which also ends a pending Read.
func (t *Terminal) Close() error {
	var err error
	t.closeOnce.Do(func() {
		fmt.Fprint(t.tty, "\x1b[2J\x1b[H")
		term.Restore(int(t.tty.Fd()), t.oldState)
		err = t.tty.Close()
	})
	return err
}

// keyKind classifies a decoded keystroke.
type keyKind int

const (
	keyIgnore keyKind = iota
	keyRune
	keyEnter
	keyBackspace
	keyDelete
	keyLeft
	keyRight
	keyHome
	keyEnd
	keyUp
	keyDown
	keyPageUp
	keyPageDown
	keyClearLine
	keyInterrupt
	keyEOF
)

type keyEvent struct {
	kind keyKind
	r    rune
}

// consoleKey maps a keystroke to the logical key dispatched as a KEYPRESS
// event, or KeyNone for keys handled by the line editor alone.
func (k keyEvent) consoleKey() console.Key {
	switch k.kind {
	case keyEnter:
		return console.KeyEnter
	case keyUp:
		return console.KeyUp
	case keyDown:
		return console.KeyDown
	case keyPageUp:
		return console.KeyPageUp
	case keyPageDown:
		return console.KeyPageDown
	}
	return console.KeyNone
}

// readKeys decodes keystrokes from r onto keys until r fails.
func readKeys(r io.Reader, keys chan<- keyEvent, done <-chan struct{}) error {
	br := bufio.NewReader(r)
	for {
		k, err := decodeKey(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		if k.kind == keyIgnore {
			continue
		}
		select {
		case keys <- k:
		case <-done:
			return nil
		}
	}
}

// decodeKey reads one keystroke, including escape sequences for the arrow,
// paging, home, end and delete keys.
func decodeKey(br *bufio.Reader) (keyEvent, error) {
	b, err := br.ReadByte()
	if err != nil {
		return keyEvent{}, err
	}
	switch b {
	case 3: // Ctrl-C
		return keyEvent{kind: keyInterrupt}, nil
	case 4: // Ctrl-D
		return keyEvent{kind: keyEOF}, nil
	case 13, 10:
		return keyEvent{kind: keyEnter}, nil
	case 127, 8:
		return keyEvent{kind: keyBackspace}, nil
	case 1: // Ctrl-A
		return keyEvent{kind: keyHome}, nil
	case 5: // Ctrl-E
		return keyEvent{kind: keyEnd}, nil
	case 21: // Ctrl-U
		return keyEvent{kind: keyClearLine}, nil
	case 16: // Ctrl-P
		return keyEvent{kind: keyUp}, nil
	case 14: // Ctrl-N
		return keyEvent{kind: keyDown}, nil
	case 27:
		return decodeEscape(br)
	}
	if b < 32 {
		return keyEvent{kind: keyIgnore}, nil
	}
	if b < utf8.RuneSelf {
		return keyEvent{kind: keyRune, r: rune(b)}, nil
	}

	buf := []byte{b}
	for n := utf8RuneLen(b) - 1; n > 0; n-- {
		c, err := br.ReadByte()
		if err != nil {
			return keyEvent{}, err
		}
		buf = append(buf, c)
	}
	r, _ := utf8.DecodeRune(buf)
	if r == utf8.RuneError {
		return keyEvent{kind: keyIgnore}, nil
	}
	return keyEvent{kind: keyRune, r: r}, nil
}

func decodeEscape(br *bufio.Reader) (keyEvent, error) {
	if br.Buffered() == 0 {
		// A lone escape press.
		return keyEvent{kind: keyIgnore}, nil
	}
	intro, err := br.ReadByte()
	if err != nil {
		return keyEvent{}, err
	}
	if intro != '[' && intro != 'O' {
		return keyEvent{kind: keyIgnore}, nil
	}
	final, err := br.ReadByte()
	if err != nil {
		return keyEvent{}, err
	}
	switch final {
	case 'A':
		return keyEvent{kind: keyUp}, nil
	case 'B':
		return keyEvent{kind: keyDown}, nil
	case 'C':
		return keyEvent{kind: keyRight}, nil
	case 'D':
		return keyEvent{kind: keyLeft}, nil
	case 'H':
		return keyEvent{kind: keyHome}, nil
	case 'F':
		return keyEvent{kind: keyEnd}, nil
	}
	if final < '0' || final > '9' {
		return keyEvent{kind: keyIgnore}, nil
	}
	// \x1b[<n>~ sequences; modifiers such as \x1b[5;2~ are read and dropped.
	num := []byte{final}
	modifier := false
	for {
		c, err := br.ReadByte()
		if err != nil {
			return keyEvent{}, err
		}
		if c == '~' {
			break
		}
		if c == ';' {
			modifier = true
			continue
		}
		if c < '0' || c > '9' {
			return keyEvent{kind: keyIgnore}, nil
		}
		if !modifier {
			num = append(num, c)
		}
	}
	switch string(num) {
	case "1", "7":
		return keyEvent{kind: keyHome}, nil
	case "3":
		return keyEvent{kind: keyDelete}, nil
	case "4", "8":
		return keyEvent{kind: keyEnd}, nil
	case "5":
		return keyEvent{kind: keyPageUp}, nil
	case "6":
		return keyEvent{kind: keyPageDown}, nil
	}
	return keyEvent{kind: keyIgnore}, nil
}

// lineEditor is the input line with a rune cursor.
type lineEditor struct {
	buf []rune
	pos int
}

func (l *lineEditor) String() string { return string(l.buf) }

func (l *lineEditor) set(text string) {
	l.buf = []rune(text)
	l.pos = len(l.buf)
}

// apply edits the line for k and reports whether k was an editing key.
func (l *lineEditor) apply(k keyEvent) bool {
	switch k.kind {
	case keyRune:
		l.buf = append(l.buf, 0)
		copy(l.buf[l.pos+1:], l.buf[l.pos:])
		l.buf[l.pos] = k.r
		l.pos++
	case keyBackspace:
		if l.pos > 0 {
			l.buf = append(l.buf[:l.pos-1], l.buf[l.pos:]...)
			l.pos--
		}
	case keyDelete:
		if l.pos < len(l.buf) {
			l.buf = append(l.buf[:l.pos], l.buf[l.pos+1:]...)
		}
	case keyLeft:
		if l.pos > 0 {
			l.pos--
		}
	case keyRight:
		if l.pos < len(l.buf) {
			l.pos++
		}
	case keyHome:
		l.pos = 0
	case keyEnd:
		l.pos = len(l.buf)
	case keyClearLine:
		l.buf = l.buf[:0]
		l.pos = 0
	default:
		return false
	}
	return true
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	if lead < 0xC0 {
		return 1
	}
	if lead < 0xE0 {
		return 2
	}
	if lead < 0xF0 {
		return 3
	}
	return 4
}

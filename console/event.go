// Package console implements the event-driven command dispatcher: events,
// commands, prefix categories and the Control that routes events through them.
package console

import "fmt"

// Kind identifies the intent an Event carries.
type Kind int

// Event kinds. The set is closed.
const (
	KindPreInput Kind = iota + 1
	KindInput
	KindOutput
	KindQuit
	KindConnect
	KindDisconnect
	KindKeyPress
)

var kindNames = map[Kind]string{
	KindPreInput:   "PREINPUT",
	KindInput:      "INPUT",
	KindOutput:     "OUTPUT",
	KindQuit:       "QUIT",
	KindConnect:    "CONNECT",
	KindDisconnect: "DISCONNECT",
	KindKeyPress:   "KEYPRESS",
}

// Kinds returns every event kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindPreInput, KindInput, KindOutput, KindQuit, KindConnect, KindDisconnect, KindKeyPress}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Key is a logical key code carried by KEYPRESS events.
type Key int

// Logical keys the handlers react to. Anything else is KeyNone.
const (
	KeyNone Key = iota
	KeyEnter
	KeyPageUp
	KeyPageDown
	KeyUp
	KeyDown
)

// Event is a message routed through the Control. Handlers mutate its flags,
// append output and queue cascaded events; the Control consumes it once.
type Event struct {
	kind   Kind
	raw    string
	tokens []string
	key    Key

	// Data carries the kind specific payload, such as the connected client
	// for CONNECT and DISCONNECT events.
	Data any

	// Canceled suppresses UI delivery and cascades.
	Canceled bool
	// Handled marks the event as consumed so the default handler is skipped.
	Handled bool
	// StopPropagation skips the remaining categories.
	StopPropagation bool

	// ScrollOutput moves the output view down to the new lines. When false a
	// scrolled-back view stays where it is.
	ScrollOutput bool
	// SetInput requests the input line be replaced with Input.
	SetInput bool
	Input    string

	// Env is the shared environment, injected by the Control.
	Env Env

	// Expansions lists the aliases already expanded to produce this event.
	Expansions []string

	// OnSuccess runs after delivery when the event was not canceled.
	OnSuccess func()
	// OnComplete always runs, last.
	OnComplete func()

	output  []string
	cascade []*Event
}

func newEvent(kind Kind, raw string) *Event {
	return &Event{kind: kind, raw: raw, tokens: Tokenize(raw)}
}

// NewPreInput returns a PREINPUT event for a submitted line. It echoes the
// line, scrolling the view down to it, clears the input box and cascades an
// INPUT event with the same text.
func NewPreInput(raw string) *Event {
	e := newEvent(KindPreInput, raw)
	e.AddOutput("> " + raw)
	e.ScrollOutput = true
	e.SetInput = true
	e.Input = ""
	e.AddCascade(NewInput(raw))
	return e
}

// NewInput returns an INPUT event resolved by prefix.
func NewInput(raw string) *Event {
	return newEvent(KindInput, raw)
}

// NewOutput returns an OUTPUT event displaying text.
func NewOutput(text string) *Event {
	e := &Event{kind: KindOutput, raw: text}
	if text != "" {
		e.AddOutput(text)
	}
	return e
}

// NewQuit returns a QUIT event.
func NewQuit() *Event {
	return &Event{kind: KindQuit}
}

// NewConnect returns a CONNECT event carrying the connected client.
func NewConnect(client any) *Event {
	return &Event{kind: KindConnect, Data: client}
}

// NewDisconnect returns a DISCONNECT event carrying the client being dropped.
func NewDisconnect(client any) *Event {
	return &Event{kind: KindDisconnect, Data: client}
}

// NewKeyPress returns a KEYPRESS event; raw is the current input line.
func NewKeyPress(raw string, key Key) *Event {
	e := newEvent(KindKeyPress, raw)
	e.key = key
	return e
}

// Kind returns the event kind.
func (e *Event) Kind() Kind { return e.kind }

// Raw returns the text the event was created from.
func (e *Event) Raw() string { return e.raw }

// Key returns the logical key of a KEYPRESS event.
func (e *Event) Key() Key { return e.key }

// Tokens returns a copy of the shell-like split of Raw. It is empty when
// the text could not be split.
func (e *Event) Tokens() []string {
	return append([]string(nil), e.tokens...)
}

// Args returns the tokens after the command name.
func (e *Event) Args() []string {
	if len(e.tokens) < 2 {
		return nil
	}
	return append([]string(nil), e.tokens[1:]...)
}

// AddOutput appends lines to the event's output.
func (e *Event) AddOutput(lines ...string) {
	e.output = append(e.output, lines...)
}

// AddOutputf appends one formatted line.
func (e *Event) AddOutputf(format string, args ...any) {
	e.output = append(e.output, fmt.Sprintf(format, args...))
}

// Output returns a copy of the accumulated output lines.
func (e *Event) Output() []string {
	return append([]string(nil), e.output...)
}

// AddCascade queues sub-events dispatched after this one succeeds.
func (e *Event) AddCascade(events ...*Event) {
	e.cascade = append(e.cascade, events...)
}

// Cascade returns the queued sub-events in order.
func (e *Event) Cascade() []*Event {
	return append([]*Event(nil), e.cascade...)
}

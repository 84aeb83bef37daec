package console

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestInvokeArityShortCircuit(t *testing.T) {
	calls := 0
	cat := NewCategory('#', "System", "")
	err := cat.Add(&Command{
		Name:    "set",
		Params:  []Param{Required("key"), Required("value")},
		Handler: func(e *Event) error { calls++; e.Handled = true; return nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, raw := range []string{"#set", "#set onlykey", "#set a b c"} {
		e := NewInput(raw)
		if err := cat.Invoke(e); err != nil {
			t.Fatal(err)
		}
		if !e.Handled {
			t.Errorf("%q: expected handled", raw)
		}
		if out := e.Output(); len(out) != 1 || out[0] != "Usage: #set key value" {
			t.Errorf("%q: expected usage line, got %q", raw, out)
		}
	}
	if calls != 0 {
		t.Fatalf("expected handler not invoked, got %d calls", calls)
	}

	if err := cat.Invoke(NewInput("#set a b")); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestInvokeOptionalParams(t *testing.T) {
	var got []string
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{
		Name:    "connect",
		Params:  []Param{Optional("host"), Optional("port")},
		Handler: func(e *Event) error { got = e.Args(); return nil },
	})
	for _, raw := range []string{"#connect", "#connect h", "#connect h 1"} {
		e := NewInput(raw)
		cat.Invoke(e)
		if len(e.Output()) != 0 {
			t.Errorf("%q: unexpected output %q", raw, e.Output())
		}
	}
	if !slices.Equal(got, []string{"h", "1"}) {
		t.Errorf("expected last args [h 1], got %q", got)
	}
	e := NewInput("#connect a b c")
	cat.Invoke(e)
	if out := e.Output(); len(out) != 1 || out[0] != "Usage: #connect [host port]" {
		t.Errorf("expected usage, got %q", out)
	}
}

func TestInvokeIgnoresOtherPrefixes(t *testing.T) {
	cat := NewCategory('#', "System", "")
	for _, raw := range []string{"", "/say hi", ":help", `"unterminated`} {
		e := NewInput(raw)
		cat.Invoke(e)
		if e.Handled || len(e.Output()) != 0 {
			t.Errorf("%q: expected untouched event", raw)
		}
	}
}

func TestInvokeUnknownCommandSuggests(t *testing.T) {
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "connect", Handler: func(*Event) error { return nil }})

	e := NewInput("#conect")
	cat.Invoke(e)
	if !e.Handled {
		t.Error("expected handled")
	}
	out := e.Output()
	if len(out) != 2 || out[0] != "Unrecognized command" || out[1] != "Did you mean #connect?" {
		t.Errorf("unexpected output %q", out)
	}

	e = NewInput("#zzzzzzzz")
	cat.Invoke(e)
	if out := e.Output(); len(out) != 1 || out[0] != "Unrecognized command" {
		t.Errorf("expected no suggestion, got %q", out)
	}
}

func TestInvokeHandlerFault(t *testing.T) {
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "boom", Handler: func(*Event) error { return errors.New("kaput") }})
	cat.Add(&Command{Name: "panic", Handler: func(*Event) error { panic("oh no") }})

	e := NewInput("#boom")
	err := cat.Invoke(e)
	if err == nil {
		t.Fatal("expected fault returned")
	}
	if !e.StopPropagation {
		t.Error("expected stop propagation")
	}
	if out := e.Output(); len(out) != 1 || out[0] != "Command encountered unexpected error: kaput" {
		t.Errorf("unexpected output %q", out)
	}

	e = NewInput("#panic")
	if err := cat.Invoke(e); err == nil {
		t.Fatal("expected panic turned into fault")
	}
	if out := e.Output(); len(out) != 1 || !strings.Contains(out[0], "oh no") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestBroadcastIgnoresCancellation(t *testing.T) {
	var order []string
	cat := NewCategory('#', "System", "")
	cat.Add(
		&Command{Name: "first", Events: []Kind{KindOutput}, Handler: func(e *Event) error {
			order = append(order, "first")
			e.Canceled = true
			return nil
		}},
		&Command{Name: "second", Events: []Kind{KindOutput}, Handler: func(e *Event) error {
			order = append(order, "second")
			return nil
		}},
	)
	cat.Invoke(NewOutput("x"))
	if !slices.Equal(order, []string{"first", "second"}) {
		t.Errorf("expected both commands in order, got %q", order)
	}
}

func TestAddOverwritesInPlace(t *testing.T) {
	cat := NewCategory('#', "System", "")
	noop := func(*Event) error { return nil }
	cat.Add(&Command{Name: "a", Handler: noop}, &Command{Name: "b", Handler: noop})
	cat.Add(&Command{Name: "a", Description: "new", Handler: noop})

	var names []string
	for _, cmd := range cat.Commands(KindInput) {
		names = append(names, cmd.Name)
	}
	if !slices.Equal(names, []string{"help", "a", "b"}) {
		t.Errorf("expected [help a b], got %q", names)
	}
	if cmd, _ := cat.Lookup(KindInput, "a"); cmd.Description != "new" {
		t.Error("expected replacement command")
	}
}

func TestAddRejectsInvalidCommands(t *testing.T) {
	cat := NewCategory('#', "System", "")
	noop := func(*Event) error { return nil }
	bad := []*Command{
		{Handler: noop},
		{Name: "nohandler"},
		{Name: "order", Params: []Param{Optional("a"), Required("b")}, Handler: noop},
	}
	for _, cmd := range bad {
		if err := cat.Add(cmd); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("expected ErrInvalidCommand for %+v, got %v", cmd, err)
		}
	}
}

func TestClearAndReplaceKeepHelp(t *testing.T) {
	cat := NewCategory(':', "Remote", "")
	noop := func(*Event) error { return nil }
	cat.Add(&Command{Name: "x", Handler: noop})
	cat.Clear()
	if _, ok := cat.Lookup(KindInput, "x"); ok {
		t.Error("expected x removed")
	}
	if _, ok := cat.Lookup(KindInput, "help"); !ok {
		t.Error("expected help restored after clear")
	}

	if err := cat.Replace(KindInput, []*Command{{Name: "y", Handler: noop}, {Name: "z", Handler: noop}}); err != nil {
		t.Fatal(err)
	}
	if n := len(cat.Commands(KindInput)); n != 3 {
		t.Errorf("expected help plus 2 commands, got %d", n)
	}
}

func TestHelpListing(t *testing.T) {
	cat := NewCategory('#', "System", "")
	noop := func(*Event) error { return nil }
	cat.Add(
		&Command{Name: "quit", Description: "Exit", Handler: noop},
		&Command{Name: "env", Description: "Show env", Handler: noop},
		&Command{Name: "secret", Hidden: true, Handler: noop},
	)
	e := NewInput("#help")
	cat.Invoke(e)
	out := e.Output()
	if len(out) != 4 {
		t.Fatalf("expected header plus 3 visible commands, got %q", out)
	}
	for i, name := range []string{"#env", "#help", "#quit"} {
		if !strings.HasPrefix(strings.TrimSpace(out[i+1]), name) {
			t.Errorf("line %d: expected %s first, got %q", i+1, name, out[i+1])
		}
	}
	if strings.Contains(strings.Join(out, "\n"), "secret") {
		t.Error("expected hidden command omitted")
	}
}

func TestHelpDetail(t *testing.T) {
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{
		Name:        "connect",
		Description: "Connect to a server",
		Detail:      "Line one\nLine two",
		Params:      []Param{Optional("host"), Optional("port")},
		Env: []EnvUsage{
			{Name: "remote_port", Usage: "default port"},
			{Name: "remote_host", Usage: "default host"},
		},
		Handler: func(*Event) error { return nil },
	})
	e := NewInput("#help connect")
	cat.Invoke(e)
	want := []string{
		"Usage: #connect [host port]",
		"Connect to a server",
		"Line one",
		"Line two",
		"Environment:",
		"  remote_host: default host",
		"  remote_port: default port",
	}
	if !slices.Equal(e.Output(), want) {
		t.Errorf("expected %q, got %q", want, e.Output())
	}

	e = NewInput("#help #connect")
	cat.Invoke(e)
	if out := e.Output(); len(out) == 0 || out[0] != "Usage: #connect [host port]" {
		t.Errorf("expected prefixed name accepted, got %q", out)
	}

	e = NewInput("#help nope")
	cat.Invoke(e)
	if out := e.Output(); len(out) != 1 || out[0] != "Unrecognized command" {
		t.Errorf("expected unrecognized, got %q", out)
	}
}

func TestInvokeFallbackTakesUnknownNames(t *testing.T) {
	var got []string
	cat := NewCategory('/', "Chat", "")
	if err := cat.SetFallback(&Command{Name: "command", Description: "Run on the server", Handler: func(e *Event) error {
		got = append(got, e.Raw())
		e.Handled = true
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	for _, raw := range []string{"/list", "/say it's late", "/"} {
		e := NewInput(raw)
		if err := cat.Invoke(e); err != nil {
			t.Fatal(err)
		}
		if len(e.Output()) != 0 {
			t.Errorf("%q: expected no Unrecognized line, got %q", raw, e.Output())
		}
	}
	if !slices.Equal(got, []string{"/list", "/say it's late", "/"}) {
		t.Errorf("expected every line at the fallback, got %q", got)
	}

	help := NewInput("/help")
	cat.Invoke(help)
	if !slices.Contains(help.Output(), "  /<command>      Run on the server") {
		t.Errorf("expected fallback in help, got %q", help.Output())
	}

	if err := cat.SetFallback(&Command{Name: "broken"}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand, got %v", err)
	}
	cat.SetFallback(nil)
	e := NewInput("/list")
	cat.Invoke(e)
	if out := e.Output(); len(out) == 0 || out[0] != "Unrecognized command" {
		t.Errorf("expected Unrecognized command without a fallback, got %q", out)
	}
}

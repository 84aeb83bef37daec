package console

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"pkt.systems/pslog"
)

// recordSink records every UI call as a short string.
type recordSink struct {
	calls   []string
	scrolls []bool
}

func (r *recordSink) AppendOutput(line string, scroll bool) {
	r.calls = append(r.calls, fmt.Sprintf("out:%s", strings.TrimSuffix(line, "\n")))
	r.scrolls = append(r.scrolls, scroll)
}
func (r *recordSink) ReplaceInput(text string) { r.calls = append(r.calls, "input:"+text) }
func (r *recordSink) Clear()                   { r.calls = append(r.calls, "clear") }
func (r *recordSink) Scroll(pages int)         { r.calls = append(r.calls, fmt.Sprintf("scroll:%d", pages)) }
func (r *recordSink) Show()                    { r.calls = append(r.calls, "show") }
func (r *recordSink) Close()                   { r.calls = append(r.calls, "close") }

func newTestControl(t *testing.T) (*Control, *recordSink) {
	t.Helper()
	var logs bytes.Buffer
	logger := pslog.NewWithOptions(&logs, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	return New(NewQueue(64), WithLogger(logger)), &recordSink{}
}

func recorder(name string, order *[]string) *Command {
	return &Command{
		Name:   name,
		Events: []Kind{KindOutput},
		Handler: func(e *Event) error {
			*order = append(*order, name)
			return nil
		},
	}
}

func TestTriggerCategoryOrder(t *testing.T) {
	ctrl, _ := newTestControl(t)
	var order []string
	for _, p := range []byte("ABC") {
		cat := NewCategory(p, string(p), "")
		cat.Add(recorder(string(p), &order))
		ctrl.Register(cat)
	}
	ctrl.Trigger(NewOutput("x"))
	if !slices.Equal(order, []string{"A", "B", "C"}) {
		t.Errorf("expected [A B C], got %q", order)
	}
}

func TestTriggerInputResolvesToPrefixedCategory(t *testing.T) {
	ctrl, _ := newTestControl(t)
	calls := make(map[string]int)
	for _, p := range []byte("ABC") {
		cat := NewCategory(p, string(p), "")
		name := string(p)
		cat.Add(&Command{Name: "run", Handler: func(e *Event) error {
			calls[name]++
			e.Handled = true
			return nil
		}})
		ctrl.Register(cat)
	}

	ctrl.Trigger(NewInput("Brun"))
	if calls["B"] != 1 {
		t.Errorf("expected B's command once, got %d", calls["B"])
	}
	if calls["A"] != 0 || calls["C"] != 0 {
		t.Errorf("expected A and C untouched, got A=%d C=%d", calls["A"], calls["C"])
	}
}

func TestTriggerStopPropagation(t *testing.T) {
	ctrl, _ := newTestControl(t)
	var order []string
	a := NewCategory('a', "a", "")
	a.Add(recorder("a", &order))
	b := NewCategory('b', "b", "")
	b.Add(&Command{Name: "b", Events: []Kind{KindOutput}, Handler: func(e *Event) error {
		order = append(order, "b")
		e.StopPropagation = true
		return nil
	}})
	c := NewCategory('c', "c", "")
	c.Add(recorder("c", &order))
	ctrl.Register(a)
	ctrl.Register(b)
	ctrl.Register(c)

	ctrl.Trigger(NewOutput("x"))
	if !slices.Equal(order, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %q", order)
	}
}

func TestTriggerFaultSkipsLaterCategories(t *testing.T) {
	ctrl, sink := newTestControl(t)
	var order []string
	a := NewCategory('a', "a", "")
	a.Add(&Command{Name: "bad", Events: []Kind{KindOutput}, Handler: func(*Event) error {
		return errors.New("broken")
	}})
	b := NewCategory('b', "b", "")
	b.Add(recorder("b", &order))
	ctrl.Register(a)
	ctrl.Register(b)

	ctrl.Trigger(NewOutput("x"))
	if len(order) != 0 {
		t.Errorf("expected later category skipped, got %q", order)
	}
	ctrl.Queue().Drain(sink)
	want := []string{"out:x", "out:Command encountered unexpected error: broken"}
	if !slices.Equal(sink.calls, want) {
		t.Errorf("expected %q, got %q", want, sink.calls)
	}
}

func TestTriggerCascadeDepthFirst(t *testing.T) {
	ctrl, sink := newTestControl(t)
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "nest", Events: []Kind{KindOutput}, Handler: func(e *Event) error {
		if e.Raw() == "B" {
			e.AddCascade(NewOutput("D"))
		}
		return nil
	}})
	ctrl.Register(cat)

	root := NewOutput("A")
	root.AddCascade(NewOutput("B"), NewOutput("C"))
	ctrl.Trigger(root)
	ctrl.Queue().Drain(sink)

	want := []string{"out:A", "out:B", "out:D", "out:C"}
	if !slices.Equal(sink.calls, want) {
		t.Errorf("expected %q, got %q", want, sink.calls)
	}
}

func TestTriggerPreInputInputConnectDepthFirst(t *testing.T) {
	ctrl, sink := newTestControl(t)
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "go", Handler: func(e *Event) error {
		e.AddOutput("input")
		e.AddCascade(NewConnect("client"))
		e.Handled = true
		return nil
	}})
	cat.Add(&Command{Name: "connected", Events: []Kind{KindConnect}, Handler: func(e *Event) error {
		e.AddOutput("connect")
		return nil
	}})
	ctrl.Register(cat)

	root := NewPreInput("#go")
	root.AddCascade(NewOutput("sibling"))
	ctrl.Trigger(root)
	ctrl.Queue().Drain(sink)

	want := []string{"out:> #go", "input:", "out:input", "out:connect", "out:sibling"}
	if !slices.Equal(sink.calls, want) {
		t.Errorf("expected %q, got %q", want, sink.calls)
	}
}

func TestTriggerScrollsOnlyWhenRequested(t *testing.T) {
	ctrl, sink := newTestControl(t)
	ctrl.Trigger(NewOutput("streamed"))
	ctrl.Trigger(NewPreInput("typed"))
	e := NewOutput("")
	e.AddOutput("one", "two")
	e.ScrollOutput = true
	ctrl.Trigger(e)
	ctrl.Queue().Drain(sink)

	want := []bool{false, true, false, true}
	if !slices.Equal(sink.scrolls, want) {
		t.Errorf("expected scroll flags %v, got %v for %q", want, sink.scrolls, sink.calls)
	}
}

func TestTriggerCanceledDeliversNothing(t *testing.T) {
	ctrl, sink := newTestControl(t)
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "cancel", Events: []Kind{KindPreInput}, Handler: func(e *Event) error {
		e.Canceled = true
		return nil
	}})
	ctrl.Register(cat)

	successes, completes := 0, 0
	e := NewPreInput("anything")
	e.OnSuccess = func() { successes++ }
	e.OnComplete = func() { completes++ }
	ctrl.Trigger(e)

	if n := ctrl.Queue().Drain(sink); n != 0 {
		t.Errorf("expected zero UI calls, got %d: %q", n, sink.calls)
	}
	if successes != 0 {
		t.Errorf("expected on_success not called, got %d", successes)
	}
	if completes != 1 {
		t.Errorf("expected on_complete once, got %d", completes)
	}
}

func TestTriggerCallbackOrder(t *testing.T) {
	ctrl, _ := newTestControl(t)
	var order []string
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "seen", Events: []Kind{KindOutput}, Handler: func(e *Event) error {
		order = append(order, "handler:"+e.Raw())
		return nil
	}})
	ctrl.Register(cat)

	e := NewOutput("parent")
	e.AddCascade(NewOutput("child"))
	e.OnSuccess = func() { order = append(order, "success") }
	e.OnComplete = func() { order = append(order, "complete") }
	ctrl.Trigger(e)

	want := []string{"handler:parent", "success", "handler:child", "complete"}
	if !slices.Equal(order, want) {
		t.Errorf("expected %q, got %q", want, order)
	}
}

func TestTriggerDefaultHandler(t *testing.T) {
	ctrl, sink := newTestControl(t)
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "ping", Handler: func(e *Event) error {
		e.Handled = true
		e.AddOutput("pong")
		return nil
	}})
	ctrl.Register(cat)

	var got []string
	ctrl.SetDefaultHandler(func(e *Event) error {
		if e.Kind() == KindInput {
			got = append(got, e.Raw())
			e.Handled = true
		}
		return nil
	})

	ctrl.Trigger(NewPreInput("#ping"))
	ctrl.Trigger(NewPreInput("say hello"))
	if !slices.Equal(got, []string{"say hello"}) {
		t.Errorf("expected only unhandled input, got %q", got)
	}

	ctrl.SetDefaultHandler(nil)
	ctrl.Trigger(NewInput("say again"))
	if len(got) != 1 {
		t.Errorf("expected default handler removed, got %q", got)
	}

	ctrl.Queue().Drain(sink)
	want := []string{"out:> #ping", "input:", "out:pong", "out:> say hello", "input:"}
	if !slices.Equal(sink.calls, want) {
		t.Errorf("expected %q, got %q", want, sink.calls)
	}
}

func TestTriggerDefaultHandlerFault(t *testing.T) {
	ctrl, sink := newTestControl(t)
	ctrl.SetDefaultHandler(func(*Event) error { panic("bad default") })
	ctrl.Trigger(NewInput("x"))
	ctrl.Queue().Drain(sink)
	if len(sink.calls) != 1 || !strings.Contains(sink.calls[0], "bad default") {
		t.Errorf("expected fault line, got %q", sink.calls)
	}
}

func TestTriggerInjectsEnv(t *testing.T) {
	ctrl, _ := newTestControl(t)
	ctrl.Env().Set("remote_host", "mc.local")
	var seen string
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "host", Handler: func(e *Event) error {
		seen, _ = e.Env.Get("remote_host")
		return nil
	}})
	ctrl.Register(cat)
	ctrl.Trigger(NewInput("#host"))
	if seen != "mc.local" {
		t.Errorf("expected env injected, got %q", seen)
	}
}

func TestTriggerConcurrent(t *testing.T) {
	ctrl, _ := newTestControl(t)
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "count", Events: []Kind{KindOutput}, Handler: func(e *Event) error {
		ds := ctrl.Datastore("#")
		var n int
		return ds.Update("n", &n, func(bool) error { n++; return nil })
	}})
	ctrl.Register(cat)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				ctrl.Trigger(NewOutput(""))
			}
		}()
	}
	wg.Wait()

	var n int
	if _, err := ctrl.Datastore("#").Get("n", &n); err != nil {
		t.Fatal(err)
	}
	if n != 200 {
		t.Errorf("expected 200, got %d", n)
	}
}

func TestRegisterReplacesAndUnregister(t *testing.T) {
	ctrl, _ := newTestControl(t)
	first := NewCategory('#', "first", "")
	second := NewCategory('#', "second", "")
	ctrl.Register(first)
	ctrl.Register(second)
	cats := ctrl.Categories()
	if len(cats) != 1 || cats[0] != second {
		t.Fatalf("expected second to replace first, got %d categories", len(cats))
	}
	if _, err := ctrl.Unregister(':'); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
	cat, err := ctrl.Unregister('#')
	if err != nil || cat != second {
		t.Errorf("expected second unregistered, got %v %v", cat, err)
	}
	if len(ctrl.Categories()) != 0 {
		t.Error("expected no categories left")
	}
}

func TestQuit(t *testing.T) {
	ctrl, sink := newTestControl(t)
	veto := true
	cat := NewCategory('#', "System", "")
	cat.Add(&Command{Name: "veto", Events: []Kind{KindQuit}, Handler: func(e *Event) error {
		e.Canceled = veto
		return nil
	}})
	ctrl.Register(cat)

	if ctrl.CloseRequested() {
		t.Fatal("expected vetoed quit")
	}
	if ctrl.Quitting() {
		t.Fatal("expected not quitting")
	}
	veto = false
	if !ctrl.Quit() {
		t.Fatal("expected quit")
	}
	if !ctrl.Quitting() || !ctrl.CloseRequested() {
		t.Error("expected quitting")
	}
	ctrl.Queue().Drain(sink)
	if !slices.Equal(sink.calls, []string{"close"}) {
		t.Errorf("expected single close, got %q", sink.calls)
	}
}

func TestExportImportStores(t *testing.T) {
	ctrl, _ := newTestControl(t)
	ctrl.Register(NewCategory('#', "System", ""))
	ctrl.Datastore("#").Put("aliases", map[string]string{"greet": "/hello world"})
	ctrl.Env().Set("remote_port", "25565")

	snap := ctrl.ExportStores()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}

	other, _ := newTestControl(t)
	var restored map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatal(err)
	}
	other.ImportStores(restored)

	var aliases map[string]string
	if ok, err := other.Datastore("#").Get("aliases", &aliases); !ok || err != nil {
		t.Fatalf("expected aliases restored, got ok=%v err=%v", ok, err)
	}
	if aliases["greet"] != "/hello world" {
		t.Errorf("unexpected aliases %v", aliases)
	}
	if port, _ := other.Env().Get("remote_port"); port != "25565" {
		t.Errorf("expected env restored, got %q", port)
	}
}

func TestUIRequests(t *testing.T) {
	ctrl, sink := newTestControl(t)
	ctrl.Show()
	ctrl.ScrollUp()
	ctrl.ScrollDown()
	ctrl.Clear()
	ctrl.Print("a", "b")
	ctrl.Queue().Drain(sink)
	want := []string{"show", "scroll:-1", "scroll:1", "clear", "out:a", "out:b"}
	if !slices.Equal(sink.calls, want) {
		t.Errorf("expected %q, got %q", want, sink.calls)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	noop := func(Sink) {}
	if !q.Post(noop) || !q.Post(noop) {
		t.Fatal("expected first two posts accepted")
	}
	if q.Post(noop) {
		t.Error("expected third post dropped")
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", q.Dropped())
	}
	if n := q.Drain(&recordSink{}); n != 2 {
		t.Errorf("expected 2 drained, got %d", n)
	}
}

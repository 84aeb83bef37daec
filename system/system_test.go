package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	mcconsole "github.com/Paranoid-AF/mcconsole"
	"github.com/Paranoid-AF/mcconsole/console"
	"github.com/Paranoid-AF/mcconsole/console/consoletest"
	"github.com/Paranoid-AF/mcconsole/remote"
	"github.com/Paranoid-AF/mcconsole/store"
)

type fakeClient struct {
	cfg mcconsole.RemoteConfig
}

func (c *fakeClient) Config() mcconsole.RemoteConfig { return c.cfg }
func (c *fakeClient) Call(context.Context, string, ...any) (json.RawMessage, error) {
	return json.RawMessage("null"), nil
}
func (c *fakeClient) ListMethods(context.Context) ([]mcconsole.MethodInfo, error) { return nil, nil }
func (c *fakeClient) Subscribe(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("no streams")
}
func (c *fakeClient) Close() error { return nil }

// fakeSession follows CONNECT and DISCONNECT events the way the remote
// category does.
type fakeSession struct {
	mu      sync.Mutex
	client  remote.Client
	events  []string
	sources []string
}

func (s *fakeSession) Client() remote.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *fakeSession) Subscribe(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return remote.ErrNotConnected
	}
	s.sources = append(s.sources, source)
	return nil
}

func (s *fakeSession) Unsubscribe(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.sources, source)
	if i < 0 {
		return false
	}
	s.sources = slices.Delete(s.sources, i, i+1)
	return true
}

func (s *fakeSession) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sources)
}

func (s *fakeSession) category() *console.Category {
	cat := console.NewCategory('R', "Fake remote", "")
	record := func(kind string) console.Handler {
		return func(e *console.Event) error {
			client := e.Data.(remote.Client)
			s.mu.Lock()
			defer s.mu.Unlock()
			s.events = append(s.events, fmt.Sprintf("%s %s", kind, client.Config().Host))
			if kind == "connect" {
				s.client = client
			} else if s.client == client {
				s.client = nil
			}
			return nil
		}
	}
	cat.Add(
		&console.Command{Name: "connect", Events: []console.Kind{console.KindConnect}, Handler: record("connect")},
		&console.Command{Name: "disconnect", Events: []console.Kind{console.KindDisconnect}, Handler: record("disconnect")},
	)
	return cat
}

type fixture struct {
	ctrl    *console.Control
	sys     *System
	sink    *consoletest.Sink
	session *fakeSession
	store   *store.Store

	mu    sync.Mutex
	raws  []string
	dials []mcconsole.RemoteConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(afero.NewMemMapFs(), "/state/state.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{sink: &consoletest.Sink{}, session: &fakeSession{}, store: st}
	f.ctrl = console.New(console.NewQueue(1024))
	f.sys = New(f.ctrl, Options{
		Session: f.session,
		Store:   st,
		Dial: func(_ context.Context, cfg mcconsole.RemoteConfig) (remote.Client, error) {
			f.mu.Lock()
			f.dials = append(f.dials, cfg)
			f.mu.Unlock()
			if cfg.Host == "unreachable" {
				return nil, errors.New("connection refused")
			}
			return &fakeClient{cfg: cfg}, nil
		},
	})
	f.ctrl.Register(f.session.category())
	f.ctrl.SetDefaultHandler(func(e *console.Event) error {
		if e.Kind() != console.KindInput {
			return nil
		}
		f.mu.Lock()
		f.raws = append(f.raws, e.Raw())
		f.mu.Unlock()
		e.Handled = true
		return nil
	})
	return f
}

func (f *fixture) enter(line string) {
	f.ctrl.Trigger(console.NewKeyPress(line, console.KeyEnter))
}

func (f *fixture) drain() []string {
	f.ctrl.Queue().Drain(f.sink)
	return f.sink.Lines
}

func (f *fixture) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.raws)
}

func hasLine(lines []string, want string) bool {
	return slices.Contains(lines, want)
}

func TestEnterRecordsHistory(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 105; i++ {
		f.enter(fmt.Sprintf("cmd%d", i))
	}
	h := f.sys.History()
	if h.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", h.Len())
	}
	if h.Pos() != 100 {
		t.Errorf("expected cursor on the new empty slot, got %d", h.Pos())
	}
	if got := f.dispatched(); len(got) != 105 || got[104] != "cmd105" {
		t.Errorf("expected every line dispatched, got %d", len(got))
	}
	lines := f.drain()
	if !hasLine(lines, "> cmd1") || f.sink.Input != "" {
		t.Errorf("expected echo and cleared input, got %d lines / %q", len(lines), f.sink.Input)
	}
}

func TestArrowKeysRecallHistory(t *testing.T) {
	f := newFixture(t)
	f.enter("say one")
	f.enter("say two")

	up := console.NewKeyPress("draft", console.KeyUp)
	f.ctrl.Trigger(up)
	if !up.SetInput || up.Input != "say two" {
		t.Fatalf("expected say two, got %v %q", up.SetInput, up.Input)
	}
	down := console.NewKeyPress("say two", console.KeyDown)
	f.ctrl.Trigger(down)
	if down.Input != "draft" {
		t.Errorf("expected draft restored, got %q", down.Input)
	}
	again := console.NewKeyPress("draft", console.KeyDown)
	f.ctrl.Trigger(again)
	if again.SetInput {
		t.Error("expected no input change at the newest slot")
	}
}

func TestPageKeysScroll(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Trigger(console.NewKeyPress("", console.KeyPageUp))
	f.ctrl.Trigger(console.NewKeyPress("", console.KeyPageDown))
	f.drain()
	if !slices.Equal(f.sink.Calls, []string{"scroll:-1", "scroll:1"}) {
		t.Errorf("expected one scroll each way, got %q", f.sink.Calls)
	}
}

func TestAliasRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.enter("#alias greet")
	f.enter("/hello world")
	if got := f.dispatched(); len(got) != 0 {
		t.Fatalf("expected recorded line not dispatched, got %q", got)
	}
	lines := f.drain()
	if !hasLine(lines, "Recording alias 'greet'. Enter command to alias now.") {
		t.Errorf("expected recording notice, got %q", lines)
	}
	if !hasLine(lines, "Saved alias: 'greet' => '/hello world'") {
		t.Errorf("expected saved notice, got %q", lines)
	}
	if hasLine(lines, "> /hello world") {
		t.Error("expected recorded line not echoed")
	}

	f.enter("greet")
	if got := f.dispatched(); !slices.Equal(got, []string{"/hello world"}) {
		t.Fatalf("expected exactly one dispatch of /hello world, got %q", got)
	}
	if !hasLine(f.drain(), "> /hello world") {
		t.Error("expected expanded line echoed")
	}

	f.enter("greet 'big crowd'")
	if got := f.dispatched(); len(got) != 2 || got[1] != "/hello world 'big crowd'" {
		t.Errorf("expected arguments appended, got %q", got)
	}
}

func TestAliasCycleRejected(t *testing.T) {
	f := newFixture(t)
	f.enter("#alias a")
	f.enter("b")
	f.enter("#alias b")
	f.enter("a")

	f.enter("a")
	if got := f.dispatched(); len(got) != 0 {
		t.Errorf("expected nothing dispatched, got %q", got)
	}
	if !hasLine(f.drain(), "Error: alias cycle detected: a -> b -> a") {
		t.Errorf("expected cycle error, got %q", f.sink.Lines)
	}
	if _, err := expansionChain([]string{"a", "b"}, "a"); !errors.Is(err, ErrAliasCycle) {
		t.Errorf("expected ErrAliasCycle, got %v", err)
	}
}

func TestAliasValidation(t *testing.T) {
	f := newFixture(t)
	f.enter("#alias #quit")
	f.enter(`#alias "two words"`)
	lines := f.drain()
	if !hasLine(lines, "Cannot alias protected command: #quit") {
		t.Errorf("expected protected error, got %q", lines)
	}
	if !hasLine(lines, "Alias name cannot contain whitespace") {
		t.Errorf("expected whitespace error, got %q", lines)
	}
	f.enter("#quit")
	if !f.ctrl.Quitting() {
		t.Error("expected #quit to run rather than be recorded")
	}
}

func TestUnaliasAndList(t *testing.T) {
	f := newFixture(t)
	f.enter("#aliases")
	f.enter("#alias w")
	f.enter("weather clear")
	f.enter("#aliases")
	f.enter("#unalias w")
	f.enter("#unalias w")
	lines := f.drain()
	for _, want := range []string{"No aliases defined", "\tw =>\tweather clear", "Removed alias 'w'", "No alias named 'w'"} {
		if !hasLine(lines, want) {
			t.Errorf("expected %q in %q", want, lines)
		}
	}
}

func TestEnvCommands(t *testing.T) {
	f := newFixture(t)
	f.enter("#env")
	f.enter("#set motd 'hello world'")
	f.enter("#env")
	f.enter("#unset motd")
	f.enter("#unset motd")
	f.enter("#set onlykey")
	lines := f.drain()
	if !hasLine(lines, "Nobody here but us chickens!") {
		t.Errorf("expected empty environment notice, got %q", lines)
	}
	if !slices.ContainsFunc(lines, func(l string) bool {
		return strings.HasPrefix(l, "\tmotd =>\t") && strings.Contains(l, "hello world")
	}) {
		t.Errorf("expected motd listed, got %q", lines)
	}
	if !hasLine(lines, "motd is not set") {
		t.Errorf("expected second unset to report, got %q", lines)
	}
	if !hasLine(lines, "Usage: #set key value") {
		t.Errorf("expected usage error, got %q", lines)
	}
}

func TestConnectValidation(t *testing.T) {
	f := newFixture(t)
	f.enter("#connect localhost 70000")
	f.enter("#connect localhost http")
	f.sys.Wait()
	lines := f.drain()
	if !hasLine(lines, "Error: port must be between 0 and 65535") {
		t.Errorf("expected range error, got %q", lines)
	}
	if !slices.ContainsFunc(lines, func(l string) bool { return strings.HasPrefix(l, "Error: port - ") }) {
		t.Errorf("expected parse error, got %q", lines)
	}
	if len(f.dials) != 0 {
		t.Errorf("expected no dial, got %d", len(f.dials))
	}
}

func TestConnectDefaultsAndSwap(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Env().Set(EnvHost, "mc.example.org")
	f.ctrl.Env().Set(EnvPassword, "hunter2")
	f.enter("#connect")
	f.sys.Wait()
	f.enter("#connect second.example.org 25575 ops")
	f.sys.Wait()

	if len(f.dials) != 2 {
		t.Fatalf("expected two dials, got %d", len(f.dials))
	}
	first := f.dials[0]
	if first.Host != "mc.example.org" || first.Port != 20059 || first.Password != "hunter2" || first.Username != "admin" {
		t.Errorf("unexpected defaults %+v", first)
	}
	second := f.dials[1]
	if second.Host != "second.example.org" || second.Port != 25575 || second.Username != "ops" || second.Password != "hunter2" {
		t.Errorf("unexpected explicit args %+v", second)
	}
	want := []string{"connect mc.example.org", "disconnect mc.example.org", "connect second.example.org"}
	if !slices.Equal(f.session.events, want) {
		t.Errorf("expected %q, got %q", want, f.session.events)
	}

	f.enter("#disconnect")
	f.enter("#disconnect")
	if f.session.Client() != nil {
		t.Error("expected disconnected")
	}
	if !hasLine(f.drain(), "Not connected") {
		t.Errorf("expected not connected notice, got %q", f.sink.Lines)
	}
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.enter("#connect unreachable")
	f.sys.Wait()
	lines := f.drain()
	if !hasLine(lines, "Error: Connect failed") || !hasLine(lines, "connection refused") {
		t.Errorf("expected failure lines, got %q", lines)
	}
	if f.session.Client() != nil {
		t.Error("expected no client")
	}
}

func TestSubscribeCommands(t *testing.T) {
	f := newFixture(t)
	f.enter("#subscribe")
	f.enter("#connect")
	f.sys.Wait()
	f.enter("#subscribe chat")
	f.sys.Wait()
	f.enter("#unsubscribe")
	f.enter("#unsubscribe")
	lines := f.drain()
	for _, want := range []string{"Not connected", "Subscribed to chat", "Unsubscribed from chat", "No active subscriptions"} {
		if !hasLine(lines, want) {
			t.Errorf("expected %q in %q", want, lines)
		}
	}
}

func TestSaveLoadAndQuit(t *testing.T) {
	f := newFixture(t)
	f.enter("#set remote_host mc.example.org")
	f.enter("#alias hi")
	f.enter("say hi")
	f.enter("#save")
	if !hasLine(f.drain(), "Data stores saved") {
		t.Fatalf("expected save notice, got %q", f.sink.Lines)
	}

	g := newFixture(t)
	g.sys.store = f.store
	g.enter("#load")
	if !hasLine(g.drain(), "Data stores restored") {
		t.Fatalf("expected restore notice, got %q", g.sink.Lines)
	}
	if v, _ := g.ctrl.Env().Get(EnvHost); v != "mc.example.org" {
		t.Errorf("expected env restored, got %q", v)
	}
	if got := g.sys.History().Entries(); len(got) != 4 || got[0] != "#set remote_host mc.example.org" {
		t.Errorf("expected history restored, got %q", got)
	}
	g.enter("hi")
	if got := g.dispatched(); !slices.Equal(got, []string{"say hi"}) {
		t.Errorf("expected alias restored, got %q", got)
	}

	g.enter("#forget")
	g.enter("#quit")
	if !g.ctrl.Quitting() {
		t.Fatal("expected quitting")
	}
	snap, ok, err := f.store.Load()
	if err != nil || !ok {
		t.Fatalf("expected saved snapshot, got %v %v", ok, err)
	}
	if !slices.Equal(snap.History, []string{"#quit"}) {
		t.Errorf("expected history saved on quit, got %q", snap.History)
	}
}

func TestLoadWithoutState(t *testing.T) {
	f := newFixture(t)
	f.enter("#load")
	if !hasLine(f.drain(), "No saved state") {
		t.Errorf("expected no state notice, got %q", f.sink.Lines)
	}
	ok, err := f.sys.Restore()
	if ok || err != nil {
		t.Errorf("expected nothing restored, got %v %v", ok, err)
	}
}

func TestHelpListsVisibleCommands(t *testing.T) {
	f := newFixture(t)
	f.enter("#help")
	f.enter("#help connect")
	lines := f.drain()
	if !hasLine(lines, "System commands (#):") {
		t.Fatalf("expected help header, got %q", lines)
	}
	if slices.ContainsFunc(lines, func(l string) bool { return strings.Contains(l, "alias-recorder") || strings.Contains(l, "submit") }) {
		t.Errorf("expected hidden commands omitted, got %q", lines)
	}
	if !hasLine(lines, "Usage: #connect [host port username password salt]") {
		t.Errorf("expected connect usage, got %q", lines)
	}
	if !hasLine(lines, "  remote_host: default host") {
		t.Errorf("expected environment notes, got %q", lines)
	}
}

func TestShortcutsRunTheirCommands(t *testing.T) {
	f := newFixture(t)
	f.enter("#c mc.local 25575")
	f.sys.Wait()
	f.mu.Lock()
	dials := slices.Clone(f.dials)
	f.mu.Unlock()
	if len(dials) != 1 || dials[0].Host != "mc.local" || dials[0].Port != 25575 {
		t.Fatalf("expected one dial to mc.local:25575, got %+v", dials)
	}

	f.enter("#clr")
	f.enter("#h")
	f.drain()
	if !slices.Contains(f.sink.Calls, "clear") {
		t.Errorf("expected #clr to clear, got %q", f.sink.Calls)
	}
	lines := f.sink.Lines
	if !hasLine(lines, "System commands (#):") {
		t.Fatalf("expected #h to list commands, got %q", lines)
	}
	if slices.ContainsFunc(lines, func(l string) bool { return strings.HasPrefix(l, "  #clr ") || strings.HasPrefix(l, "  #con ") }) {
		t.Errorf("expected shortcuts left out of help, got %q", lines)
	}

	cmd, ok := f.sys.Category().Lookup(console.KindInput, "sub")
	if !ok || cmd.Usage(Prefix) != "#sub [source]" {
		t.Errorf("expected #sub to take subscribe's parameters, got %v", cmd)
	}
}

func TestQuitShortcutIsProtected(t *testing.T) {
	f := newFixture(t)
	f.enter("#alias #q")
	if !hasLine(f.drain(), "Cannot alias protected command: #q") {
		t.Errorf("expected protected error, got %q", f.sink.Lines)
	}
}

func TestEnvUsageListsReaders(t *testing.T) {
	f := newFixture(t)
	f.enter("#envusage")
	lines := f.drain()
	if !hasLine(lines, "The following environment variables are being used:") {
		t.Fatalf("expected usage header, got %q", lines)
	}
	if !hasLine(lines, "  remote_host: #connect") {
		t.Errorf("expected remote_host read by #connect only, got %q", lines)
	}
	if !slices.ContainsFunc(lines, func(l string) bool { return strings.HasPrefix(l, "  remote_source: ") && strings.Contains(l, "#subscribe") }) {
		t.Errorf("expected remote_source read by #subscribe, got %q", lines)
	}
}

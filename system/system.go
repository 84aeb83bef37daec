// Package system provides the '#' category: local commands for the
// environment, history, aliases, connections and saved state, plus the key
// bindings that turn keystrokes into input.
package system

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"pkt.systems/pslog"

	mcconsole "github.com/Paranoid-AF/mcconsole"
	"github.com/Paranoid-AF/mcconsole/console"
	"github.com/Paranoid-AF/mcconsole/jsonapi"
	"github.com/Paranoid-AF/mcconsole/remote"
	"github.com/Paranoid-AF/mcconsole/store"
)

// Prefix is the INPUT prefix of the system category.
const Prefix = '#'

// Session is the connection state the system commands drive.
type Session interface {
	Client() remote.Client
	Subscribe(source string) error
	Unsubscribe(source string) bool
	Sources() []string
}

// DialFunc opens a connection to a remote server.
type DialFunc func(ctx context.Context, cfg mcconsole.RemoteConfig) (remote.Client, error)

// Persister saves and restores the session snapshot.
type Persister interface {
	Save(snap store.Snapshot) error
	Load() (store.Snapshot, bool, error)
}

// Options configures the system category. Session and Store may be nil;
// the commands needing them then report an error.
type Options struct {
	Config  *mcconsole.Config
	Session Session
	Dial    DialFunc
	Store   Persister
	Logger  pslog.Logger
}

// System holds the state behind the '#' commands.
type System struct {
	ctrl    *console.Control
	cat     *console.Category
	cfg     *mcconsole.Config
	session Session
	dial    DialFunc
	store   Persister
	log     pslog.Logger
	history *History
	pending sync.WaitGroup

	aliasMu sync.Mutex
	armed   string
}

// New builds the system category and registers it with ctrl.
func New(ctrl *console.Control, opts Options) *System {
	if opts.Config == nil {
		opts.Config = mcconsole.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}
	log := opts.Logger.With("component", "system")
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, cfg mcconsole.RemoteConfig) (remote.Client, error) {
			return jsonapi.Dial(ctx, cfg, jsonapi.WithLogger(opts.Logger))
		}
	}
	s := &System{
		ctrl:    ctrl,
		cat:     console.NewCategory(Prefix, "System", "Commands affecting local state"),
		cfg:     opts.Config,
		session: opts.Session,
		dial:    opts.Dial,
		store:   opts.Store,
		log:     log,
		history: NewHistory(opts.Config.History.Max),
	}
	if err := s.cat.Add(s.commands()...); err != nil {
		// The command table is static; a failure here is a programming error.
		panic(err)
	}
	if err := s.cat.Add(s.shortcuts()...); err != nil {
		panic(err)
	}
	ctrl.Register(s.cat)
	return s
}

// Category returns the system category.
func (s *System) Category() *console.Category { return s.cat }

// History returns the input history.
func (s *System) History() *History { return s.history }

// Wait blocks until background connects and subscriptions have reported.
func (s *System) Wait() { s.pending.Wait() }

func (s *System) commands() []*console.Command {
	cmds := []*console.Command{
		{
			Name:        "quit",
			Description: "Save state and exit",
			Handler:     s.quit,
		},
		{
			Name:        "env",
			Description: "List environment variables",
			Handler:     s.listEnv,
		},
		{
			Name:        "set",
			Description: "Set an environment variable",
			Detail:      "Quote the value to include spaces.",
			Params:      []console.Param{console.Required("key"), console.Required("value")},
			Handler:     s.setEnv,
		},
		{
			Name:        "unset",
			Description: "Remove an environment variable",
			Params:      []console.Param{console.Required("key")},
			Handler:     s.unsetEnv,
		},
		{
			Name:        "clear",
			Description: "Clear the output",
			Handler:     s.clear,
		},
		{
			Name:        "forget",
			Description: "Forget the input history",
			Handler:     s.forget,
		},
		{
			Name:        "history",
			Description: "List the input history",
			Handler:     s.listHistory,
		},
		{
			Name:        "envusage",
			Description: "Show which commands read which environment variables",
			Handler:     s.envUsage,
		},
	}
	cmds = append(cmds, s.connectCommands()...)
	cmds = append(cmds, s.persistCommands()...)
	cmds = append(cmds, s.aliasCommands()...)
	cmds = append(cmds, s.keyCommands()...)
	return cmds
}

// shortcutTable lists the short spellings of system commands, in
// registration order.
var shortcutTable = []struct{ name, of string }{
	{"h", "help"},
	{"q", "quit"},
	{"c", "connect"},
	{"con", "connect"},
	{"d", "disconnect"},
	{"dis", "disconnect"},
	{"s", "subscribe"},
	{"sub", "subscribe"},
	{"u", "unsubscribe"},
	{"unsub", "unsubscribe"},
	{"clr", "clear"},
	{"eusage", "envusage"},
	{"eus", "envusage"},
}

// shortcuts returns hidden copies of registered commands under their short
// names.
func (s *System) shortcuts() []*console.Command {
	var out []*console.Command
	for _, sc := range shortcutTable {
		cmd, ok := s.cat.Lookup(console.KindInput, sc.of)
		if !ok {
			continue
		}
		short := *cmd
		short.Name = sc.name
		short.Description = "Same as " + string(rune(Prefix)) + sc.of
		short.Env = nil
		short.Events = nil
		short.Hidden = true
		out = append(out, &short)
	}
	return out
}

func (s *System) quit(e *console.Event) error {
	e.Handled = true
	e.OnSuccess = func() { s.ctrl.Quit() }
	return nil
}

func (s *System) listEnv(e *console.Event) error {
	e.Handled = true
	keys := e.Env.Keys()
	if len(keys) == 0 {
		e.AddOutput("Nobody here but us chickens!")
		return nil
	}
	for _, k := range keys {
		v, _ := e.Env.Get(k)
		e.AddOutputf("\t%s =>\t%s", k, console.Quote(v))
	}
	return nil
}

func (s *System) envUsage(e *console.Event) error {
	e.Handled = true
	users := make(map[string][]string)
	for _, cat := range s.ctrl.Categories() {
		seen := make(map[*console.Command]bool)
		note := func(cmd *console.Command, label string) {
			if cmd == nil || seen[cmd] {
				return
			}
			seen[cmd] = true
			for _, u := range cmd.Env {
				if !slices.Contains(users[u.Name], label) {
					users[u.Name] = append(users[u.Name], label)
				}
			}
		}
		for _, kind := range console.Kinds() {
			for _, cmd := range cat.Commands(kind) {
				label := string(rune(cat.Prefix())) + cmd.Name
				if kind != console.KindInput {
					label = fmt.Sprintf("%s (%s)", cat.Name(), kind)
				}
				note(cmd, label)
			}
		}
		if fb := cat.Fallback(); fb != nil {
			note(fb, fmt.Sprintf("%c<%s>", cat.Prefix(), fb.Name))
		}
	}
	if len(users) == 0 {
		e.AddOutput("No loaded commands use environment variables")
		return nil
	}
	e.AddOutput("The following environment variables are being used:")
	for _, key := range slices.Sorted(maps.Keys(users)) {
		e.AddOutputf("  %s: %s", key, strings.Join(users[key], ", "))
	}
	return nil
}

func (s *System) setEnv(e *console.Event) error {
	e.Handled = true
	args := e.Args()
	e.Env.Set(args[0], args[1])
	return nil
}

func (s *System) unsetEnv(e *console.Event) error {
	e.Handled = true
	if !e.Env.Unset(e.Args()[0]) {
		e.AddOutputf("%s is not set", e.Args()[0])
	}
	return nil
}

func (s *System) clear(e *console.Event) error {
	e.Handled = true
	e.OnSuccess = s.ctrl.Clear
	return nil
}

func (s *System) forget(e *console.Event) error {
	e.Handled = true
	s.history.Reset(nil)
	return nil
}

func (s *System) listHistory(e *console.Event) error {
	e.Handled = true
	entries := s.history.Entries()
	if len(entries) == 0 {
		e.AddOutput("History is empty")
		return nil
	}
	for i, line := range entries {
		e.AddOutputf("%4d  %s", i+1, line)
	}
	return nil
}

// async runs fn on its own goroutine and tracks it for Wait.
func (s *System) async(fn func()) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		fn()
	}()
}

func (s *System) printf(format string, args ...any) {
	s.ctrl.Trigger(console.NewOutput(fmt.Sprintf(format, args...)))
}

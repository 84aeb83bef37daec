// Package remote provides the ':' category: one command per method the
// connected server exposes, rebuilt on every connect. It also provides the
// '/' chat category, owns the connection's chat default handler and runs its
// subscription feeds.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	mcconsole "github.com/Paranoid-AF/mcconsole"
	"github.com/Paranoid-AF/mcconsole/console"
	"github.com/Paranoid-AF/mcconsole/feed"
)

// Prefix is the INPUT prefix of the remote category.
const Prefix = ':'

// ChatPrefix is the INPUT prefix of the chat category. Lines starting with it
// run as server console commands.
const ChatPrefix = '/'

// EnvSource overrides the subscription opened on connect.
const EnvSource = "remote_source"

// EnvName is the sender name of broadcast chat.
const EnvName = "name"

// DefaultName is the sender name used when EnvName is unset.
const DefaultName = "Metatron"

const defaultCallTimeout = 10 * time.Second

// ErrNotConnected is returned when an operation needs a connected server.
var ErrNotConnected = errors.New("not connected")

// Client is the connection a CONNECT event carries.
type Client interface {
	Config() mcconsole.RemoteConfig
	Call(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	ListMethods(ctx context.Context) ([]mcconsole.MethodInfo, error)
	Subscribe(ctx context.Context, source string) (io.ReadCloser, error)
	Close() error
}

// Remote tracks the current connection and keeps the remote category in
// step with it.
type Remote struct {
	ctrl     *console.Control
	cat      *console.Category
	chat     *console.Category
	feedCfg  mcconsole.FeedConfig
	strip    bool
	feeds    *feed.Manager
	dedupe   *feed.Deduper
	log      pslog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu     sync.Mutex
	client Client
}

// New builds the remote category and registers it with ctrl.
func New(ctrl *console.Control, cfg *mcconsole.Config, logger pslog.Logger) *Remote {
	if cfg == nil {
		cfg = mcconsole.DefaultConfig()
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Remote{
		ctrl:    ctrl,
		cat:     console.NewCategory(Prefix, "Remote", "Methods exposed by the connected server"),
		chat:    console.NewCategory(ChatPrefix, "Chat", "Server console commands; plain text is broadcast as chat"),
		feedCfg: cfg.Feed,
		strip:   mcconsole.StripFormattingEnabled(cfg),
		feeds:   feed.NewManager(),
		log:     logger.With("component", "remote"),
		ctx:     ctx,
		cancel:  cancel,
	}
	if w := cfg.Feed.DedupeWindow.Duration; w > 0 {
		r.dedupe = feed.NewDeduper(w)
	}
	if err := r.cat.Add(
		&console.Command{
			Name:        "connect",
			Description: "Rebuild remote commands and open the subscription",
			Env:         []console.EnvUsage{{Name: EnvSource, Usage: "subscription opened on connect"}},
			Events:      []console.Kind{console.KindConnect},
			Hidden:      true,
			Handler:     r.onConnect,
		},
		&console.Command{
			Name:        "disconnect",
			Description: "Drop remote commands and close feeds",
			Events:      []console.Kind{console.KindDisconnect},
			Hidden:      true,
			Handler:     r.onDisconnect,
		},
	); err != nil {
		panic(err)
	}
	if err := r.chat.SetFallback(&console.Command{
		Name:        "command",
		Description: "Run a server console command; plain text is sent as chat",
		Detail:      "Plain text typed while connected is broadcast under the sender name.",
		Env:         []console.EnvUsage{{Name: EnvName, Usage: "sender of plain text chat (default " + DefaultName + ")"}},
		Handler:     r.consoleCommand,
	}); err != nil {
		panic(err)
	}
	ctrl.Register(r.cat)
	ctrl.Register(r.chat)
	return r
}

// Category returns the remote category.
func (r *Remote) Category() *console.Category { return r.cat }

// Chat returns the chat category.
func (r *Remote) Chat() *console.Category { return r.chat }

// Client returns the current connection, or nil.
func (r *Remote) Client() Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

func (r *Remote) onConnect(e *console.Event) error {
	client, ok := e.Data.(Client)
	if !ok || client == nil {
		return fmt.Errorf("connect event without a client")
	}
	rc := client.Config()
	addr := net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port))

	ctx, cancel := context.WithTimeout(r.ctx, callTimeout(client))
	methods, err := client.ListMethods(ctx)
	cancel()
	if err != nil {
		r.log.With("err", err).Warn("remote method listing failed", "addr", addr)
		e.AddOutput("Error: Connect failed", "list methods: "+err.Error())
		r.closeUnused(client)
		return nil
	}
	if err := r.cat.Replace(console.KindInput, Commands(methods, r.call)); err != nil {
		r.closeUnused(client)
		return err
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()
	r.ctrl.SetDefaultHandler(r.chatMessage)

	e.AddOutputf("Connected to %s (%d remote commands, %chelp lists them)", addr, len(methods), Prefix)
	r.log.Info("remote connected", "addr", addr, "methods", len(methods))

	source := e.Env.Lookup(EnvSource, r.feedCfg.Source)
	if source != "" {
		if err := r.Subscribe(source); err != nil {
			e.AddOutput("Error: " + err.Error())
		}
	}
	return nil
}

func (r *Remote) onDisconnect(e *console.Event) error {
	client, _ := e.Data.(Client)
	r.mu.Lock()
	if client == nil {
		client = r.client
	}
	current := client != nil && client == r.client
	if current {
		r.client = nil
	}
	r.mu.Unlock()
	if client == nil {
		e.AddOutput("Not connected")
		return nil
	}

	if current {
		r.feeds.StopAll()
		if err := r.cat.Replace(console.KindInput, nil); err != nil {
			r.log.With("err", err).Warn("remote commands not cleared")
		}
		r.ctrl.SetDefaultHandler(nil)
	}
	if err := client.Close(); err != nil {
		r.log.With("err", err).Warn("remote close failed")
	}
	rc := client.Config()
	e.AddOutputf("Disconnected from %s", net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port)))
	r.log.Info("remote disconnected", "host", rc.Host, "port", rc.Port)
	return nil
}

// closeUnused closes a client that never became the current connection.
func (r *Remote) closeUnused(client Client) {
	if r.Client() == client {
		return
	}
	if err := client.Close(); err != nil {
		r.log.With("err", err).Warn("remote close failed")
	}
}

// chatMessage broadcasts unhandled input as chat under the EnvName sender.
// Text starting with a category prefix is a mistyped command and is never
// sent.
func (r *Remote) chatMessage(e *console.Event) error {
	text := strings.TrimSpace(e.Raw())
	if e.Kind() != console.KindInput || text == "" {
		return nil
	}
	client := r.Client()
	if client == nil {
		return nil
	}
	e.Handled = true
	if r.prefixed(text) {
		e.AddOutput("Unrecognized command")
		return nil
	}
	method := client.Config().ChatMethod
	if method == "" {
		method = "broadcastWithName"
	}
	name := e.Env.Lookup(EnvName, DefaultName)
	r.callAsync(client, method, []any{e.Raw(), name}, false)
	return nil
}

func (r *Remote) prefixed(text string) bool {
	for _, cat := range r.ctrl.Categories() {
		if text[0] == cat.Prefix() {
			return true
		}
	}
	return false
}

// consoleCommand runs a '/' line, less the prefix, as a server console
// command.
func (r *Remote) consoleCommand(e *console.Event) error {
	e.Handled = true
	line := strings.TrimSpace(e.Raw())
	line = strings.TrimSpace(strings.TrimPrefix(line, string(ChatPrefix)))
	if line == "" {
		e.AddOutput("Usage: " + string(ChatPrefix) + "<command> [args...]")
		return nil
	}
	client := r.Client()
	if client == nil {
		e.AddOutput("Not connected")
		return nil
	}
	method := client.Config().ConsoleMethod
	if method == "" {
		method = "runConsoleCommand"
	}
	r.callAsync(client, method, []any{line}, false)
	return nil
}

// call runs a remote method command, printing its result.
func (r *Remote) call(method string, args []string) error {
	client := r.Client()
	if client == nil {
		return ErrNotConnected
	}
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = Arg(a)
	}
	r.callAsync(client, method, values, true)
	return nil
}

func (r *Remote) callAsync(client Client, method string, args []any, show bool) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(r.ctx, callTimeout(client))
		defer cancel()
		raw, err := client.Call(ctx, method, args...)
		if err != nil {
			r.log.With("err", err).Debug("remote call failed", "method", method)
			r.ctrl.Trigger(console.NewOutput("Error: " + err.Error()))
			return
		}
		if !show {
			return
		}
		out := console.NewOutput("")
		out.AddOutput(strings.Split(Pretty(raw), "\n")...)
		r.ctrl.Trigger(out)
	}()
}

func callTimeout(c Client) time.Duration {
	if d := c.Config().Timeout.Duration; d > 0 {
		return d
	}
	return defaultCallTimeout
}

// Subscribe opens source on the current connection, replacing any feed
// already reading it.
func (r *Remote) Subscribe(source string) error {
	client := r.Client()
	if client == nil {
		return ErrNotConnected
	}
	extract, err := feed.ExtractorFor(source, r.feedCfg.Format)
	if err != nil {
		return fmt.Errorf("feed %s: %w", source, err)
	}
	ctx, cancel := context.WithTimeout(r.ctx, callTimeout(client))
	defer cancel()
	stream, err := client.Subscribe(ctx, source)
	if err != nil {
		return err
	}

	filter := feed.IgnoreSuffixes(r.feedCfg.IgnoreSuffixes...)
	if r.dedupe != nil {
		filter = feed.All(filter, r.dedupe.Allow)
	}
	format := feed.Formatter(feed.TrimLine)
	if r.strip {
		format = feed.Chain(feed.StripFormatting, feed.TrimLine)
	}
	r.feeds.Start(feed.NewReader(source, stream, r.deliver, feed.Options{
		Extract: extract,
		Filter:  filter,
		Format:  format,
		Logger:  r.log,
	}))
	return nil
}

func (r *Remote) deliver(line string) {
	r.ctrl.Trigger(console.NewOutput(line))
}

// Unsubscribe stops the feed for source and reports whether one was running.
func (r *Remote) Unsubscribe(source string) bool {
	return r.feeds.Stop(source)
}

// Sources lists the running feeds.
func (r *Remote) Sources() []string {
	return r.feeds.Sources()
}

// Wait blocks until every in-flight remote call has reported.
func (r *Remote) Wait() {
	r.inflight.Wait()
}

// Close stops feeds, abandons in-flight calls and closes the connection.
func (r *Remote) Close() error {
	r.cancel()
	r.feeds.StopAll()
	r.inflight.Wait()
	if r.dedupe != nil {
		r.dedupe.Stop()
	}
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()
	if client != nil {
		return client.Close()
	}
	return nil
}

// Arg converts a typed argument to a call value: valid JSON is passed as is,
// anything else as a string. Numbers, true, null and objects such as
// {"text":"hi"} therefore arrive typed. A word typed as '"12"' keeps its
// quotes and goes as the string "12".
func Arg(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

// Pretty indents a JSON result for display. A bare string is shown
// unquoted.
func Pretty(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

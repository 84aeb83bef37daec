package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"
)

// ErrUnknownCategory is returned when no category is registered for a prefix.
var ErrUnknownCategory = errors.New("unknown category")

// Control dispatches events through the registered categories and delivers
// their side effects to the UI through a Queue. Trigger may be called from
// any goroutine.
type Control struct {
	queue *Queue
	log   pslog.Logger

	mu         sync.RWMutex
	categories []*Category
	fallback   Handler

	storesMu sync.Mutex
	stores   map[string]*Datastore

	quitting atomic.Bool
}

// Option configures a Control.
type Option func(*Control)

// WithLogger sets the logger used for dispatch tracing and faults.
func WithLogger(l pslog.Logger) Option {
	return func(c *Control) { c.log = l }
}

// New returns a Control delivering UI calls to queue.
func New(queue *Queue, opts ...Option) *Control {
	c := &Control{
		queue:  queue,
		stores: make(map[string]*Datastore),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = pslog.Ctx(context.Background())
	}
	if c.queue == nil {
		c.queue = NewQueue(DefaultQueueSize)
	}
	return c
}

// Queue returns the deferred call queue the UI loop drains.
func (c *Control) Queue() *Queue { return c.queue }

// Register appends cat to the dispatch order, replacing any category with
// the same prefix, and creates its Datastore.
func (c *Control) Register(cat *Category) {
	c.mu.Lock()
	idx := slices.IndexFunc(c.categories, func(x *Category) bool { return x.Prefix() == cat.Prefix() })
	if idx >= 0 {
		c.categories[idx] = cat
	} else {
		c.categories = append(c.categories, cat)
	}
	c.mu.Unlock()
	c.Datastore(string(cat.Prefix()))
	c.log.Debug("category registered", "prefix", string(cat.Prefix()), "name", cat.Name())
}

// Unregister removes the category registered under prefix.
func (c *Control) Unregister(prefix byte) (*Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := slices.IndexFunc(c.categories, func(x *Category) bool { return x.Prefix() == prefix })
	if idx < 0 {
		return nil, fmt.Errorf("%w: %c", ErrUnknownCategory, prefix)
	}
	cat := c.categories[idx]
	c.categories = slices.Delete(c.categories, idx, idx+1)
	return cat, nil
}

// Categories returns the registered categories in dispatch order.
func (c *Control) Categories() []*Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.categories)
}

// SetDefaultHandler installs the handler invoked for events no category
// handled. nil removes it.
func (c *Control) SetDefaultHandler(h Handler) {
	c.mu.Lock()
	c.fallback = h
	c.mu.Unlock()
}

func (c *Control) defaultHandler() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback
}

// Datastore returns the store called name, creating it on first use.
func (c *Control) Datastore(name string) *Datastore {
	c.storesMu.Lock()
	defer c.storesMu.Unlock()
	ds, ok := c.stores[name]
	if !ok {
		ds = NewDatastore()
		c.stores[name] = ds
	}
	return ds
}

// Env returns the shared environment.
func (c *Control) Env() Env {
	return Env{store: c.Datastore(EnvStore)}
}

// ExportStores returns a snapshot of every Datastore.
func (c *Control) ExportStores() map[string]map[string]json.RawMessage {
	c.storesMu.Lock()
	defer c.storesMu.Unlock()
	out := make(map[string]map[string]json.RawMessage, len(c.stores))
	for name, ds := range c.stores {
		out[name] = ds.Export()
	}
	return out
}

// ImportStores replaces the contents of the named Datastores with stores.
func (c *Control) ImportStores(stores map[string]map[string]json.RawMessage) {
	for name, values := range stores {
		c.Datastore(name).Import(values)
	}
}

// Trigger dispatches e. Categories run in registration order until one sets
// StopPropagation; the default handler runs when nothing handled the event.
// Unless canceled, output and input replacement are queued for the UI,
// OnSuccess runs and cascaded events are dispatched depth first. OnComplete
// always runs last.
func (c *Control) Trigger(e *Event) {
	e.Env = c.Env()
	log := c.log.With("kind", e.Kind().String())
	log.Trace("dispatch", "raw", e.Raw())

	for _, cat := range c.Categories() {
		if e.StopPropagation {
			break
		}
		if err := cat.Invoke(e); err != nil {
			log.With("err", err).Warn("handler fault", "category", cat.Name())
			break
		}
	}

	if !e.Handled && !e.Canceled {
		if h := c.defaultHandler(); h != nil {
			c.runDefault(h, e)
		}
	}

	if !e.Canceled {
		c.deliver(e)
		if e.OnSuccess != nil {
			e.OnSuccess()
		}
		for _, sub := range e.cascade {
			c.Trigger(sub)
		}
	}

	if e.OnComplete != nil {
		e.OnComplete()
	}
}

func (c *Control) runDefault(h Handler, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.AddOutputf("Command encountered unexpected error: panic: %v", r)
			c.log.Warn("default handler panic", "panic", fmt.Sprint(r))
		}
	}()
	if err := h(e); err != nil {
		e.AddOutput("Command encountered unexpected error: " + err.Error())
		c.log.With("err", err).Warn("default handler fault")
	}
}

func (c *Control) deliver(e *Event) {
	lines := e.Output()
	scroll := e.ScrollOutput
	if len(lines) > 0 {
		c.post(func(s Sink) {
			for i, line := range lines {
				if !strings.HasSuffix(line, "\n") {
					line += "\n"
				}
				s.AppendOutput(line, scroll && i == len(lines)-1)
			}
		})
	}
	if e.SetInput {
		text := e.Input
		c.post(func(s Sink) { s.ReplaceInput(text) })
	}
}

func (c *Control) post(fn func(Sink)) {
	if !c.queue.Post(fn) {
		c.log.Warn("ui queue full, dropping call", "dropped", c.queue.Dropped())
	}
}

// Print queues lines for display outside of any event.
func (c *Control) Print(lines ...string) {
	e := NewOutput("")
	e.AddOutput(lines...)
	c.Trigger(e)
}

// Clear requests the output view be emptied.
func (c *Control) Clear() {
	c.post(func(s Sink) { s.Clear() })
}

// ScrollUp requests the output view move back one page.
func (c *Control) ScrollUp() {
	c.post(func(s Sink) { s.Scroll(-1) })
}

// ScrollDown requests the output view move forward one page.
func (c *Control) ScrollDown() {
	c.post(func(s Sink) { s.Scroll(1) })
}

// Show requests the UI be displayed.
func (c *Control) Show() {
	c.post(func(s Sink) { s.Show() })
}

// Quit dispatches a QUIT event. Unless a handler cancels it, the Control
// is marked quitting and the UI is asked to close.
func (c *Control) Quit() bool {
	e := NewQuit()
	c.Trigger(e)
	if e.Canceled {
		c.log.Debug("quit canceled")
		return false
	}
	c.quitting.Store(true)
	c.post(func(s Sink) { s.Close() })
	return true
}

// Quitting reports whether a quit has been confirmed.
func (c *Control) Quitting() bool {
	return c.quitting.Load()
}

// CloseRequested handles a close request coming from the UI itself and
// reports whether the UI may close now.
func (c *Control) CloseRequested() bool {
	if c.Quitting() {
		return true
	}
	return c.Quit()
}

package console

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// EnvStore is the name of the Datastore backing the shared environment.
const EnvStore = "__environ_store"

// Datastore is a persistent key/value mapping owned by the Control.
// Values are held JSON encoded so the whole collection can be saved and
// restored without knowing the value types. Safe for concurrent use.
type Datastore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

// NewDatastore returns an empty Datastore.
func NewDatastore() *Datastore {
	return &Datastore{values: make(map[string]json.RawMessage)}
}

// Get decodes the value stored under key into v and reports whether it existed.
func (d *Datastore) Get(key string, v any) (bool, error) {
	d.mu.Lock()
	raw, ok := d.values[key]
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("datastore %s: %w", key, err)
	}
	return true, nil
}

// Put stores v under key.
func (d *Datastore) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("datastore %s: %w", key, err)
	}
	d.mu.Lock()
	d.values[key] = raw
	d.mu.Unlock()
	return nil
}

// Delete removes key.
func (d *Datastore) Delete(key string) {
	d.mu.Lock()
	delete(d.values, key)
	d.mu.Unlock()
}

// Update runs a read-modify-write of key under the lock. v is filled with the
// current value when present, fn may modify it, and v is stored back unless
// fn returns an error.
func (d *Datastore) Update(key string, v any, fn func(exists bool) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, ok := d.values[key]
	if ok {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("datastore %s: %w", key, err)
		}
	}
	if err := fn(ok); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("datastore %s: %w", key, err)
	}
	d.values[key] = raw
	return nil
}

// Keys returns the stored keys in sorted order.
func (d *Datastore) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.values))
}

// Clear removes every key.
func (d *Datastore) Clear() {
	d.mu.Lock()
	clear(d.values)
	d.mu.Unlock()
}

// Export returns a copy of the raw values.
func (d *Datastore) Export() map[string]json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.values)
}

// Import replaces the contents with values.
func (d *Datastore) Import(values map[string]json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = maps.Clone(values)
	if d.values == nil {
		d.values = make(map[string]json.RawMessage)
	}
}

// Env is the shared string environment, a typed view over a Datastore.
// The zero Env is empty and ignores writes.
type Env struct {
	store *Datastore
}

// Get returns the value of key.
func (e Env) Get(key string) (string, bool) {
	if e.store == nil {
		return "", false
	}
	var v string
	ok, err := e.store.Get(key, &v)
	if err != nil {
		return "", false
	}
	return v, ok
}

// Lookup returns the value of key, or fallback when unset or empty.
func (e Env) Lookup(key, fallback string) string {
	if v, ok := e.Get(key); ok && v != "" {
		return v
	}
	return fallback
}

// Set stores value under key.
func (e Env) Set(key, value string) {
	if e.store == nil {
		return
	}
	_ = e.store.Put(key, value)
}

// Unset removes key and reports whether it was set.
func (e Env) Unset(key string) bool {
	if e.store == nil {
		return false
	}
	_, ok := e.Get(key)
	e.store.Delete(key)
	return ok
}

// Keys returns the variable names in sorted order.
func (e Env) Keys() []string {
	if e.store == nil {
		return nil
	}
	return e.store.Keys()
}

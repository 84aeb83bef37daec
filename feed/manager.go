package feed

import (
	"maps"
	"slices"
	"sync"
)

// Manager keeps at most one Reader per subscription name.
type Manager struct {
	mu      sync.Mutex
	readers map[string]*Reader
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{readers: make(map[string]*Reader)}
}

// Start stops any reader already running under r's source, then starts r.
func (m *Manager) Start(r *Reader) {
	m.mu.Lock()
	old := m.readers[r.Source()]
	m.readers[r.Source()] = r
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	r.Start()
	go m.forget(r)
}

// forget drops r from the manager once it exits on its own.
func (m *Manager) forget(r *Reader) {
	<-r.Done()
	m.mu.Lock()
	if m.readers[r.Source()] == r {
		delete(m.readers, r.Source())
	}
	m.mu.Unlock()
}

// Stop stops the reader for source and reports whether one was running.
func (m *Manager) Stop(source string) bool {
	m.mu.Lock()
	r, ok := m.readers[source]
	delete(m.readers, source)
	m.mu.Unlock()
	if ok {
		r.Stop()
	}
	return ok
}

// StopAll stops every reader.
func (m *Manager) StopAll() {
	m.mu.Lock()
	readers := m.readers
	m.readers = make(map[string]*Reader)
	m.mu.Unlock()
	for _, r := range readers {
		r.Stop()
	}
}

// Sources returns the names of running readers in sorted order.
func (m *Manager) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.readers))
}

// Get returns the reader for source.
func (m *Manager) Get(source string) (*Reader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readers[source]
	return r, ok
}

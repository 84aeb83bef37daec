package system

import (
	"slices"
	"sync"
)

// DefaultHistoryMax is the number of submitted lines kept.
const DefaultHistoryMax = 100

// History is the input recall buffer. It always ends in a draft slot
// holding the line being typed; the cursor moves between the submitted
// entries and that slot.
type History struct {
	mu      sync.Mutex
	max     int
	entries []string
	pos     int
}

// NewHistory returns an empty History keeping at most max submitted lines.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistoryMax
	}
	return &History{max: max, entries: []string{""}}
}

// Submit stores line in the draft slot, opens a new empty draft slot and
// moves the cursor onto it. The oldest entries are dropped past the cap.
func (h *History) Submit(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[len(h.entries)-1] = line
	h.entries = append(h.entries, "")
	if over := len(h.entries) - 1 - h.max; over > 0 {
		h.entries = slices.Delete(h.entries, 0, over)
	}
	h.pos = len(h.entries) - 1
}

// Back saves draft at the cursor and moves to the previous entry. ok is
// false at the oldest entry.
func (h *History) Back(draft string) (line string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos == 0 {
		return "", false
	}
	h.entries[h.pos] = draft
	h.pos--
	return h.entries[h.pos], true
}

// Forward saves draft at the cursor and moves to the next entry. ok is
// false on the draft slot.
func (h *History) Forward(draft string) (line string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos == len(h.entries)-1 {
		return "", false
	}
	h.entries[h.pos] = draft
	h.pos++
	return h.entries[h.pos], true
}

// Entries returns the submitted lines, oldest first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries[:len(h.entries)-1])
}

// Len returns the number of submitted lines.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries) - 1
}

// Pos returns the cursor; Len() means the draft slot.
func (h *History) Pos() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Reset replaces the submitted lines, keeping the newest max, and puts the
// cursor on an empty draft slot.
func (h *History) Reset(lines []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(lines) > h.max {
		lines = lines[len(lines)-h.max:]
	}
	h.entries = append(slices.Clone(lines), "")
	h.pos = len(h.entries) - 1
}

package console

import (
	"sync/atomic"
)

// Sink is the presentation surface the Control writes to. Its methods are
// only ever called from the goroutine that drains the Queue.
type Sink interface {
	AppendOutput(line string, scroll bool)
	ReplaceInput(text string)
	Clear()
	Scroll(pages int)
	Show()
	Close()
}

// DefaultQueueSize is the deferred call capacity used when none is given.
const DefaultQueueSize = 1024

// Queue marshals Sink calls from any goroutine onto the UI loop. Posting
// never blocks; calls are dropped and counted once the buffer is full.
type Queue struct {
	calls   chan func(Sink)
	dropped atomic.Int64
}

// NewQueue returns a Queue buffering up to size calls.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{calls: make(chan func(Sink), size)}
}

// Post schedules fn and reports whether it was accepted.
func (q *Queue) Post(fn func(Sink)) bool {
	select {
	case q.calls <- fn:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// C exposes the pending calls for a select based UI loop.
func (q *Queue) C() <-chan func(Sink) {
	return q.calls
}

// Drain applies every pending call to s without blocking and returns how
// many ran.
func (q *Queue) Drain(s Sink) int {
	n := 0
	for {
		select {
		case fn := <-q.calls:
			fn(s)
			n++
		default:
			return n
		}
	}
}

// Dropped returns how many calls were discarded because the queue was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

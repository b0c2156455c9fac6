package exec

import (
	"sync"

	"github.com/roach88/mason/internal/store"
)

// ControlKind distinguishes control message kinds.
type ControlKind int

const (
	// ControlPreempt asks the executor to stop safely for a higher-priority
	// goal or an environmental condition.
	ControlPreempt ControlKind = iota + 1
	// ControlStop asks the executor to stop safely with a manual pause.
	// Manual pauses are a hard wall: only an explicit release clears them.
	ControlStop
)

// Control is one message on the executor's control queue.
type Control struct {
	Kind   ControlKind
	Reason store.HoldReason
	Hints  []string
}

// ControlQueue is a thread-safe FIFO for control messages.
//
// External callers (CLI, reactor) enqueue; the executor drains between ops.
// A buffered signal channel of size 1 coalesces wakeups so the executor can
// select on it alongside context cancellation.
type ControlQueue struct {
	mu       sync.Mutex
	messages []Control
	closed   bool
	signal   chan struct{}
}

// NewControlQueue creates an empty control queue.
func NewControlQueue() *ControlQueue {
	return &ControlQueue{
		messages: make([]Control, 0, 8),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a control message. Returns false if the queue is closed.
func (q *ControlQueue) Enqueue(c Control) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.messages = append(q.messages, c)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front message without blocking.
func (q *ControlQueue) TryDequeue() (Control, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Control{}, false
	}
	c := q.messages[0]
	q.messages[0] = Control{}
	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}
	return c, true
}

// Wait returns a channel that signals when messages may be available.
func (q *ControlQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *ControlQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Close marks the queue closed and wakes any waiters.
func (q *ControlQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

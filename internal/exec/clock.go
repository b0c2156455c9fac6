package exec

import "sync/atomic"

// Clock is the monotonic logical clock stamping every durable record.
//
// All ledger marks, checkpoints, and events carry a seq from this clock,
// which gives a deterministic total order with no wall-clock races and
// makes replay reproduce the original order exactly.
//
// Safe for concurrent use, though the single-writer design means one
// goroutine typically calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Resume uses this to continue from the last persisted seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

package tracing

import "sync/atomic"

// Clock is a monotonic logical clock for ordering recorded events.
//
// Events are stamped with strictly increasing sequence numbers instead of
// wall-clock time, so traces of the same build compare equal.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Reset restarts the clock at 0.
func (c *Clock) Reset() {
	c.seq.Store(0)
}

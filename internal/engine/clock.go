package engine

import "sync/atomic"

// Clock stamps every delivered event with a strictly increasing sequence
// number. Seq orders journal rows within a session and correlates log
// lines; it is never derived from wall-clock time.
//
// Safe for concurrent use, though only the delivery path calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out, 0 if none.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

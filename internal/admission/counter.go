// Package admission implements the process-wide client admission counter
// described by spec §4.1. It is a single lock-free atomic integer: rejecting
// new work here, before the TLS handshake, bounds worst-case resource use
// under a connection flood.
package admission

import "sync/atomic"

// Counter tracks concurrently-served connections against a ceiling.
type Counter struct {
	current atomic.Int64
	max     int64
}

// NewCounter returns a Counter that admits at most max concurrent clients.
func NewCounter(max int64) *Counter {
	return &Counter{max: max}
}

// TryAdmit increments the counter and returns true if the post-increment
// value is <= max, else it reverts the increment and returns false. Equality
// with max is the admitted boundary: at exactly max-1 in-flight, the next
// accept is admitted; at max, the next is rejected.
func (c *Counter) TryAdmit() bool {
	if c.current.Add(1) <= c.max {
		return true
	}
	c.Release()
	return false
}

// Release decrements the counter, guarding against underflow with a
// compare-and-swap loop. A naive Add(-1) is incorrect here: a rejected
// TryAdmit already reverted its own increment via Release, so a concurrent
// caller racing a prior rejection must never be allowed to drive the
// counter negative.
func (c *Counter) Release() {
	for {
		cur := c.current.Load()
		if cur <= 0 {
			return
		}
		if c.current.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Current returns the current number of admitted, not-yet-released clients.
func (c *Counter) Current() int64 {
	return c.current.Load()
}

// Max returns the configured ceiling.
func (c *Counter) Max() int64 {
	return c.max
}

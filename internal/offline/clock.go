package offline

import (
	"sync/atomic"
	"time"
)

// Clock stamps staged actions with their sequence key.
type Clock interface {
	// Now returns Unix milliseconds. Successive calls return strictly
	// increasing values.
	Now() int64
}

// SystemClock is wall-clock time forced to be strictly increasing, so two
// actions staged within the same millisecond still get distinct keys.
//
// Safe for concurrent use.
type SystemClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewSystemClock returns a clock backed by time.Now.
func NewSystemClock() *SystemClock {
	return &SystemClock{now: time.Now}
}

// Now implements Clock.
func (c *SystemClock) Now() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

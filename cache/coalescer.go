package cache

import (
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent loads of the same key into one call, so a
// burst of misses on one key reaches the loader once.
type Coalescer struct {
	group    singleflight.Group
	inFlight atomic.Int64
}

// NewCoalescer creates a new coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{}
}

// Do runs fn once per key among concurrent callers. shared is true when the
// result was handed to more than one caller.
func (c *Coalescer) Do(key string, fn func() (any, error)) (v any, shared bool, err error) {
	v, err, shared = c.group.Do(key, func() (any, error) {
		c.inFlight.Add(1)
		defer c.inFlight.Add(-1)
		return fn()
	})
	return v, shared, err
}

// InFlight returns the number of loads currently executing.
func (c *Coalescer) InFlight() int {
	return int(c.inFlight.Load())
}

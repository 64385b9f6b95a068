// Package tasks counts the daemon's long-running subsystems so shutdown
// can wait for all of them to drain before the process exits.
package tasks

import (
	"fmt"
	"sync/atomic"
)

// Counter tracks outstanding subsystem tasks. Acquire and Release pair
// like a semaphore; shutdown polls Outstanding until it reaches zero.
type Counter struct {
	n atomic.Int32
}

// NewCounter seeds the counter with the tasks that exist from birth.
// The daemon starts with two: the workload server and the management
// server.
func NewCounter(initial int) *Counter {
	c := &Counter{}
	c.n.Store(int32(initial))
	return c
}

// Acquire registers one more outstanding task.
func (c *Counter) Acquire() {
	c.n.Add(1)
}

// Release marks one task as finished. Releasing more tasks than were
// ever acquired is a programming error, not a runtime condition.
func (c *Counter) Release() {
	if c.n.Add(-1) < 0 {
		panic("tasks: Release without matching Acquire")
	}
}

// Outstanding returns the number of tasks still running.
func (c *Counter) Outstanding() int {
	return int(c.n.Load())
}

// String renders the counter for logs.
func (c *Counter) String() string {
	return fmt.Sprintf("%d outstanding", c.Outstanding())
}

package chat

import (
	"sync"
	"time"
)

// storeClock hands out strictly increasing UTC timestamps at microsecond
// precision, the finest resolution postgres keeps.
type storeClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newStoreClock() *storeClock {
	return &storeClock{now: time.Now}
}

func (c *storeClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

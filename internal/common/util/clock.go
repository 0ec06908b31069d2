package util

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type DefaultClock struct{}

func (c *DefaultClock) Now() time.Time { return time.Now() }

// DummyClock is a settable clock for tests. It is safe to advance from one goroutine
// while others read it.
type DummyClock struct {
	mu sync.Mutex
	T  time.Time
}

func NewDummyClock(t time.Time) *DummyClock {
	return &DummyClock{T: t}
}

func (c *DummyClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.T
}

func (c *DummyClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.T = c.T.Add(d)
}

// MillisSinceEpoch and FromMillis convert between times and the millisecond
// timestamps the stores persist.
func MillisSinceEpoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}

package processor

import (
	"sync"
	"time"

	"github.com/G-Research/eventbench/internal/common/util"
)

// Timer measures processing time. Processors suspend it around work that should not count,
// e.g. waiting on test fixtures.
type Timer struct {
	mu      sync.Mutex
	clock   util.Clock
	started time.Time
	elapsed time.Duration
	running bool
}

// NewTimer returns a running timer.
func NewTimer(clock util.Clock) *Timer {
	return &Timer{clock: clock, started: clock.Now(), running: true}
}

func (t *Timer) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.elapsed += t.clock.Now().Sub(t.started)
	t.running = false
}

func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.started = t.clock.Now()
	t.running = true
}

func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.elapsed + t.clock.Now().Sub(t.started)
	}
	return t.elapsed
}

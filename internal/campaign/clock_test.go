package campaign

import (
	"sort"
	"sync"
	"time"
)

// manualClock is a Clock whose timers only fire from Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer

	// leaky makes Stop report success without preventing the callback,
	// simulating a timer that fires while it is being cancelled.
	leaky bool
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: f}
	c.seq++
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	if !t.clock.leaky {
		t.stopped = true
	}
	return true
}

// Advance moves time forward by d, firing due timers in deadline order.
// Timers armed by a callback fire too when they fall due within d.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		due := c.dueLocked(target)
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if due.at.After(c.now) {
			c.now = due.at
		}
		due.fired = true
		c.mu.Unlock()

		due.fn()
	}
}

func (c *manualClock) dueLocked(target time.Time) *manualTimer {
	var live []*manualTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live

	sort.Slice(live, func(i, j int) bool {
		if live[i].at.Equal(live[j].at) {
			return live[i].seq < live[j].seq
		}
		return live[i].at.Before(live[j].at)
	})

	if len(live) == 0 || live[0].at.After(target) {
		return nil
	}
	return live[0]
}

// Pending returns the number of timers that have neither fired nor stopped
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

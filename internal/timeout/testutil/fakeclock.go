// Package testutil provides a deterministic platform timer for tests.
package testutil

import (
	"sort"
	"sync"
	"time"

	"laterd/internal/timeout"
)

// Arm records one AfterFunc call.
type Arm struct {
	Seq   int
	At    time.Time // clock time when armed
	Delay time.Duration
}

// FakeClock is a virtual clock. Timers only fire from Advance, on the
// calling goroutine, in due-time order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
	arms   []Arm
}

type fakeTimer struct {
	c       *FakeClock
	seq     int
	due     time.Time
	f       func()
	stopped bool
	fired   bool
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) timeout.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if d < 0 {
		d = 0
	}
	t := &fakeTimer{c: c, seq: c.seq, due: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.arms = append(c.arms, Arm{Seq: c.seq, At: c.now, Delay: d})
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing every timer that becomes due
// (including timers armed by callbacks along the way).
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.AdvanceTo(target)
}

// AdvanceTo moves the clock to target, firing due timers.
func (c *FakeClock) AdvanceTo(target time.Time) {
	for {
		c.mu.Lock()
		t := c.nextDueLocked(target)
		if t == nil {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		if t.due.After(c.now) {
			c.now = t.due
		}
		t.fired = true
		f := t.f
		c.mu.Unlock()
		f()
	}
}

func (c *FakeClock) nextDueLocked(limit time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.due.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}

// Arms returns every AfterFunc call so far.
func (c *FakeClock) Arms() []Arm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Arm(nil), c.arms...)
}

// Pending counts timers that are neither stopped nor fired.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

var _ timeout.Clock = (*FakeClock)(nil)

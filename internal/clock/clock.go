// Package clock provides the time source used by the card, cache and gesture
// state machine. Production code uses Real(); tests use Fake() and move time
// with Advance so hold timers and cache expiry fire deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the card depends on.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d. The returned Timer cancels the call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call stopped
// the timer; false means it already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}

// FakeClock stands still until Advance is called. AfterFunc callbacks run
// synchronously inside Advance, in deadline order. Callbacks must not call
// Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set moves the clock to t without firing timers whose deadline is passed;
// the next Advance fires them. Used to jump across days in tests.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// Advance moves time forward by d and fires every timer whose deadline is
// reached. Timers scheduled by a callback are relative to the advanced time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		toFire := c.collectExpired(target)
		if len(toFire) == 0 {
			return
		}
		sort.SliceStable(toFire, func(i, j int) bool {
			return toFire[i].deadline.Before(toFire[j].deadline)
		})
		for _, w := range toFire {
			c.mu.Lock()
			stopped := w.stopped
			if !stopped {
				w.fired = true
			}
			c.mu.Unlock()
			if !stopped {
				w.callback()
			}
		}
	}
}

func (c *FakeClock) collectExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toFire, remaining []*fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		if !w.deadline.After(target) {
			toFire = append(toFire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	return toFire
}

// Pending returns the number of timers that are neither fired nor stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

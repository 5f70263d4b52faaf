// Package throttle provides a per-key write coalescer with leading and
// trailing edge semantics: the first call for a key runs immediately, calls
// arriving within the window are collapsed into a single trailing run that
// fires when the window elapses. Only the most recent function for a key is
// retained, so callers should pass closures that capture the latest state.
package throttle

import (
	"sync"
	"time"
)

const DefaultWindow = 150 * time.Millisecond

type entry struct {
	timer   *time.Timer
	pending func()
}

// Coalescer throttles per-key work. All methods are safe for concurrent use.
type Coalescer struct {
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	wg      sync.WaitGroup
}

func NewCoalescer(window time.Duration) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coalescer{
		window:  window,
		entries: make(map[string]*entry),
	}
}

// Do runs fn immediately if the key is idle, otherwise stores fn as the
// trailing call for the current window, replacing any previously stored fn.
func (c *Coalescer) Do(key string, fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if e, ok := c.entries[key]; ok {
		e.pending = fn
		c.mu.Unlock()
		return
	}
	c.entries[key] = &entry{
		timer: time.AfterFunc(c.window, func() { c.expire(key) }),
	}
	c.mu.Unlock()

	fn()
}

// expire fires when a key's window elapses. If a trailing call was stored it
// runs and a fresh window opens; otherwise the key goes idle.
func (c *Coalescer) expire(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	fn := e.pending
	if fn == nil {
		delete(c.entries, key)
		c.mu.Unlock()
		return
	}
	e.pending = nil
	e.timer = time.AfterFunc(c.window, func() { c.expire(key) })
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	fn()
}

// FlushNow runs the pending trailing call for key, if any, and resets the key
// to idle. The next Do for the key runs immediately.
func (c *Coalescer) FlushNow(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.timer.Stop()
	fn := e.pending
	delete(c.entries, key)
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel drops any pending trailing call for key without running it.
func (c *Coalescer) Cancel(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.timer.Stop()
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// Close cancels all pending work and waits for in-flight trailing calls.
// Subsequent Do calls are no-ops.
func (c *Coalescer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for key, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, key)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoLeadingEdge(t *testing.T) {
	c := NewCoalescer(50 * time.Millisecond)
	defer c.Close()

	var calls int32
	c.Do("k", func() { atomic.AddInt32(&calls, 1) })

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoCoalescesWithinWindow(t *testing.T) {
	c := NewCoalescer(40 * time.Millisecond)
	defer c.Close()

	var mu sync.Mutex
	var values []int

	record := func(v int) func() {
		return func() {
			mu.Lock()
			values = append(values, v)
			mu.Unlock()
		}
	}

	c.Do("k", record(1))
	c.Do("k", record(2))
	c.Do("k", record(3))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(values) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// Leading edge ran the first call, the trailing edge ran only the last.
	assert.Equal(t, []int{1, 3}, values)
}

func TestFlushNowRunsPending(t *testing.T) {
	c := NewCoalescer(time.Hour)
	defer c.Close()

	var calls int32
	c.Do("k", func() { atomic.AddInt32(&calls, 1) })
	c.Do("k", func() { atomic.AddInt32(&calls, 10) })

	c.FlushNow("k")
	assert.Equal(t, int32(11), atomic.LoadInt32(&calls))

	// Key is idle again, the next Do runs on the leading edge.
	c.Do("k", func() { atomic.AddInt32(&calls, 100) })
	assert.Equal(t, int32(111), atomic.LoadInt32(&calls))
}

func TestFlushNowWithoutPendingIsNoop(t *testing.T) {
	c := NewCoalescer(time.Hour)
	defer c.Close()

	var calls int32
	c.Do("k", func() { atomic.AddInt32(&calls, 1) })
	c.FlushNow("k")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCancelDropsPending(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)
	defer c.Close()

	var calls int32
	c.Do("k", func() { atomic.AddInt32(&calls, 1) })
	c.Do("k", func() { atomic.AddInt32(&calls, 10) })
	c.Cancel("k")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestKeysAreIndependent(t *testing.T) {
	c := NewCoalescer(time.Hour)
	defer c.Close()

	var a, b int32
	c.Do("a", func() { atomic.AddInt32(&a, 1) })
	c.Do("b", func() { atomic.AddInt32(&b, 1) })

	assert.Equal(t, int32(1), atomic.LoadInt32(&a))
	assert.Equal(t, int32(1), atomic.LoadInt32(&b))
}

func TestCloseDropsPendingAndRejectsNewWork(t *testing.T) {
	c := NewCoalescer(time.Hour)

	var calls int32
	c.Do("k", func() { atomic.AddInt32(&calls, 1) })
	c.Do("k", func() { atomic.AddInt32(&calls, 10) })

	c.Close()
	c.Do("k", func() { atomic.AddInt32(&calls, 100) })

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBurstWriteBound(t *testing.T) {
	window := 30 * time.Millisecond
	c := NewCoalescer(window)
	defer c.Close()

	var calls int32
	start := time.Now()
	for time.Since(start) < 100*time.Millisecond {
		c.Do("k", func() { atomic.AddInt32(&calls, 1) })
		time.Sleep(time.Millisecond)
	}
	c.FlushNow("k")

	// For a burst of duration d the coalescer runs at most ceil(d/window)+1
	// times. Allow slack for scheduler jitter.
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
)

func TestJobsForSameTopicRunInOrder(t *testing.T) {
	q := NewTopicQueue()
	defer q.Close()

	topicID := chat.NewTopicID()
	var mu sync.Mutex
	var order []int

	var handles []*Handle
	for i := 0; i < 5; i++ {
		i := i
		h, err := q.Submit(topicID, func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Wait())
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestJobsForSameTopicNeverOverlap(t *testing.T) {
	q := NewTopicQueue()
	defer q.Close()

	topicID := chat.NewTopicID()
	var running, maxRunning int32
	var mu sync.Mutex

	var handles []*Handle
	for i := 0; i < 10; i++ {
		h, err := q.Submit(topicID, func(context.Context) error {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Wait())
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), maxRunning)
}

func TestTopicsRunConcurrently(t *testing.T) {
	q := NewTopicQueue()
	defer q.Close()

	block := make(chan struct{})
	slow, err := q.Submit(chat.NewTopicID(), func(context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	fast, err := q.Submit(chat.NewTopicID(), func(context.Context) error { return nil })
	require.NoError(t, err)

	// The fast topic finishes while the slow topic is still blocked.
	require.NoError(t, fast.Wait())
	close(block)
	require.NoError(t, slow.Wait())
}

func TestCancelActiveStopsRunningJob(t *testing.T) {
	q := NewTopicQueue()
	defer q.Close()

	topicID := chat.NewTopicID()
	started := make(chan struct{})
	h, err := q.Submit(topicID, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	q.CancelActive(topicID)
	assert.ErrorIs(t, h.Wait(), context.Canceled)
}

func TestFailedJobDoesNotBlockQueue(t *testing.T) {
	q := NewTopicQueue()
	defer q.Close()

	topicID := chat.NewTopicID()
	failing, err := q.Submit(topicID, func(context.Context) error {
		return assert.AnError
	})
	require.NoError(t, err)

	following, err := q.Submit(topicID, func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.ErrorIs(t, failing.Wait(), assert.AnError)
	require.NoError(t, following.Wait())
}

func TestPanickingJobIsRecovered(t *testing.T) {
	q := NewTopicQueue()
	defer q.Close()

	topicID := chat.NewTopicID()
	panicking, err := q.Submit(topicID, func(context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)

	following, err := q.Submit(topicID, func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.ErrorContains(t, panicking.Wait(), "boom")
	require.NoError(t, following.Wait())
}

func TestSubmitAfterCloseFails(t *testing.T) {
	q := NewTopicQueue()
	q.Close()

	_, err := q.Submit(chat.NewTopicID(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCloseCancelsActiveAndFailsQueued(t *testing.T) {
	q := NewTopicQueue()

	topicID := chat.NewTopicID()
	started := make(chan struct{})
	active, err := q.Submit(topicID, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	queued, err := q.Submit(topicID, func(context.Context) error { return nil })
	require.NoError(t, err)

	q.Close()
	assert.ErrorIs(t, active.Wait(), context.Canceled)
	assert.ErrorIs(t, queued.Wait(), ErrQueueClosed)
}

func TestSubmitRacingCloseNeverStrandsAHandle(t *testing.T) {
	for i := 0; i < 100; i++ {
		q := NewTopicQueue()
		topicID := chat.NewTopicID()

		// Warm up the worker so Close has one to shut down.
		h, err := q.Submit(topicID, func(context.Context) error { return nil })
		require.NoError(t, err)
		require.NoError(t, h.Wait())

		results := make(chan *Handle, 1)
		go func() {
			h, err := q.Submit(topicID, func(context.Context) error { return nil })
			if err != nil {
				results <- nil
				return
			}
			results <- h
		}()
		q.Close()

		// Every accepted job must resolve: either it ran before the close or
		// it fails with ErrQueueClosed. Wait must never block forever.
		if h := <-results; h != nil {
			select {
			case <-h.Done():
				err := h.Wait()
				if err != nil {
					assert.ErrorIs(t, err, ErrQueueClosed)
				}
			case <-time.After(time.Second):
				t.Fatal("submitted job never resolved")
			}
		}
	}
}

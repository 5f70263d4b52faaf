// Package queue runs jobs serially per topic. Jobs for the same topic execute
// in submission order, one at a time; jobs for different topics run
// concurrently on independent workers.
package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/parley/pkg/chat"
)

var ErrQueueClosed = errors.New("topic queue is closed")

// Job is a unit of work bound to a topic.
type Job func(ctx context.Context) error

// Handle tracks a submitted job. It is safe to call its methods from any
// goroutine and multiple times.
type Handle struct {
	TopicID chat.TopicID

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	err    error
}

func newHandle(topicID chat.TopicID) *Handle {
	return &Handle{
		TopicID: topicID,
		done:    make(chan struct{}),
	}
}

func (h *Handle) setResult(err error) {
	h.mu.Lock()
	h.err = err
	h.cancel = nil
	close(h.done)
	h.mu.Unlock()
}

func (h *Handle) setCancel(cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
}

// Cancel cancels the job if it is running. Queued jobs that have not started
// yet still run; cancel them after they start or drop the queue.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the job finishes and returns its error.
func (h *Handle) Wait() error {
	if h == nil {
		return errors.New("nil handle")
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done returns a channel closed when the job finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

type pendingJob struct {
	job    Job
	handle *Handle
}

type topicWorker struct {
	mu      sync.Mutex
	pending []pendingJob
	active  *Handle
	stopped bool
	wake    chan struct{}
}

// TopicQueue dispatches jobs to per-topic serial workers.
type TopicQueue struct {
	logger zerolog.Logger

	mu      sync.Mutex
	workers map[chat.TopicID]*topicWorker
	closed  bool
	wg      sync.WaitGroup
}

type QueueOption func(*TopicQueue)

func WithLogger(logger zerolog.Logger) QueueOption {
	return func(q *TopicQueue) { q.logger = logger }
}

func NewTopicQueue(options ...QueueOption) *TopicQueue {
	q := &TopicQueue{
		logger:  zerolog.Nop(),
		workers: make(map[chat.TopicID]*topicWorker),
	}
	for _, o := range options {
		o(q)
	}
	return q
}

// Submit enqueues a job for the topic and returns immediately.
func (q *TopicQueue) Submit(topicID chat.TopicID, job Job) (*Handle, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}

	handle := newHandle(topicID)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	worker, ok := q.workers[topicID]
	if !ok {
		worker = &topicWorker{wake: make(chan struct{}, 1)}
		q.workers[topicID] = worker
		q.wg.Add(1)
		go q.runWorker(topicID, worker)
	}
	q.mu.Unlock()

	// The stopped check and the append share worker.mu with the worker's
	// drain-and-exit, so a job is either queued while the worker still runs
	// or rejected, never stranded on a dead worker.
	worker.mu.Lock()
	if worker.stopped {
		worker.mu.Unlock()
		return nil, ErrQueueClosed
	}
	worker.pending = append(worker.pending, pendingJob{job: job, handle: handle})
	worker.mu.Unlock()

	select {
	case worker.wake <- struct{}{}:
	default:
	}
	return handle, nil
}

// CancelActive cancels the topic's currently running job, if any. Queued jobs
// are unaffected.
func (q *TopicQueue) CancelActive(topicID chat.TopicID) {
	q.mu.Lock()
	worker := q.workers[topicID]
	q.mu.Unlock()
	if worker == nil {
		return
	}
	worker.mu.Lock()
	active := worker.active
	worker.mu.Unlock()
	active.Cancel()
}

// Close stops accepting jobs, cancels active ones, fails queued ones, and
// waits for the workers to drain.
func (q *TopicQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	workers := make([]*topicWorker, 0, len(q.workers))
	for _, w := range q.workers {
		workers = append(workers, w)
	}
	q.mu.Unlock()

	for _, w := range workers {
		w.mu.Lock()
		active := w.active
		w.mu.Unlock()
		active.Cancel()
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	q.wg.Wait()
}

func (q *TopicQueue) runWorker(topicID chat.TopicID, worker *topicWorker) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()

		worker.mu.Lock()
		if closed {
			for _, pj := range worker.pending {
				pj.handle.setResult(ErrQueueClosed)
			}
			worker.pending = nil
			worker.stopped = true
			worker.mu.Unlock()
			return
		}
		if len(worker.pending) == 0 {
			worker.mu.Unlock()
			<-worker.wake
			continue
		}
		next := worker.pending[0]
		worker.pending = worker.pending[1:]
		worker.active = next.handle
		worker.mu.Unlock()

		q.runJob(topicID, worker, next)
	}
}

func (q *TopicQueue) runJob(topicID chat.TopicID, worker *topicWorker, pj pendingJob) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pj.handle.setCancel(cancel)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("job panicked: %v", r)
				q.logger.Error().
					Str("topic_id", string(topicID)).
					Interface("panic", r).
					Msg("recovered panicking job")
			}
		}()
		return pj.job(ctx)
	}()

	pj.handle.setResult(err)
	worker.mu.Lock()
	worker.active = nil
	worker.mu.Unlock()
}

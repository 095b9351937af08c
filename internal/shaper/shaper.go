// Package shaper implements the Traffic Shaper: a single-worker FIFO queue
// that paces outbound requests so a burst of concurrent callers doesn't
// produce a burst of upstream traffic. Every task waits its turn in the
// queue, then the worker sleeps a randomized inter-task delay before
// running the next one.
package shaper

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

// Status is a snapshot of the shaper's queue depth and busy state, used for
// diagnostics endpoints.
type Status struct {
	Processing bool `json:"processing"`
	Queued     int  `json:"queued"`
}

type task struct {
	fn   func(ctx context.Context) (interface{}, error)
	done chan result
}

type result struct {
	value interface{}
	err   error
}

// Shaper serializes execution of submitted tasks behind a single worker
// goroutine, sleeping MinDelayMs (+/- up to JitterMs) between tasks.
type Shaper struct {
	MinDelayMs int64
	JitterMs   int64

	mu      sync.Mutex
	queue   *list.List
	running bool
	notify  chan struct{}

	// lastDone is when the previous task finished; the inter-task delay is
	// measured from here, so time the queue spent idle counts against it.
	lastDone time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Shaper and starts its worker goroutine. Call Stop to shut it
// down.
func New(minDelayMs, jitterMs int64) *Shaper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Shaper{
		MinDelayMs: minDelayMs,
		JitterMs:   jitterMs,
		queue:      list.New(),
		notify:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.worker()
	return s
}

// Stop cancels the worker and waits for it to exit. Queued tasks that have
// not started receive context.Canceled.
func (s *Shaper) Stop() {
	s.cancel()
	<-s.done
}

// Submit enqueues fn and blocks until it has run (or the context is
// cancelled while waiting in queue), returning its result.
func (s *Shaper) Submit(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	t := &task{fn: fn, done: make(chan result, 1)}

	s.mu.Lock()
	s.queue.PushBack(t)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}

	select {
	case r := <-t.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *Shaper) worker() {
	defer close(s.done)
	for {
		s.mu.Lock()
		front := s.queue.Front()
		if front == nil {
			s.running = false
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.ctx.Done():
				return
			}
		}
		s.running = true
		s.queue.Remove(front)
		lastDone := s.lastDone
		s.mu.Unlock()

		// Required gap since the previous task finished; whatever already
		// elapsed while the queue sat idle is credited.
		if !lastDone.IsZero() {
			required := time.Duration(s.MinDelayMs+utils.GenerateJitterPositive(s.JitterMs)) * time.Millisecond
			if wait := required - time.Since(lastDone); wait > 0 {
				select {
				case <-time.After(wait):
				case <-s.ctx.Done():
					front.Value.(*task).done <- result{nil, s.ctx.Err()}
					return
				}
			}
		}

		t := front.Value.(*task)
		v, err := t.fn(s.ctx)

		s.mu.Lock()
		s.lastDone = time.Now()
		s.mu.Unlock()

		t.done <- result{v, err}
	}
}

// Status returns a snapshot of the current queue state.
func (s *Shaper) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Processing: s.running,
		Queued:     s.queue.Len(),
	}
}

package geminiapi

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for calls submitted after Close.
var ErrClosed = errors.New("request queue closed")

// queue runs submitted calls one at a time in submission order.
type queue struct {
	mu      sync.Mutex
	pending []*job
	wake    chan struct{}
	closed  bool
	done    chan struct{}
}

type job struct {
	ctx    context.Context
	fn     func(context.Context) (string, error)
	result chan jobResult
}

type jobResult struct {
	output string
	err    error
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Do enqueues fn and waits for its result. A call whose ctx ends while it
// is still waiting is skipped by the worker.
func (q *queue) Do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	j := &job{ctx: ctx, fn: fn, result: make(chan jobResult, 1)}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-j.result:
		return res.output, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports how many calls are waiting, excluding the running one.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

func (q *queue) run() {
	for {
		j := q.next()
		if j == nil {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				q.drain()
				return
			}
		}
		if j.ctx.Err() != nil {
			j.result <- jobResult{err: j.ctx.Err()}
			continue
		}
		output, err := j.fn(j.ctx)
		j.result <- jobResult{output: output, err: err}
	}
}

func (q *queue) next() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return j
}

func (q *queue) drain() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, j := range pending {
		j.result <- jobResult{err: ErrClosed}
	}
}

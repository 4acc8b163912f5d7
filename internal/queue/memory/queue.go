// Package memory provides the in-process run queue that hands accepted audits
// to background workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = audit.ErrQueueClosed

// ErrFull is returned by TryEnqueue when no capacity is left.
var ErrFull = errors.New("queue full")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan audit.RunRequest
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan audit.RunRequest, capacity),
	}
}

// Enqueue blocks until the request is accepted or the context ends.
func (q *Queue) Enqueue(ctx context.Context, req audit.RunRequest) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// TryEnqueue accepts the request only if capacity is available right now.
func (q *Queue) TryEnqueue(req audit.RunRequest) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (audit.RunRequest, error) {
	select {
	case <-ctx.Done():
		return audit.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return audit.RunRequest{}, ErrClosed
		}
		return req, nil
	}
}

// Len reports buffered requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain removes every buffered request without blocking.
func (q *Queue) Drain() []audit.RunRequest {
	var out []audit.RunRequest
	for {
		select {
		case req, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, req)
		default:
			return out
		}
	}
}

// Close stops accepting requests. Buffered requests can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

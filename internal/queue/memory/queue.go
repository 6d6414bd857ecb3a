// Package memory provides the in-process run queue used by the HTTP server.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-harvester/internal/pipeline"
)

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of run requests with context-aware operations.
type Queue struct {
	ch      chan pipeline.RunRequest
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity pending runs.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan pipeline.RunRequest, capacity)}
}

// Enqueue pushes a request or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, req pipeline.RunRequest) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.RunRequest, error) {
	select {
	case <-ctx.Done():
		return pipeline.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return pipeline.RunRequest{}, ErrQueueClosed
		}
		return req, nil
	}
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

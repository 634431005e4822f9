/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errQueueClosed is returned by Poll and Publish after Close.
var errQueueClosed = errors.New("queue is closed")

// InMemQueue is a process-local Consumer and Producer used by tests. Enqueue
// feeds requests, Poll drains them, and replies are collected per subject.
type InMemQueue struct {
	mu      sync.Mutex
	pending []Envelope
	replies map[string][]*Response
	closed  bool
}

// NewInMemQueue creates an empty queue.
func NewInMemQueue() *InMemQueue {
	return &InMemQueue{replies: map[string][]*Response{}}
}

// Enqueue appends request envelopes for the next Poll.
func (q *InMemQueue) Enqueue(envs ...Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, envs...)
}

// Poll drains everything enqueued so far, pausing briefly when the queue is
// empty so callers can poll in a tight loop.
func (q *InMemQueue) Poll(ctx context.Context) ([]Envelope, error) {
	if batch, err := q.drain(); err != nil || len(batch) > 0 {
		return batch, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return q.drain()
}

func (q *InMemQueue) drain() ([]Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errQueueClosed
	}
	batch := q.pending
	q.pending = nil
	return batch, nil
}

// Commit is a no-op; the in-memory queue has no redelivery.
func (q *InMemQueue) Commit(ctx context.Context) error { return nil }

// Publish records a reply under its subject.
func (q *InMemQueue) Publish(ctx context.Context, subject string, resp *Response) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	q.replies[subject] = append(q.replies[subject], resp)
	return nil
}

// Replies returns the replies published to a subject, in order.
func (q *InMemQueue) Replies(subject string) []*Response {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Response(nil), q.replies[subject]...)
}

// Close marks the queue closed; later Poll and Publish calls fail.
func (q *InMemQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the bounded transfer queues that connect
// the job source to processing workers and workers to the status
// updater. A Queue is safe for any number of concurrent producers and
// consumers; items are consumed exactly once.
package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Put/TryPut after Close, and by
	// Get/TryGet once a closed queue has been drained.
	ErrClosed = errors.New("queue is closed")

	// ErrFull is returned by TryPut when the queue is at capacity.
	ErrFull = errors.New("queue is full")

	// ErrEmpty is returned by TryGet when no item is buffered.
	ErrEmpty = errors.New("queue is empty")

	// ErrTimeout is returned by Get when the timeout elapses
	// before an item arrives.
	ErrTimeout = errors.New("timed out waiting for item")
)

// Queue is a bounded FIFO with blocking and non-blocking put/get.
type Queue[T any] struct {
	ch        chan T
	closed    chan struct{}
	closeOnce sync.Once
}

// New returns an empty Queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Put appends item, blocking while the queue is full. It returns
// ErrClosed if the queue is closed before space becomes available.
func (q *Queue[T]) Put(item T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	case <-q.closed:
		return ErrClosed
	}
}

// TryPut appends item without blocking. It returns ErrFull if the
// queue is at capacity, or ErrClosed if the queue is closed.
func (q *Queue[T]) TryPut(item T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Get removes and returns the oldest item, blocking up to timeout. It
// returns ErrTimeout if no item arrives in time, or ErrClosed once
// the queue is closed and drained. Items buffered at close time are
// still delivered.
func (q *Queue[T]) Get(timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		return item, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-q.closed:
		// Drain remaining items before reporting closed.
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, ErrClosed
		}
	}
}

// TryGet removes and returns the oldest item without blocking. It
// returns ErrEmpty if nothing is buffered, or ErrClosed if the queue
// is closed and drained.
func (q *Queue[T]) TryGet() (T, error) {
	var zero T
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case <-q.closed:
		return zero, ErrClosed
	default:
		return zero, ErrEmpty
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close marks the queue closed. Blocked and subsequent puts fail with
// ErrClosed; gets keep returning buffered items until the queue is
// drained. Close is idempotent.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

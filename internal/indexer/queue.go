package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MessageKind tells a worker what to index.
type MessageKind string

const (
	MessageDir  MessageKind = "dir"
	MessageFile MessageKind = "file"
)

// Message is one unit of parallel reindex work.
type Message struct {
	Kind MessageKind `json:"kind"`
	Path string      `json:"path"`
	Size int64       `json:"size,omitempty"`
}

// ErrQueueSealed is returned by Pop once the queue is sealed and empty, and
// by Push after Seal.
var ErrQueueSealed = errors.New("queue sealed")

// Queue carries messages from the walking producer to the workers.
//
// Every message returned by Pop must be acknowledged with Done. WaitDrained
// blocks until every pushed message has been acknowledged, which is the
// barrier the producer uses between tree levels.
type Queue interface {
	Push(ctx context.Context, msg Message) error
	Pop(ctx context.Context) (Message, error)
	Done()
	WaitDrained(ctx context.Context) error

	// Seal stops intake. Workers drain what is left and then get
	// ErrQueueSealed.
	Seal()

	// Purge drops every queued message and reopens a sealed queue.
	Purge() error

	Len() int
	Close() error
}

// queueStore holds the queued messages. Concurrency is managed by
// workQueue.mu, so stores do not need to be safe for concurrent use.
type queueStore interface {
	// Append adds a message at the tail.
	Append(msg Message) error

	// Shift removes and returns the head message. ok is false when the
	// store is empty.
	Shift() (msg Message, ok bool, err error)

	// Len returns the number of stored messages.
	Len() int

	// Purge removes every message.
	Purge() error

	Close() error
}

// workQueue implements Queue on top of a pluggable queueStore. All blocking
// and acknowledgement logic lives here.
type workQueue struct {
	store    queueStore
	capacity int

	mu      sync.Mutex
	pending int // pushed and not yet acknowledged
	sealed  bool
	wake    chan struct{}
}

func newWorkQueue(store queueStore, capacity int) *workQueue {
	return &workQueue{
		store:    store,
		capacity: capacity,
		pending:  store.Len(),
		wake:     make(chan struct{}),
	}
}

// broadcast wakes every waiter. Callers hold q.mu.
func (q *workQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// wait releases q.mu until the next broadcast or ctx is done.
func (q *workQueue) wait(ctx context.Context) error {
	wake := q.wake
	q.mu.Unlock()
	select {
	case <-wake:
		q.mu.Lock()
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		return ctx.Err()
	}
}

// Push appends msg, blocking while a bounded queue is full.
func (q *workQueue) Push(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && q.store.Len() >= q.capacity && !q.sealed {
		if err := q.wait(ctx); err != nil {
			return err
		}
	}
	if q.sealed {
		return ErrQueueSealed
	}
	if err := q.store.Append(msg); err != nil {
		return fmt.Errorf("queueing %s: %w", msg.Path, err)
	}
	q.pending++
	q.broadcast()
	return nil
}

// Pop blocks until a message is available, the queue is sealed and empty,
// or ctx is done.
func (q *workQueue) Pop(ctx context.Context) (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.store.Len() > 0 {
			msg, ok, err := q.store.Shift()
			if err != nil {
				return Message{}, fmt.Errorf("dequeueing: %w", err)
			}
			if ok {
				q.broadcast()
				return msg, nil
			}
		}
		if q.sealed {
			return Message{}, ErrQueueSealed
		}
		if err := q.wait(ctx); err != nil {
			return Message{}, err
		}
	}
}

func (q *workQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending > 0 {
		q.pending--
	}
	if q.pending == 0 {
		q.broadcast()
	}
}

func (q *workQueue) WaitDrained(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		if err := q.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (q *workQueue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sealed = true
	q.broadcast()
}

func (q *workQueue) Purge() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Purge(); err != nil {
		return fmt.Errorf("purging queue: %w", err)
	}
	q.pending = 0
	q.sealed = false
	q.broadcast()
	return nil
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Len()
}

func (q *workQueue) Close() error {
	q.Seal()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Close()
}

var _ Queue = (*workQueue)(nil)

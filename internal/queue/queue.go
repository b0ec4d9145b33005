package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrTooManyDone is returned when MarkDone is called more often than entries were pushed.
var ErrTooManyDone = errors.New("MarkDone called more times than entries were pushed")

// Queue is an unbounded, thread-safe FIFO shared by one producer (the
// orchestrator) and many consumers (workers). Each popped entry goes to exactly
// one caller. Completion is tracked separately: every Push increments the
// unfinished count and every MarkDone decrements it.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	items      []Entry
	head       int
	unfinished int
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends e. It never blocks.
func (q *Queue) Push(e Entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.unfinished++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pop removes and returns the oldest entry, blocking until one is available or
// ctx is done.
func (q *Queue) Pop(ctx context.Context) (Entry, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
		q.cond.Wait()
	}

	e := q.items[q.head]
	q.items[q.head] = Entry{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return e, nil
}

// MarkDone records that a previously popped entry has been fully processed.
func (q *Queue) MarkDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return ErrTooManyDone
	}
	q.unfinished--
	if q.unfinished == 0 {
		q.cond.Broadcast()
	}
	return nil
}

// WaitAllDone blocks until every pushed entry has been marked done or ctx is done.
func (q *Queue) WaitAllDone(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.unfinished > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// IsEmpty reports whether no unclaimed entries remain.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of unclaimed entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Remaining returns a copy of the unclaimed entries, oldest first.
func (q *Queue) Remaining() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	return out
}

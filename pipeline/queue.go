package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aluiziolira/wiki-animals-harvester/models"
)

// Queue is a bounded FIFO with completion tracking. Every item taken with
// Get must be acknowledged with Done; Join returns once every item ever Put
// has been acknowledged.
type Queue[T any] struct {
	items chan T

	mu         sync.Mutex // guards unfinished/idle
	unfinished int64
	idle       chan struct{} // closed while unfinished == 0

	puts  atomic.Int64
	gets  atomic.Int64
	dones atomic.Int64
}

// NewQueue builds a queue holding at most capacity buffered items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		items: make(chan T, capacity),
		idle:  idle,
	}
}

// Put blocks until there is room for item or ctx is done.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Count the item before it becomes visible so Join never observes a
	// consumer finishing it first.
	q.mu.Lock()
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++
	q.mu.Unlock()

	select {
	case q.items <- item:
		q.puts.Add(1)
		return nil
	case <-ctx.Done():
		q.release(false)
		return ctx.Err()
	}
}

// Get blocks until an item is available or ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	select {
	case item := <-q.items:
		q.gets.Add(1)
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done marks one item returned by Get as processed. It panics when called
// more times than items were put.
func (q *Queue[T]) Done() {
	q.release(true)
}

// Join blocks until every item put so far has been marked done, or ctx is done.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Unfinished returns how many items are buffered or in flight.
func (q *Queue[T]) Unfinished() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() models.QueueStats {
	return models.QueueStats{
		Capacity:   q.Cap(),
		Buffered:   q.Len(),
		Unfinished: q.Unfinished(),
		Puts:       q.puts.Load(),
		Gets:       q.gets.Load(),
		Dones:      q.dones.Load(),
	}
}

func (q *Queue[T]) release(done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished <= 0 {
		panic("pipeline: Done called too many times")
	}
	q.unfinished--
	if done {
		q.dones.Add(1)
	}
	if q.unfinished == 0 {
		close(q.idle)
	}
}

// Package queue provides the bounded hand-off between the stream receive
// loop and the single processing loop.
package queue

import (
	"context"
	"sync/atomic"

	"polyswarm/internal/model"
)

// Queue is a bounded FIFO of admitted trade events. Offer never blocks the
// producer: when the buffer is full the newest event is dropped and counted.
// Take parks the single consumer until an event or cancellation arrives.
type Queue struct {
	ch      chan model.TradeEvent
	dropped atomic.Int64
}

// New constructs a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		panic("queue capacity must be positive")
	}
	return &Queue{ch: make(chan model.TradeEvent, capacity)}
}

// Offer enqueues the event without blocking. Returns false when the queue is
// full and the event was dropped.
func (q *Queue) Offer(ev model.TradeEvent) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Take blocks until an event is available or ctx is cancelled.
func (q *Queue) Take(ctx context.Context) (model.TradeEvent, error) {
	select {
	case <-ctx.Done():
		return model.TradeEvent{}, ctx.Err()
	case ev := <-q.ch:
		return ev, nil
	}
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped reports how many events were rejected by a full queue.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

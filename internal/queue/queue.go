// Package queue provides the bounded hand-off between producer and consumer.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 1000

// ErrClosed is returned by Put after Close, and by Take once a closed
// queue has been drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of transactions with blocking Put and Take.
type Queue struct {
	items     chan domain.Transaction
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding up to capacity transactions.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items: make(chan domain.Transaction, capacity),
		done:  make(chan struct{}),
	}
}

// Put enqueues tx, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, tx domain.Transaction) error {
	// Checked first so a closed queue never accepts items, even with free space.
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- tx:
		metrics.QueueDepth.Set(float64(len(q.items)))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take dequeues the oldest transaction, blocking while the queue is empty.
// After Close it keeps returning buffered items, then ErrClosed.
func (q *Queue) Take(ctx context.Context) (domain.Transaction, error) {
	select {
	case tx := <-q.items:
		metrics.QueueDepth.Set(float64(len(q.items)))
		return tx, nil
	default:
	}

	select {
	case tx := <-q.items:
		metrics.QueueDepth.Set(float64(len(q.items)))
		return tx, nil
	case <-q.done:
		select {
		case tx := <-q.items:
			metrics.QueueDepth.Set(float64(len(q.items)))
			return tx, nil
		default:
			return domain.Transaction{}, ErrClosed
		}
	case <-ctx.Done():
		return domain.Transaction{}, ctx.Err()
	}
}

// Close releases all blocked producers and consumers. Safe to call repeatedly.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered transactions.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.items) }

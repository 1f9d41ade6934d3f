package entitlement

import (
	"context"
	"sync"
)

// DriftQueue is a DriftSink that the Reconciler drains.
type DriftQueue interface {
	DriftSink
	// Next blocks until a report is available or ctx ends.
	Next(ctx context.Context) (*DriftReport, error)
}

// MemoryDriftQueue is a bounded in-process DriftQueue. A user with a report
// already waiting is not queued twice.
type MemoryDriftQueue struct {
	mu      sync.Mutex
	ch      chan *DriftReport
	pending map[string]struct{}
}

// NewMemoryDriftQueue creates a queue holding up to capacity reports.
func NewMemoryDriftQueue(capacity int) *MemoryDriftQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryDriftQueue{
		ch:      make(chan *DriftReport, capacity),
		pending: make(map[string]struct{}),
	}
}

func (q *MemoryDriftQueue) Publish(ctx context.Context, report *DriftReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[report.UserID]; ok {
		return nil
	}
	cp := *report
	select {
	case q.ch <- &cp:
		q.pending[report.UserID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryDriftQueue) Next(ctx context.Context) (*DriftReport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-q.ch:
		q.mu.Lock()
		delete(q.pending, r.UserID)
		q.mu.Unlock()
		return r, nil
	}
}

// Len returns the number of queued reports.
func (q *MemoryDriftQueue) Len() int {
	return len(q.ch)
}

package queue

import (
	"context"

	"github.com/mau5law/ragcore/internal/ragerr"
)

// FakeQueue is an in-memory, unbuffered-by-default Port for tests. A
// positive capacity lets tests exercise SERVICE_UNAVAILABLE backpressure.
type FakeQueue struct {
	ch chan Job
}

// NewFakeQueue builds a queue with the given capacity (0 means unbuffered).
func NewFakeQueue(capacity int) *FakeQueue {
	return &FakeQueue{ch: make(chan Job, capacity)}
}

func (f *FakeQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case f.ch <- job:
		return nil
	default:
		return ragerr.New(ragerr.ServiceUnavailable, "ingestion queue is at capacity")
	}
}

func (f *FakeQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-f.ch:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

var _ Port = (*FakeQueue)(nil)

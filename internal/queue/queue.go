// Package queue defines the document-processing job queue boundary: a
// Redis-list implementation for deployments and an in-memory fake for tests.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is the envelope the async processor claims and executes. It names a
// document that has already been persisted in PENDING status; the job
// itself carries no payload beyond the identifiers needed to re-fetch it.
type Job struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	DocumentID  uuid.UUID
	Enqueued    time.Time
}

// Port is the job queue boundary. Enqueue must never block the caller on
// worker availability; that is the processor's concern, not the producer's.
type Port interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is cancelled.
	Dequeue(ctx context.Context) (Job, error)
}

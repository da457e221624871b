// Package audit defines the append-only event sink the answer orchestrator,
// ingestion pipeline, and reprocess path write to. Actions recorded:
// documents.ingest, documents.reprocess, rag.answer, rag.refusal.
package audit

import (
	"context"

	"github.com/mau5law/ragcore/internal/domain"
)

// Sink is the audit boundary. Record must never fail a caller's primary
// operation; implementations that front a database should log and swallow
// write errors rather than propagate them into request paths.
type Sink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// InMemorySink collects events for tests and local development.
type InMemorySink struct {
	events []domain.AuditEvent
}

// NewInMemorySink builds an empty sink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) Record(ctx context.Context, event domain.AuditEvent) error {
	s.events = append(s.events, event)
	return nil
}

// Events returns all recorded events in insertion order.
func (s *InMemorySink) Events() []domain.AuditEvent {
	return append([]domain.AuditEvent(nil), s.events...)
}

var _ Sink = (*InMemorySink)(nil)

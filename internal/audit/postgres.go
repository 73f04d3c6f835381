package audit

import (
	"context"

	"manuscript/api/internal/store"
)

type eventWriter interface {
	InsertAuditEvent(ctx context.Context, event store.AuditEvent) error
}

// StoreSink appends events to the audit_events table.
type StoreSink struct {
	store eventWriter
}

func NewStoreSink(store eventWriter) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Write(ctx context.Context, event Event) error {
	return s.store.InsertAuditEvent(ctx, store.AuditEvent{
		EventType:    event.EventType,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		UserID:       event.UserID,
		Details:      event.Details,
		CreatedAt:    event.OccurredAt,
	})
}

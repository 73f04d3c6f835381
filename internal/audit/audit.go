// Package audit delivers mutation events to external sinks without ever
// blocking or failing the mutation that produced them.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event is the record handed to the audit collaborator.
type Event struct {
	EventType    string         `json:"eventType"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	UserID       string         `json:"userId"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

// Sink persists or forwards audit events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Write(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Emitter accepts events without waiting for delivery.
type Emitter interface {
	Emit(event Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

type multiSink []Sink

// Multi writes each event to every sink, joining their errors.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Write(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Write(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		slog.String("event_type", event.EventType),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("user_id", event.UserID),
		slog.Any("details", event.Details),
	)
	return nil
}

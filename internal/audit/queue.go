package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// Queue hands events to a single worker goroutine through a bounded buffer.
// Emit never blocks: when the buffer is full the event is dropped and logged.
type Queue struct {
	sink    Sink
	logger  *slog.Logger
	events  chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewQueue(sink Sink, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		sink:   sink,
		logger: logger,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Emit(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(event, "queue closed")
		return
	}
	select {
	case q.events <- event:
	default:
		q.drop(event, "queue full")
	}
}

// Dropped reports how many events were discarded without reaching the sink.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Failed reports how many sink writes returned an error or panicked.
func (q *Queue) Failed() int64 {
	return q.failed.Load()
}

// Close stops accepting events and waits for buffered ones to be written,
// or for ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for event := range q.events {
		if err := q.write(event); err != nil {
			q.failed.Add(1)
			q.logger.Warn("audit write failed",
				slog.String("event_type", event.EventType),
				slog.String("resource_id", event.ResourceID),
				slog.Any("error", err),
			)
		}
	}
}

// write delivers one event. A panicking sink is reported as an error so the
// worker keeps draining.
func (q *Queue) write(event Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()
	return q.sink.Write(ctx, event)
}

func (q *Queue) drop(event Event, reason string) {
	q.dropped.Add(1)
	q.logger.Warn("audit event dropped",
		slog.String("reason", reason),
		slog.String("event_type", event.EventType),
		slog.String("resource_id", event.ResourceID),
	)
}

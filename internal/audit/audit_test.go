package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manuscript/api/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Write(_ context.Context, event Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestQueueDeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(sink, 8, quietLogger())

	for _, id := range []string{"a", "b", "c"} {
		q.Emit(Event{EventType: "branch.create", ResourceID: id})
	}
	require.NoError(t, q.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].ResourceID)
	assert.Equal(t, "c", events[2].ResourceID)
	assert.False(t, events[0].OccurredAt.IsZero())
	assert.Zero(t, q.Dropped())
}

func TestQueueDropsWhenFullWithoutBlocking(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	q := NewQueue(sink, 1, quietLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Emit(Event{EventType: "revision.create"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	assert.Positive(t, q.Dropped())

	close(sink.block)
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueSwallowsSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	q := NewQueue(sink, 4, quietLogger())
	q.Emit(Event{EventType: "branch.archive"})
	require.NoError(t, q.Close(context.Background()))
	assert.EqualValues(t, 1, q.Failed())
}

func TestQueueEmitAfterCloseIsDropped(t *testing.T) {
	q := NewQueue(&recordingSink{}, 4, quietLogger())
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()))
	q.Emit(Event{EventType: "branch.delete"})
	assert.EqualValues(t, 1, q.Dropped())
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("nope") })
	err := Multi(ok, failing).Write(context.Background(), Event{EventType: "x"})
	require.Error(t, err)
	assert.Len(t, ok.snapshot(), 1)
}

func TestStoreSinkWritesAuditRow(t *testing.T) {
	mem := store.NewMemoryStore()
	sink := NewStoreSink(mem)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Write(context.Background(), Event{
		EventType:    "branch.merge",
		ResourceType: "branch",
		ResourceID:   "br_1",
		UserID:       "u1",
		Details:      map[string]any{"mergeType": "squash"},
		OccurredAt:   at,
	}))

	rows := mem.AuditEvents()
	require.Len(t, rows, 1)
	assert.Equal(t, "branch.merge", rows[0].EventType)
	assert.Equal(t, "squash", rows[0].Details["mergeType"])
	assert.Equal(t, at, rows[0].CreatedAt)
}

func TestRedisStreamSinkAppendsEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	sink, err := NewRedisStreamSink("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Ping(ctx))
	require.NoError(t, sink.Write(ctx, Event{
		EventType:    "revision.create",
		ResourceType: "revision",
		ResourceID:   "rev_1",
		UserID:       "u1",
		Details:      map[string]any{"revisionNumber": 3},
	}))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	entries, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "revision.create", entries[0].Values["event_type"])
	assert.Equal(t, "rev_1", entries[0].Values["resource_id"])

	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["details"].(string)), &details))
	assert.EqualValues(t, 3, details["revisionNumber"])
}

func TestNewRedisStreamSinkRejectsBadURL(t *testing.T) {
	_, err := NewRedisStreamSink("not-a-url", "")
	assert.Error(t, err)
}

func TestQueueSurvivesPanickingSink(t *testing.T) {
	sink := &recordingSink{}
	calls := 0
	q := NewQueue(SinkFunc(func(ctx context.Context, event Event) error {
		calls++
		if calls == 1 {
			panic("sink exploded")
		}
		return sink.Write(ctx, event)
	}), 4, quietLogger())

	q.Emit(Event{EventType: "branch.create", ResourceID: "a"})
	q.Emit(Event{EventType: "branch.create", ResourceID: "b"})
	require.NoError(t, q.Close(context.Background()))

	assert.EqualValues(t, 1, q.Failed())
	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].ResourceID)
}

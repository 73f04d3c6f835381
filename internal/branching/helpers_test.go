package branching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"manuscript/api/internal/audit"
	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

const testDoc = "doc1"

// tickClock advances one second per reading so UpdatedAt ordering is stable.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickClock() *tickClock {
	return &tickClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, event := range r.events {
		out[i] = event.EventType
	}
	return out
}

func (r *recordingEmitter) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	repo := store.NewMemoryStore()
	return NewService(repo, append([]Option{WithClock(newTickClock().Now)}, opts...)...), repo
}

func mustBranch(t *testing.T, svc *Service, name string) store.Branch {
	t.Helper()
	branch, err := svc.CreateBranch(context.Background(), CreateBranchInput{
		DocumentID: testDoc,
		BranchName: name,
		CreatedBy:  "alice",
	})
	require.NoError(t, err)
	return branch
}

func mustCommit(t *testing.T, svc *Service, branchID string, pairs ...string) store.Revision {
	t.Helper()
	revision, err := svc.CreateRevision(context.Background(), CreateRevisionInput{
		BranchID:      branchID,
		Content:       sections.New(pairs...),
		CommitMessage: "edit",
		CreatedBy:     "alice",
	})
	require.NoError(t, err)
	return revision
}

var errInjected = errors.New("injected failure")

// failingRepo fails one step inside every transaction.
type failingRepo struct {
	*store.MemoryStore
	failOn string
}

func (r failingRepo) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	return r.MemoryStore.WithTx(ctx, func(tx store.Tx) error {
		return fn(failingTx{Tx: tx, failOn: r.failOn})
	})
}

type failingTx struct {
	store.Tx
	failOn string
}

func (t failingTx) InsertRevision(ctx context.Context, revision store.Revision) error {
	if t.failOn == "revision" {
		return errInjected
	}
	return t.Tx.InsertRevision(ctx, revision)
}

func (t failingTx) UpdateBranchCache(ctx context.Context, branchID, hash string, counts map[string]int, at time.Time) error {
	if t.failOn == "cache" {
		return errInjected
	}
	return t.Tx.UpdateBranchCache(ctx, branchID, hash, counts, at)
}

func (t failingTx) InsertMergeAttempt(ctx context.Context, attempt store.MergeAttempt) (store.MergeAttempt, error) {
	if t.failOn == "merge" {
		return store.MergeAttempt{}, errInjected
	}
	return t.Tx.InsertMergeAttempt(ctx, attempt)
}

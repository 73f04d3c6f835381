package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"manuscript/api/internal/sections"
)

func seedBranch(t *testing.T, s *MemoryStore, id, name string, at time.Time) {
	t.Helper()
	err := s.InsertBranch(context.Background(), Branch{
		ID:         id,
		DocumentID: "doc_1",
		BranchName: name,
		Status:     StatusActive,
		CreatedBy:  "u1",
		CreatedAt:  at,
	})
	if err != nil {
		t.Fatalf("insert branch %s: %v", id, err)
	}
}

func TestMemoryStoreRejectsDuplicateLiveName(t *testing.T) {
	s := NewMemoryStore()
	seedBranch(t, s, "br_1", "draft", time.Now())

	err := s.InsertBranch(context.Background(), Branch{ID: "br_2", DocumentID: "doc_1", BranchName: "draft"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	other := Branch{ID: "br_3", DocumentID: "doc_2", BranchName: "draft"}
	if err := s.InsertBranch(context.Background(), other); err != nil {
		t.Fatalf("same name in another document should be allowed: %v", err)
	}
}

func TestMemoryStoreListBranchesOrdering(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedBranch(t, s, "br_old", "old", base)
	seedBranch(t, s, "br_main", MainBranch, base.Add(-time.Hour))
	seedBranch(t, s, "br_new", "new", base.Add(time.Hour))
	seedBranch(t, s, "br_arch", "shelved", base.Add(2*time.Hour))
	if _, _, err := s.SetBranchStatus(context.Background(), "br_arch", StatusArchived); err != nil {
		t.Fatalf("archive: %v", err)
	}

	items, err := s.ListBranches(context.Background(), "doc_1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.ID)
	}
	want := []string{"br_main", "br_new", "br_old"}
	if len(got) != len(want) {
		t.Fatalf("ListBranches = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListBranches = %v, want %v", got, want)
		}
	}

	items, err = s.ListBranches(context.Background(), "doc_1", true)
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(items) != 4 || items[1].ID != "br_arch" {
		t.Fatalf("expected archived branch second when included, got %+v", items)
	}
}

func TestMemoryStoreFailedTxLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	seedBranch(t, s, "br_1", "draft", time.Now())
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		n, err := tx.NextRevisionNumber(ctx, "br_1")
		if err != nil {
			return err
		}
		if err := tx.InsertRevision(ctx, Revision{ID: "rev_x", BranchID: "br_1", RevisionNumber: n, Content: sections.New("a", "b")}); err != nil {
			return err
		}
		if err := tx.MarkBranchMerged(ctx, "br_1", "u1", time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.GetLatestRevision(ctx, "br_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revision should not persist, got %v", err)
	}
	branch, err := s.GetBranch(ctx, "br_1")
	if err != nil {
		t.Fatalf("get branch: %v", err)
	}
	if branch.Status != StatusActive {
		t.Fatalf("status = %s, want active", branch.Status)
	}

	err = s.WithTx(ctx, func(tx Tx) error {
		n, err := tx.NextRevisionNumber(ctx, "br_1")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("revision number after rollback = %d, want 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second tx: %v", err)
	}
}

func TestMemoryStoreRevisionsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	seedBranch(t, s, "br_1", "draft", time.Now())
	ctx := context.Background()

	content := sections.New("title", "One")
	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.InsertRevision(ctx, Revision{ID: "rev_1", BranchID: "br_1", RevisionNumber: 1, Content: content})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	content.Set("title", "Changed")

	got, err := s.GetRevision(ctx, "br_1", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _ := got.Content.Get("title"); v != "One" {
		t.Fatalf("stored content mutated: %q", v)
	}
}

func TestMemoryStoreListRevisionsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	seedBranch(t, s, "br_1", "draft", time.Now())
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		err := s.WithTx(ctx, func(tx Tx) error {
			n, err := tx.NextRevisionNumber(ctx, "br_1")
			if err != nil {
				return err
			}
			return tx.InsertRevision(ctx, Revision{ID: "rev_" + string(rune('0'+n)), BranchID: "br_1", RevisionNumber: n})
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	items, err := s.ListRevisions(ctx, "br_1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].RevisionNumber != 3 || items[1].RevisionNumber != 2 {
		t.Fatalf("unexpected revisions: %+v", items)
	}
}

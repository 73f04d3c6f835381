package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

func testBranch(id, name, parent string) store.Branch {
	return store.Branch{ID: id, DocumentID: "doc-1", BranchName: name, ParentBranch: parent}
}

func testRevision(branchID string, number int, content sections.Content) store.Revision {
	return store.Revision{
		ID:             fmt.Sprintf("rev-%s-%d", branchID, number),
		BranchID:       branchID,
		RevisionNumber: number,
		Content:        content,
		CommitMessage:  fmt.Sprintf("Revision %d of %s", number, branchID),
		CreatedBy:      "Avery Lin",
		CreatedAt:      time.Date(2026, 5, 1, 10, number, 0, 0, time.UTC),
	}
}

func TestMirrorRevisionLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	ctx := context.Background()
	main := testBranch("br_main", store.MainBranch, "")

	first := sections.New("title", "Draft", "methods", "Survey")
	if err := svc.MirrorRevision(ctx, main, testRevision(main.ID, 1, first)); err != nil {
		t.Fatalf("MirrorRevision(1) error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1", ".git")); err != nil {
		t.Fatalf("repo missing: %v", err)
	}

	second := sections.New("title", "Draft", "methods", "Survey of 40 sites")
	if err := svc.MirrorRevision(ctx, main, testRevision(main.ID, 2, second)); err != nil {
		t.Fatalf("MirrorRevision(2) error = %v", err)
	}

	history, err := svc.History("doc-1", store.MainBranch, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].RevisionNumber != 2 || history[0].BranchID != main.ID {
		t.Fatalf("unexpected head commit: %+v", history[0])
	}
	if history[0].Message != "Revision 2 of br_main" || history[0].Author != "Avery Lin" {
		t.Fatalf("unexpected head commit metadata: %+v", history[0])
	}

	content, _, err := svc.HeadContent("doc-1", store.MainBranch)
	if err != nil {
		t.Fatalf("HeadContent() error = %v", err)
	}
	if !content.Equal(second) {
		t.Fatalf("head content = %v, want %v", content.Map(), second.Map())
	}
	if keys := content.Keys(); keys[0] != "title" || keys[1] != "methods" {
		t.Fatalf("section order lost: %v", keys)
	}
}

func TestMirrorRevisionSkipsStaleRevisions(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()
	main := testBranch("br_main", store.MainBranch, "")

	if err := svc.MirrorRevision(ctx, main, testRevision(main.ID, 2, sections.New("a", "two"))); err != nil {
		t.Fatalf("MirrorRevision(2) error = %v", err)
	}
	if err := svc.MirrorRevision(ctx, main, testRevision(main.ID, 1, sections.New("a", "one"))); err != nil {
		t.Fatalf("MirrorRevision(1) error = %v", err)
	}
	if err := svc.MirrorRevision(ctx, main, testRevision(main.ID, 2, sections.New("a", "two again"))); err != nil {
		t.Fatalf("MirrorRevision(2 replay) error = %v", err)
	}

	history, err := svc.History("doc-1", store.MainBranch, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected stale revisions to be skipped, got %d commits", len(history))
	}
}

func TestMirrorBranchStartsFromParent(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()
	main := testBranch("br_main", store.MainBranch, "")
	draft := testBranch("br_draft", "analysis-v2", store.MainBranch)

	if err := svc.MirrorRevision(ctx, main, testRevision(main.ID, 1, sections.New("a", "base"))); err != nil {
		t.Fatalf("mirror main: %v", err)
	}
	if err := svc.MirrorRevision(ctx, draft, testRevision(draft.ID, 1, sections.New("a", "branch"))); err != nil {
		t.Fatalf("mirror draft: %v", err)
	}

	history, err := svc.History("doc-1", "analysis-v2", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected draft history to include main's commit, got %d", len(history))
	}

	mainContent, _, err := svc.HeadContent("doc-1", store.MainBranch)
	if err != nil {
		t.Fatalf("HeadContent(main) error = %v", err)
	}
	if text, _ := mainContent.Get("a"); text != "base" {
		t.Fatalf("main moved: %q", text)
	}
}

func TestMirrorRetiresRefOfDeletedBranch(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()
	old := testBranch("br_old", "scratch", "")
	fresh := testBranch("br_new", "scratch", "")

	for n := 1; n <= 3; n++ {
		if err := svc.MirrorRevision(ctx, old, testRevision(old.ID, n, sections.New("a", fmt.Sprint(n)))); err != nil {
			t.Fatalf("mirror old %d: %v", n, err)
		}
	}
	if err := svc.MirrorRevision(ctx, fresh, testRevision(fresh.ID, 1, sections.New("a", "fresh"))); err != nil {
		t.Fatalf("mirror fresh: %v", err)
	}

	history, err := svc.History("doc-1", "scratch", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].BranchID != fresh.ID {
		t.Fatalf("expected a fresh git branch, got %+v", history)
	}
}

func TestConcurrentMirrorSameBranch(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()
	main := testBranch("br_main", store.MainBranch, "")

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := sections.New("purpose", fmt.Sprintf("purpose-%02d", n))
			if err := svc.MirrorRevision(ctx, main, testRevision(main.ID, n, content)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("MirrorRevision() concurrent error = %v", err)
	}

	history, err := svc.History("doc-1", store.MainBranch, 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) == 0 || len(history) > writers {
		t.Fatalf("unexpected history length %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i-1].RevisionNumber <= history[i].RevisionNumber {
			t.Fatalf("history not strictly descending: %+v", history)
		}
	}
}

func TestMirrorRevisionHonoursCancelledContext(t *testing.T) {
	svc := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.MirrorRevision(ctx, testBranch("br", "main", ""), testRevision("br", 1, sections.New()))
	if err == nil {
		t.Fatal("expected context error")
	}
}

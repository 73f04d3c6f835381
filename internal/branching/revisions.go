package branching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
	"manuscript/api/internal/util"
)

const DefaultRevisionLimit = 50

type CreateRevisionInput struct {
	BranchID      string           `json:"branchId"`
	Content       sections.Content `json:"content"`
	CommitMessage string           `json:"commitMessage"`
	CreatedBy     string           `json:"createdBy"`
}

// Comparison is the snapshot diff between two revisions of one branch.
type Comparison struct {
	BranchID string        `json:"branchId"`
	From     int           `json:"from"`
	To       int           `json:"to"`
	Diff     sections.Diff `json:"diff"`
	Changed  []string      `json:"changed"`
	Summary  string        `json:"summary"`
}

// RevisionStore appends to and reads from a branch's revision chain.
type RevisionStore struct {
	repo Repository
	now  func() time.Time
}

func NewRevisionStore(repo Repository) *RevisionStore {
	return &RevisionStore{repo: repo, now: utcNow}
}

// Create appends a revision and refreshes the branch's hash and word count
// cache in the same transaction.
func (s *RevisionStore) Create(ctx context.Context, in CreateRevisionInput) (store.Revision, error) {
	if err := validateRevisionInput(in); err != nil {
		return store.Revision{}, err
	}
	var created store.Revision
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		revision, err := s.append(ctx, tx, in)
		if err != nil {
			return err
		}
		created = revision
		return nil
	})
	if err != nil {
		return store.Revision{}, storageError("create revision", err)
	}
	return created, nil
}

// append writes the next revision inside tx. The sequencer call comes first
// so the branch row stays locked while the predecessor is read and diffed.
func (s *RevisionStore) append(ctx context.Context, tx store.Tx, in CreateRevisionInput) (store.Revision, error) {
	number, err := nextRevisionNumber(ctx, tx, in.BranchID)
	if err != nil {
		return store.Revision{}, err
	}

	branch, err := tx.GetBranch(ctx, in.BranchID)
	if err != nil {
		return store.Revision{}, notFound("load branch", err, ErrBranchNotFound)
	}
	if branch.Status == store.StatusDeleted {
		return store.Revision{}, fmt.Errorf("create revision on %s: %w", in.BranchID, ErrBranchNotFound)
	}

	previous := sections.Content{}
	if number > 1 {
		parent, err := tx.GetRevision(ctx, in.BranchID, number-1)
		if err != nil {
			return store.Revision{}, storageError(fmt.Sprintf("load revision %d", number-1), err)
		}
		previous = parent.Content
	}

	content := in.Content.Clone()
	diff := sections.Compute(previous, content)
	now := s.now()
	revision := store.Revision{
		ID:              util.NewID("rev"),
		BranchID:        in.BranchID,
		RevisionNumber:  number,
		Content:         content,
		SectionsChanged: diff.Changed(),
		DiffFromParent:  diff,
		WordCount:       content.WordCount(),
		CommitMessage:   strings.TrimSpace(in.CommitMessage),
		CreatedBy:       strings.TrimSpace(in.CreatedBy),
		CreatedAt:       now,
	}
	if err := tx.InsertRevision(ctx, revision); err != nil {
		return store.Revision{}, storageError("insert revision", err)
	}
	if err := tx.UpdateBranchCache(ctx, in.BranchID, sections.Hash(content), content.SectionWordCounts(), now); err != nil {
		return store.Revision{}, storageError("update branch cache", err)
	}
	return revision, nil
}

// nextRevisionNumber issues the branch's next revision number. The increment
// happens in storage and is rolled back with the transaction, so numbers stay
// gapless.
func nextRevisionNumber(ctx context.Context, tx store.Tx, branchID string) (int, error) {
	number, err := tx.NextRevisionNumber(ctx, branchID)
	if err != nil {
		return 0, notFound("next revision number", err, ErrBranchNotFound)
	}
	return number, nil
}

func (s *RevisionStore) Get(ctx context.Context, branchID string, number int) (store.Revision, error) {
	revision, err := s.repo.GetRevision(ctx, branchID, number)
	if err != nil {
		return store.Revision{}, notFound(fmt.Sprintf("get revision %d", number), err, ErrRevisionNotFound)
	}
	return revision, nil
}

// Latest returns nil when the branch exists but has no revisions yet.
func (s *RevisionStore) Latest(ctx context.Context, branchID string) (*store.Revision, error) {
	if _, err := s.repo.GetBranch(ctx, branchID); err != nil {
		return nil, notFound("get branch", err, ErrBranchNotFound)
	}
	revision, err := s.repo.GetLatestRevision(ctx, branchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get latest revision", err)
	}
	return &revision, nil
}

// List returns up to limit revisions, newest first.
func (s *RevisionStore) List(ctx context.Context, branchID string, limit int) ([]store.Revision, error) {
	if limit <= 0 {
		limit = DefaultRevisionLimit
	}
	if _, err := s.repo.GetBranch(ctx, branchID); err != nil {
		return nil, notFound("get branch", err, ErrBranchNotFound)
	}
	items, err := s.repo.ListRevisions(ctx, branchID, limit)
	if err != nil {
		return nil, storageError("list revisions", err)
	}
	return items, nil
}

// Compare diffs the two snapshots directly; intermediate revisions play no part.
func (s *RevisionStore) Compare(ctx context.Context, branchID string, from, to int) (Comparison, error) {
	var older, newer store.Revision
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		revision, err := s.Get(gctx, branchID, from)
		older = revision
		return err
	})
	g.Go(func() error {
		revision, err := s.Get(gctx, branchID, to)
		newer = revision
		return err
	})
	if err := g.Wait(); err != nil {
		return Comparison{}, err
	}

	diff := sections.Compute(older.Content, newer.Content)
	return Comparison{
		BranchID: branchID,
		From:     from,
		To:       to,
		Diff:     diff,
		Changed:  diff.Changed(),
		Summary:  diff.Summary(),
	}, nil
}

func validateRevisionInput(in CreateRevisionInput) error {
	if strings.TrimSpace(in.BranchID) == "" {
		return invalid("branchId is required")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return invalid("createdBy is required")
	}
	// JSON storage would replace invalid bytes with U+FFFD.
	for _, name := range in.Content.Keys() {
		text, _ := in.Content.Get(name)
		if !utf8.ValidString(name) || !utf8.ValidString(text) {
			return invalid("section %q is not valid UTF-8", name)
		}
	}
	return nil
}

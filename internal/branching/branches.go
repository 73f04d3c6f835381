package branching

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"manuscript/api/internal/store"
	"manuscript/api/internal/util"
)

const maxBranchNameLength = 100

// Branch names double as git ref names in the mirror.
var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

type CreateBranchInput struct {
	DocumentID   string `json:"documentId"`
	BranchName   string `json:"branchName"`
	ParentBranch string `json:"parentBranch"`
	Description  string `json:"description"`
	CreatedBy    string `json:"createdBy"`
}

// BranchStore owns branch metadata and its status lifecycle.
type BranchStore struct {
	repo Repository
	now  func() time.Time
}

func NewBranchStore(repo Repository) *BranchStore {
	return &BranchStore{repo: repo, now: utcNow}
}

func (s *BranchStore) Create(ctx context.Context, in CreateBranchInput) (store.Branch, error) {
	documentID := strings.TrimSpace(in.DocumentID)
	name := strings.TrimSpace(in.BranchName)
	createdBy := strings.TrimSpace(in.CreatedBy)
	if documentID == "" {
		return store.Branch{}, invalid("documentId is required")
	}
	if err := validateBranchName(name); err != nil {
		return store.Branch{}, err
	}
	if createdBy == "" {
		return store.Branch{}, invalid("createdBy is required")
	}

	parent := strings.TrimSpace(in.ParentBranch)
	if parent == "" && name != store.MainBranch {
		parent = store.MainBranch
	}

	now := s.now()
	branch := store.Branch{
		ID:                util.NewID("br"),
		DocumentID:        documentID,
		BranchName:        name,
		ParentBranch:      parent,
		Status:            store.StatusActive,
		Description:       strings.TrimSpace(in.Description),
		SectionWordCounts: map[string]int{},
		CreatedBy:         createdBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertBranch(ctx, branch); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Branch{}, fmt.Errorf("%w: %q already exists on document %s", ErrDuplicateBranchName, name, documentID)
		}
		return store.Branch{}, storageError("create branch", err)
	}
	return branch, nil
}

// Get returns the branch whatever its status, including deleted.
func (s *BranchStore) Get(ctx context.Context, branchID string) (store.Branch, error) {
	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		return store.Branch{}, notFound("get branch", err, ErrBranchNotFound)
	}
	return branch, nil
}

// live is Get restricted to branches that have not been deleted.
func (s *BranchStore) live(ctx context.Context, branchID string) (store.Branch, error) {
	branch, err := s.Get(ctx, branchID)
	if err != nil {
		return store.Branch{}, err
	}
	if branch.Status == store.StatusDeleted {
		return store.Branch{}, fmt.Errorf("get branch %s: %w", branchID, ErrBranchNotFound)
	}
	return branch, nil
}

func (s *BranchStore) GetByName(ctx context.Context, documentID, branchName string) (store.Branch, error) {
	branch, err := s.repo.GetBranchByName(ctx, documentID, branchName)
	if err != nil {
		return store.Branch{}, notFound("get branch by name", err, ErrBranchNotFound)
	}
	return branch, nil
}

// List returns main first, then the most recently updated branches.
func (s *BranchStore) List(ctx context.Context, documentID string, includeArchived bool) ([]store.Branch, error) {
	items, err := s.repo.ListBranches(ctx, documentID, includeArchived)
	if err != nil {
		return nil, storageError("list branches", err)
	}
	return items, nil
}

// Archive sets the branch archived. changed is false when it already was.
func (s *BranchStore) Archive(ctx context.Context, branchID string) (branch store.Branch, changed bool, err error) {
	branch, changed, err = s.repo.SetBranchStatus(ctx, branchID, store.StatusArchived)
	if err != nil {
		return store.Branch{}, false, notFound("archive branch", err, ErrBranchNotFound)
	}
	if branch.Status == store.StatusDeleted {
		return store.Branch{}, false, fmt.Errorf("archive branch %s: %w", branchID, ErrBranchNotFound)
	}
	return branch, changed, nil
}

// Delete soft-deletes the branch, freeing its name for reuse. Revisions are kept.
func (s *BranchStore) Delete(ctx context.Context, branchID string) (store.Branch, error) {
	branch, changed, err := s.repo.SetBranchStatus(ctx, branchID, store.StatusDeleted)
	if err != nil {
		return store.Branch{}, notFound("delete branch", err, ErrBranchNotFound)
	}
	if !changed {
		return store.Branch{}, fmt.Errorf("delete branch %s: %w", branchID, ErrBranchNotFound)
	}
	return branch, nil
}

func (s *BranchStore) UpdateDescription(ctx context.Context, branchID, description string) (store.Branch, error) {
	branch, err := s.repo.UpdateBranchDescription(ctx, branchID, strings.TrimSpace(description))
	if err != nil {
		return store.Branch{}, notFound("update branch description", err, ErrBranchNotFound)
	}
	return branch, nil
}

func validateBranchName(name string) error {
	switch {
	case name == "":
		return invalid("branchName is required")
	case len(name) > maxBranchNameLength:
		return invalid("branchName exceeds %d characters", maxBranchNameLength)
	case !branchNamePattern.MatchString(name),
		strings.Contains(name, ".."),
		strings.Contains(name, "//"),
		strings.HasSuffix(name, "/"),
		strings.HasSuffix(name, "."),
		strings.HasSuffix(name, ".lock"):
		return invalid("branchName %q is not a valid branch name", name)
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

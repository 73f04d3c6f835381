package branching

import (
	"context"

	"manuscript/api/internal/store"
)

// Repository is the persistence the versioning engine needs. Both
// store.PostgresStore and store.MemoryStore satisfy it.
type Repository interface {
	InsertBranch(ctx context.Context, branch store.Branch) error
	GetBranch(ctx context.Context, branchID string) (store.Branch, error)
	GetBranchByName(ctx context.Context, documentID, branchName string) (store.Branch, error)
	ListBranches(ctx context.Context, documentID string, includeArchived bool) ([]store.Branch, error)
	SetBranchStatus(ctx context.Context, branchID, status string) (store.Branch, bool, error)
	UpdateBranchDescription(ctx context.Context, branchID, description string) (store.Branch, error)

	GetRevision(ctx context.Context, branchID string, number int) (store.Revision, error)
	GetLatestRevision(ctx context.Context, branchID string) (store.Revision, error)
	ListRevisions(ctx context.Context, branchID string, limit int) ([]store.Revision, error)

	InsertMergeAttempt(ctx context.Context, attempt store.MergeAttempt) (store.MergeAttempt, error)
	ListMergeAttempts(ctx context.Context, branchID string, limit int) ([]store.MergeAttempt, error)

	WithTx(ctx context.Context, fn func(store.Tx) error) error
}

var (
	_ Repository = (*store.PostgresStore)(nil)
	_ Repository = (*store.MemoryStore)(nil)
)

package store

import (
	"context"
	"errors"
	"time"

	"manuscript/api/internal/sections"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

const (
	StatusActive   = "active"
	StatusMerged   = "merged"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

const (
	MergeFastForward = "fast_forward"
	MergeSquash      = "squash"
	MergeRebase      = "rebase"
)

const MainBranch = "main"

type Branch struct {
	ID                string
	DocumentID        string
	BranchName        string
	ParentBranch      string
	Status            string
	Description       string
	VersionHash       string
	SectionWordCounts map[string]int
	MergedAt          *time.Time
	MergedBy          string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Revision is an immutable numbered snapshot of a branch.
type Revision struct {
	ID              string
	BranchID        string
	RevisionNumber  int
	Content         sections.Content
	SectionsChanged []string
	DiffFromParent  sections.Diff
	WordCount       int
	CommitMessage   string
	CreatedBy       string
	CreatedAt       time.Time
}

// MergeAttempt records one merge call. MergedAt is nil for a failed attempt.
type MergeAttempt struct {
	ID               int64
	SourceBranchID   string
	TargetBranchID   string
	MergeType        string
	Conflicts        []string
	MergedBy         string
	MergedAt         *time.Time
	ResultRevisionID string
	AttemptedAt      time.Time
}

type AuditEvent struct {
	ID           int64
	EventType    string
	ResourceType string
	ResourceID   string
	UserID       string
	Details      map[string]any
	CreatedAt    time.Time
}

// Tx is the unit of work for writes that must land together: a revision
// insert with its branch cache update, or a merge result with the source
// status change and the merge record.
type Tx interface {
	// NextRevisionNumber atomically advances the branch's revision counter and
	// locks the branch until the transaction ends.
	NextRevisionNumber(ctx context.Context, branchID string) (int, error)
	GetBranch(ctx context.Context, branchID string) (Branch, error)
	GetRevision(ctx context.Context, branchID string, number int) (Revision, error)
	InsertRevision(ctx context.Context, revision Revision) error
	UpdateBranchCache(ctx context.Context, branchID, versionHash string, wordCounts map[string]int, at time.Time) error
	MarkBranchMerged(ctx context.Context, branchID, mergedBy string, at time.Time) error
	InsertMergeAttempt(ctx context.Context, attempt MergeAttempt) (MergeAttempt, error)
}

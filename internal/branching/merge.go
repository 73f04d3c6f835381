package branching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

type MergeRequest struct {
	SourceBranchID string `json:"sourceBranchId"`
	TargetBranchID string `json:"targetBranchId"`
	MergeType      string `json:"mergeType"`
	MergedBy       string `json:"mergedBy"`
}

// MergeResult is the outcome of one merge attempt. A conflict is a normal
// result with Success false, not an error.
type MergeResult struct {
	Success   bool               `json:"success"`
	Conflicts []string           `json:"conflicts"`
	Revision  *store.Revision    `json:"revision,omitempty"`
	Attempt   store.MergeAttempt `json:"attempt"`
}

var mergeTypes = map[string]struct{}{
	store.MergeFastForward: {},
	store.MergeSquash:      {},
	store.MergeRebase:      {},
}

// MergeEngine reconciles a source branch's latest content into a target.
type MergeEngine struct {
	repo      Repository
	branches  *BranchStore
	revisions *RevisionStore
	now       func() time.Time
}

func NewMergeEngine(repo Repository, branches *BranchStore, revisions *RevisionStore) *MergeEngine {
	return &MergeEngine{repo: repo, branches: branches, revisions: revisions, now: utcNow}
}

// Merge detects conflicts between the two tips, applies the merge policy and,
// when it proceeds, writes the merged content as a new revision on the target.
// The revision, the source status change and the merge record commit together.
func (e *MergeEngine) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	source, target, err := e.validate(ctx, req)
	if err != nil {
		return MergeResult{}, err
	}

	sourceTip, err := e.repo.GetLatestRevision(ctx, source.ID)
	if errors.Is(err, store.ErrNotFound) {
		return MergeResult{}, fmt.Errorf("merge %s: %w", source.BranchName, ErrEmptySourceBranch)
	}
	if err != nil {
		return MergeResult{}, storageError("load source revision", err)
	}

	var targetTip *store.Revision
	if revision, err := e.repo.GetLatestRevision(ctx, target.ID); err == nil {
		targetTip = &revision
	} else if !errors.Is(err, store.ErrNotFound) {
		return MergeResult{}, storageError("load target revision", err)
	}

	conflicts := detectConflicts(sourceTip, targetTip)
	mergedBy := strings.TrimSpace(req.MergedBy)

	if len(conflicts) > 0 && req.MergeType == store.MergeFastForward {
		attempt, err := e.repo.InsertMergeAttempt(ctx, store.MergeAttempt{
			SourceBranchID: source.ID,
			TargetBranchID: target.ID,
			MergeType:      req.MergeType,
			Conflicts:      conflicts,
			MergedBy:       mergedBy,
			AttemptedAt:    e.now(),
		})
		if err != nil {
			return MergeResult{}, storageError("record merge attempt", err)
		}
		return MergeResult{Success: false, Conflicts: conflicts, Attempt: attempt}, nil
	}

	merged := resolveContent(req.MergeType, sourceTip, targetTip)
	message := fmt.Sprintf("Merge %s into %s (%s)", source.BranchName, target.BranchName, req.MergeType)

	var result MergeResult
	err = e.repo.WithTx(ctx, func(tx store.Tx) error {
		revision, err := e.revisions.append(ctx, tx, CreateRevisionInput{
			BranchID:      target.ID,
			Content:       merged,
			CommitMessage: message,
			CreatedBy:     mergedBy,
		})
		if err != nil {
			return err
		}

		at := e.now()
		if err := tx.MarkBranchMerged(ctx, source.ID, mergedBy, at); err != nil {
			return notFound("mark source merged", err, ErrBranchNotFound)
		}

		attempt, err := tx.InsertMergeAttempt(ctx, store.MergeAttempt{
			SourceBranchID:   source.ID,
			TargetBranchID:   target.ID,
			MergeType:        req.MergeType,
			Conflicts:        conflicts,
			MergedBy:         mergedBy,
			MergedAt:         &at,
			ResultRevisionID: revision.ID,
			AttemptedAt:      at,
		})
		if err != nil {
			return storageError("record merge attempt", err)
		}

		result = MergeResult{Success: true, Conflicts: conflicts, Revision: &revision, Attempt: attempt}
		return nil
	})
	if err != nil {
		return MergeResult{}, storageError("merge", err)
	}
	return result, nil
}

func (e *MergeEngine) validate(ctx context.Context, req MergeRequest) (store.Branch, store.Branch, error) {
	if _, ok := mergeTypes[req.MergeType]; !ok {
		return store.Branch{}, store.Branch{}, fmt.Errorf("%w: unknown merge type %q", ErrInvalidMerge, req.MergeType)
	}
	if strings.TrimSpace(req.MergedBy) == "" {
		return store.Branch{}, store.Branch{}, invalid("mergedBy is required")
	}
	if req.SourceBranchID == req.TargetBranchID {
		return store.Branch{}, store.Branch{}, fmt.Errorf("%w: a branch cannot be merged into itself", ErrInvalidMerge)
	}

	source, err := e.branches.live(ctx, req.SourceBranchID)
	if err != nil {
		return store.Branch{}, store.Branch{}, err
	}
	target, err := e.branches.live(ctx, req.TargetBranchID)
	if err != nil {
		return store.Branch{}, store.Branch{}, err
	}
	if source.DocumentID != target.DocumentID {
		return store.Branch{}, store.Branch{}, fmt.Errorf("%w: branches belong to different documents", ErrInvalidMerge)
	}
	return source, target, nil
}

// detectConflicts intersects the sections each tip changed relative to its own
// predecessor. It does not look for a common ancestor.
func detectConflicts(sourceTip store.Revision, targetTip *store.Revision) []string {
	if targetTip == nil {
		return []string{}
	}
	conflicts := lo.Intersect(sourceTip.SectionsChanged, targetTip.SectionsChanged)
	if conflicts == nil {
		return []string{}
	}
	sort.Strings(conflicts)
	return conflicts
}

// resolveContent picks the merged snapshot: squash takes the source verbatim,
// fast_forward and rebase lay the source over the target.
func resolveContent(mergeType string, sourceTip store.Revision, targetTip *store.Revision) sections.Content {
	if mergeType == store.MergeSquash || targetTip == nil {
		return sourceTip.Content.Clone()
	}
	return sections.Overlay(targetTip.Content, sourceTip.Content)
}

package app

import (
	"time"

	"manuscript/api/internal/branching"
	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

type branchView struct {
	ID                string         `json:"id"`
	DocumentID        string         `json:"documentId"`
	BranchName        string         `json:"branchName"`
	ParentBranch      string         `json:"parentBranch"`
	Status            string         `json:"status"`
	Description       string         `json:"description"`
	VersionHash       string         `json:"versionHash"`
	SectionWordCounts map[string]int `json:"sectionWordCounts"`
	MergedAt          *time.Time     `json:"mergedAt"`
	MergedBy          string         `json:"mergedBy,omitempty"`
	CreatedBy         string         `json:"createdBy"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type revisionView struct {
	ID              string           `json:"id"`
	BranchID        string           `json:"branchId"`
	RevisionNumber  int              `json:"revisionNumber"`
	Content         sections.Content `json:"content"`
	SectionsChanged []string         `json:"sectionsChanged"`
	DiffFromParent  sections.Diff    `json:"diffFromParent"`
	WordCount       int              `json:"wordCount"`
	CommitMessage   string           `json:"commitMessage"`
	CreatedBy       string           `json:"createdBy"`
	CreatedAt       time.Time        `json:"createdAt"`
}

type mergeAttemptView struct {
	ID               int64      `json:"id"`
	SourceBranchID   string     `json:"sourceBranchId"`
	TargetBranchID   string     `json:"targetBranchId"`
	MergeType        string     `json:"mergeType"`
	Conflicts        []string   `json:"conflicts"`
	MergedBy         string     `json:"mergedBy"`
	MergedAt         *time.Time `json:"mergedAt"`
	ResultRevisionID string     `json:"resultRevisionId,omitempty"`
	AttemptedAt      time.Time  `json:"attemptedAt"`
}

type mergeResultView struct {
	Success   bool             `json:"success"`
	Conflicts []string         `json:"conflicts"`
	Revision  *revisionView    `json:"revision,omitempty"`
	Attempt   mergeAttemptView `json:"attempt"`
}

func toBranchView(b store.Branch) branchView {
	counts := b.SectionWordCounts
	if counts == nil {
		counts = map[string]int{}
	}
	return branchView{
		ID:                b.ID,
		DocumentID:        b.DocumentID,
		BranchName:        b.BranchName,
		ParentBranch:      b.ParentBranch,
		Status:            b.Status,
		Description:       b.Description,
		VersionHash:       b.VersionHash,
		SectionWordCounts: counts,
		MergedAt:          b.MergedAt,
		MergedBy:          b.MergedBy,
		CreatedBy:         b.CreatedBy,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func toRevisionView(r store.Revision) revisionView {
	return revisionView{
		ID:              r.ID,
		BranchID:        r.BranchID,
		RevisionNumber:  r.RevisionNumber,
		Content:         r.Content,
		SectionsChanged: nonNil(r.SectionsChanged),
		DiffFromParent:  r.DiffFromParent,
		WordCount:       r.WordCount,
		CommitMessage:   r.CommitMessage,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
	}
}

func toMergeAttemptView(a store.MergeAttempt) mergeAttemptView {
	return mergeAttemptView{
		ID:               a.ID,
		SourceBranchID:   a.SourceBranchID,
		TargetBranchID:   a.TargetBranchID,
		MergeType:        a.MergeType,
		Conflicts:        nonNil(a.Conflicts),
		MergedBy:         a.MergedBy,
		MergedAt:         a.MergedAt,
		ResultRevisionID: a.ResultRevisionID,
		AttemptedAt:      a.AttemptedAt,
	}
}

func toMergeResultView(result branching.MergeResult) mergeResultView {
	view := mergeResultView{
		Success:   result.Success,
		Conflicts: nonNil(result.Conflicts),
		Attempt:   toMergeAttemptView(result.Attempt),
	}
	if result.Revision != nil {
		revision := toRevisionView(*result.Revision)
		view.Revision = &revision
	}
	return view
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

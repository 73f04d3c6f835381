package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"manuscript/api/internal/sections"
)

// MemoryStore keeps branches, revisions and merge attempts in process. It
// gives the same guarantees as PostgresStore: WithTx is serialized and its
// writes, including revision counter increments, are discarded when fn fails.
type MemoryStore struct {
	mu        sync.RWMutex
	branches  map[string]Branch
	counters  map[string]int
	revisions map[string][]Revision
	merges    []MergeAttempt
	audit     []AuditEvent
	nextMerge int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		branches:  make(map[string]Branch),
		counters:  make(map[string]int),
		revisions: make(map[string][]Revision),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertBranch(_ context.Context, branch Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branch.ID]; ok {
		return fmt.Errorf("insert branch: %w: branches_pkey", ErrDuplicate)
	}
	for _, existing := range s.branches {
		if existing.Status != StatusDeleted && existing.DocumentID == branch.DocumentID && existing.BranchName == branch.BranchName {
			return fmt.Errorf("insert branch: %w: branches_document_name_live_idx", ErrDuplicate)
		}
	}
	if branch.UpdatedAt.IsZero() {
		branch.UpdatedAt = branch.CreatedAt
	}
	s.branches[branch.ID] = cloneBranch(branch)
	return nil
}

func (s *MemoryStore) GetBranch(_ context.Context, branchID string) (Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branch, ok := s.branches[branchID]
	if !ok {
		return Branch{}, fmt.Errorf("get branch: %w", ErrNotFound)
	}
	return cloneBranch(branch), nil
}

func (s *MemoryStore) GetBranchByName(_ context.Context, documentID, branchName string) (Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, branch := range s.branches {
		if branch.Status != StatusDeleted && branch.DocumentID == documentID && branch.BranchName == branchName {
			return cloneBranch(branch), nil
		}
	}
	return Branch{}, fmt.Errorf("get branch by name: %w", ErrNotFound)
}

func (s *MemoryStore) ListBranches(_ context.Context, documentID string, includeArchived bool) ([]Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Branch, 0)
	for _, branch := range s.branches {
		if branch.DocumentID != documentID || branch.Status == StatusDeleted {
			continue
		}
		if branch.Status == StatusArchived && !includeArchived {
			continue
		}
		items = append(items, cloneBranch(branch))
	}
	sort.Slice(items, func(i, j int) bool {
		iMain, jMain := items[i].BranchName == MainBranch, items[j].BranchName == MainBranch
		if iMain != jMain {
			return iMain
		}
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) SetBranchStatus(_ context.Context, branchID, status string) (Branch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch, ok := s.branches[branchID]
	if !ok {
		return Branch{}, false, fmt.Errorf("get branch: %w", ErrNotFound)
	}
	if branch.Status == status || branch.Status == StatusDeleted {
		return cloneBranch(branch), false, nil
	}
	branch.Status = status
	branch.UpdatedAt = time.Now().UTC()
	s.branches[branchID] = branch
	return cloneBranch(branch), true, nil
}

func (s *MemoryStore) UpdateBranchDescription(_ context.Context, branchID, description string) (Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch, ok := s.branches[branchID]
	if !ok || branch.Status == StatusDeleted {
		return Branch{}, fmt.Errorf("update branch description: %w", ErrNotFound)
	}
	branch.Description = description
	branch.UpdatedAt = time.Now().UTC()
	s.branches[branchID] = branch
	return cloneBranch(branch), nil
}

func (s *MemoryStore) GetRevision(_ context.Context, branchID string, number int) (Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision(branchID, number)
}

func (s *MemoryStore) GetLatestRevision(_ context.Context, branchID string) (Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.revisions[branchID]
	if len(chain) == 0 {
		return Revision{}, fmt.Errorf("get latest revision: %w", ErrNotFound)
	}
	return cloneRevision(chain[len(chain)-1]), nil
}

func (s *MemoryStore) ListRevisions(_ context.Context, branchID string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.revisions[branchID]
	items := make([]Revision, 0, min(limit, len(chain)))
	for i := len(chain) - 1; i >= 0 && len(items) < limit; i-- {
		items = append(items, cloneRevision(chain[i]))
	}
	return items, nil
}

func (s *MemoryStore) InsertMergeAttempt(_ context.Context, attempt MergeAttempt) (MergeAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendMerge(attempt), nil
}

func (s *MemoryStore) ListMergeAttempts(_ context.Context, branchID string, limit int) ([]MergeAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]MergeAttempt, 0)
	for i := len(s.merges) - 1; i >= 0 && len(items) < limit; i-- {
		attempt := s.merges[i]
		if attempt.SourceBranchID == branchID || attempt.TargetBranchID == branchID {
			items = append(items, attempt)
		}
	}
	return items, nil
}

func (s *MemoryStore) InsertAuditEvent(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = int64(len(s.audit) + 1)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, event)
	return nil
}

// AuditEvents returns the audit events recorded so far, oldest first.
func (s *MemoryStore) AuditEvents() []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}

// WithTx holds the store lock for the duration of fn. Writes are staged on the
// transaction and applied only when fn returns nil.
func (s *MemoryStore) WithTx(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{
		store:    s,
		counters: make(map[string]int),
		branches: make(map[string]Branch),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

func (s *MemoryStore) revision(branchID string, number int) (Revision, error) {
	chain := s.revisions[branchID]
	idx := sort.Search(len(chain), func(i int) bool { return chain[i].RevisionNumber >= number })
	if idx == len(chain) || chain[idx].RevisionNumber != number {
		return Revision{}, fmt.Errorf("get revision: %w", ErrNotFound)
	}
	return cloneRevision(chain[idx]), nil
}

func (s *MemoryStore) appendMerge(attempt MergeAttempt) MergeAttempt {
	attempt = s.stampMerge(attempt)
	s.merges = append(s.merges, attempt)
	return attempt
}

// stampMerge assigns the next id. Like a BIGSERIAL, ids consumed by a rolled
// back transaction are not reused.
func (s *MemoryStore) stampMerge(attempt MergeAttempt) MergeAttempt {
	s.nextMerge++
	attempt.ID = s.nextMerge
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	attempt.Conflicts = cloneStrings(attempt.Conflicts)
	return attempt
}

type memoryTx struct {
	store     *MemoryStore
	counters  map[string]int
	branches  map[string]Branch
	revisions []Revision
	merges    []MergeAttempt
}

func (t *memoryTx) branch(branchID string) (Branch, bool) {
	if branch, ok := t.branches[branchID]; ok {
		return branch, true
	}
	branch, ok := t.store.branches[branchID]
	return branch, ok
}

func (t *memoryTx) NextRevisionNumber(_ context.Context, branchID string) (int, error) {
	if _, ok := t.branch(branchID); !ok {
		return 0, fmt.Errorf("next revision number: %w", ErrNotFound)
	}
	current, ok := t.counters[branchID]
	if !ok {
		current = t.store.counters[branchID]
	}
	t.counters[branchID] = current + 1
	return current + 1, nil
}

func (t *memoryTx) GetBranch(_ context.Context, branchID string) (Branch, error) {
	branch, ok := t.branch(branchID)
	if !ok {
		return Branch{}, fmt.Errorf("get branch: %w", ErrNotFound)
	}
	return cloneBranch(branch), nil
}

func (t *memoryTx) GetRevision(_ context.Context, branchID string, number int) (Revision, error) {
	for _, staged := range t.revisions {
		if staged.BranchID == branchID && staged.RevisionNumber == number {
			return cloneRevision(staged), nil
		}
	}
	return t.store.revision(branchID, number)
}

func (t *memoryTx) InsertRevision(_ context.Context, revision Revision) error {
	if _, ok := t.branch(revision.BranchID); !ok {
		return fmt.Errorf("insert revision: %w", ErrNotFound)
	}
	if _, err := t.GetRevision(context.Background(), revision.BranchID, revision.RevisionNumber); err == nil {
		return fmt.Errorf("insert revision: %w: revisions_branch_id_revision_number_key", ErrDuplicate)
	}
	t.revisions = append(t.revisions, cloneRevision(revision))
	return nil
}

func (t *memoryTx) UpdateBranchCache(_ context.Context, branchID, versionHash string, wordCounts map[string]int, at time.Time) error {
	branch, ok := t.branch(branchID)
	if !ok {
		return fmt.Errorf("update branch cache: %w", ErrNotFound)
	}
	branch.VersionHash = versionHash
	branch.SectionWordCounts = cloneCounts(wordCounts)
	branch.UpdatedAt = at
	t.branches[branchID] = branch
	return nil
}

func (t *memoryTx) MarkBranchMerged(_ context.Context, branchID, mergedBy string, at time.Time) error {
	branch, ok := t.branch(branchID)
	if !ok {
		return fmt.Errorf("mark branch merged: %w", ErrNotFound)
	}
	branch.Status = StatusMerged
	branch.MergedAt = &at
	branch.MergedBy = mergedBy
	branch.UpdatedAt = at
	t.branches[branchID] = branch
	return nil
}

func (t *memoryTx) InsertMergeAttempt(_ context.Context, attempt MergeAttempt) (MergeAttempt, error) {
	attempt = t.store.stampMerge(attempt)
	t.merges = append(t.merges, attempt)
	return attempt, nil
}

func (t *memoryTx) apply() {
	s := t.store
	for branchID, counter := range t.counters {
		s.counters[branchID] = counter
	}
	for branchID, branch := range t.branches {
		s.branches[branchID] = branch
	}
	for _, revision := range t.revisions {
		chain := append(s.revisions[revision.BranchID], revision)
		sort.Slice(chain, func(i, j int) bool { return chain[i].RevisionNumber < chain[j].RevisionNumber })
		s.revisions[revision.BranchID] = chain
	}
	s.merges = append(s.merges, t.merges...)
}

func cloneBranch(branch Branch) Branch {
	branch.SectionWordCounts = cloneCounts(branch.SectionWordCounts)
	if branch.MergedAt != nil {
		at := *branch.MergedAt
		branch.MergedAt = &at
	}
	return branch
}

func cloneRevision(revision Revision) Revision {
	revision.Content = revision.Content.Clone()
	revision.SectionsChanged = cloneStrings(revision.SectionsChanged)
	if revision.DiffFromParent != nil {
		diff := make(sections.Diff, len(revision.DiffFromParent))
		for key, action := range revision.DiffFromParent {
			diff[key] = action
		}
		revision.DiffFromParent = diff
	}
	return revision
}

func cloneCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for key, value := range counts {
		out[key] = value
	}
	return out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

package branching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"manuscript/api/internal/audit"
	"manuscript/api/internal/export"
	"manuscript/api/internal/search"
	"manuscript/api/internal/store"
)

const (
	EventBranchCreate  = "branch.create"
	EventBranchUpdate  = "branch.update"
	EventBranchArchive = "branch.archive"
	EventBranchDelete  = "branch.delete"
	EventBranchMerge   = "branch.merge"
	EventMergeConflict = "branch.merge_conflict"
	EventRevision      = "revision.create"

	resourceBranch   = "branch"
	resourceRevision = "revision"
)

// Indexer receives branches and revisions for full-text search. Calls must
// not block.
type Indexer interface {
	IndexBranch(branch store.Branch)
	IndexRevision(branch store.Branch, revision store.Revision)
	DeleteBranch(branchID string)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// Mirror replays revisions into an external history, such as a git repository.
type Mirror interface {
	MirrorRevision(ctx context.Context, branch store.Branch, revision store.Revision) error
}

// Archiver stores a snapshot of a branch when it is archived.
type Archiver interface {
	ArchiveBranch(ctx context.Context, branch store.Branch, revisions []store.Revision) (string, error)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Option func(*Service)

func WithAudit(emitter audit.Emitter) Option {
	return func(s *Service) {
		if emitter != nil {
			s.audit = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithIndexer(indexer Indexer) Option {
	return func(s *Service) { s.indexer = indexer }
}

func WithSearcher(searcher Searcher) Option {
	return func(s *Service) { s.searcher = searcher }
}

func WithMirror(mirror Mirror) Option {
	return func(s *Service) { s.mirror = mirror }
}

func WithArchiver(archiver Archiver) Option {
	return func(s *Service) { s.archiver = archiver }
}

func WithExporter(exporter Exporter) Option {
	return func(s *Service) { s.exporter = exporter }
}

// WithClock replaces the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the single entry point to the versioning engine. It translates
// storage conditions into the package's typed errors and hands one audit
// event per mutation to the audit queue. Search, mirror and archive hooks are
// best effort: their failures are logged and never fail the call.
type Service struct {
	repo      Repository
	branches  *BranchStore
	revisions *RevisionStore
	merges    *MergeEngine

	audit    audit.Emitter
	logger   *slog.Logger
	indexer  Indexer
	searcher Searcher
	mirror   Mirror
	archiver Archiver
	exporter Exporter
	now      func() time.Time
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		audit:  audit.Discard,
		logger: slog.Default(),
		now:    utcNow,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "branching"))

	s.branches = NewBranchStore(repo)
	s.branches.now = s.now
	s.revisions = NewRevisionStore(repo)
	s.revisions.now = s.now
	s.merges = NewMergeEngine(repo, s.branches, s.revisions)
	s.merges.now = s.now
	return s
}

func (s *Service) CreateBranch(ctx context.Context, in CreateBranchInput) (store.Branch, error) {
	branch, err := s.branches.Create(ctx, in)
	if err != nil {
		return store.Branch{}, err
	}
	s.emit(EventBranchCreate, resourceBranch, branch.ID, branch.CreatedBy, map[string]any{
		"documentId":   branch.DocumentID,
		"branchName":   branch.BranchName,
		"parentBranch": branch.ParentBranch,
	})
	s.index(branch)
	return branch, nil
}

func (s *Service) GetBranch(ctx context.Context, branchID string) (store.Branch, error) {
	return s.branches.Get(ctx, branchID)
}

func (s *Service) GetBranchByName(ctx context.Context, documentID, branchName string) (store.Branch, error) {
	return s.branches.GetByName(ctx, documentID, branchName)
}

func (s *Service) ListBranches(ctx context.Context, documentID string, includeArchived bool) ([]store.Branch, error) {
	return s.branches.List(ctx, documentID, includeArchived)
}

func (s *Service) UpdateBranchDescription(ctx context.Context, branchID, description, actor string) (store.Branch, error) {
	branch, err := s.branches.UpdateDescription(ctx, branchID, description)
	if err != nil {
		return store.Branch{}, err
	}
	s.emit(EventBranchUpdate, resourceBranch, branch.ID, actor, map[string]any{
		"description": branch.Description,
	})
	s.index(branch)
	return branch, nil
}

// ArchiveBranch is idempotent. Only the call that changes the status emits an
// audit event and uploads a snapshot.
func (s *Service) ArchiveBranch(ctx context.Context, branchID, actor string) (store.Branch, error) {
	branch, changed, err := s.branches.Archive(ctx, branchID)
	if err != nil {
		return store.Branch{}, err
	}
	if !changed {
		return branch, nil
	}
	s.emit(EventBranchArchive, resourceBranch, branch.ID, actor, map[string]any{
		"documentId": branch.DocumentID,
		"branchName": branch.BranchName,
	})
	s.index(branch)
	s.snapshot(ctx, branch)
	return branch, nil
}

// DeleteBranch soft-deletes the branch. Its revisions and merge history stay.
func (s *Service) DeleteBranch(ctx context.Context, branchID, actor string) (store.Branch, error) {
	branch, err := s.branches.Delete(ctx, branchID)
	if err != nil {
		return store.Branch{}, err
	}
	s.emit(EventBranchDelete, resourceBranch, branch.ID, actor, map[string]any{
		"documentId": branch.DocumentID,
		"branchName": branch.BranchName,
	})
	if s.indexer != nil {
		s.indexer.DeleteBranch(branch.ID)
	}
	return branch, nil
}

func (s *Service) CreateRevision(ctx context.Context, in CreateRevisionInput) (store.Revision, error) {
	revision, err := s.revisions.Create(ctx, in)
	if err != nil {
		return store.Revision{}, err
	}
	s.emit(EventRevision, resourceRevision, revision.ID, revision.CreatedBy, map[string]any{
		"branchId":        revision.BranchID,
		"revisionNumber":  revision.RevisionNumber,
		"sectionsChanged": revision.SectionsChanged,
		"wordCount":       revision.WordCount,
	})
	s.afterRevision(ctx, revision)
	return revision, nil
}

func (s *Service) GetRevision(ctx context.Context, branchID string, number int) (store.Revision, error) {
	return s.revisions.Get(ctx, branchID, number)
}

// GetLatestRevision returns nil, nil for a branch without revisions.
func (s *Service) GetLatestRevision(ctx context.Context, branchID string) (*store.Revision, error) {
	return s.revisions.Latest(ctx, branchID)
}

func (s *Service) ListRevisions(ctx context.Context, branchID string, limit int) ([]store.Revision, error) {
	return s.revisions.List(ctx, branchID, limit)
}

func (s *Service) CompareRevisions(ctx context.Context, branchID string, from, to int) (Comparison, error) {
	return s.revisions.Compare(ctx, branchID, from, to)
}

// MergeBranch returns a result with Success false, not an error, when a
// fast_forward merge is blocked by conflicts.
func (s *Service) MergeBranch(ctx context.Context, req MergeRequest) (MergeResult, error) {
	result, err := s.merges.Merge(ctx, req)
	if err != nil {
		return MergeResult{}, err
	}

	details := map[string]any{
		"sourceBranchId": req.SourceBranchID,
		"targetBranchId": req.TargetBranchID,
		"mergeType":      req.MergeType,
		"conflicts":      result.Conflicts,
	}
	if !result.Success {
		s.emit(EventMergeConflict, resourceBranch, req.SourceBranchID, req.MergedBy, details)
		return result, nil
	}

	details["resultRevisionId"] = result.Revision.ID
	details["resultRevisionNumber"] = result.Revision.RevisionNumber
	s.emit(EventBranchMerge, resourceBranch, req.SourceBranchID, req.MergedBy, details)
	if source, err := s.branches.Get(ctx, req.SourceBranchID); err == nil {
		s.index(source)
	}
	s.afterRevision(ctx, *result.Revision)
	return result, nil
}

// ListMergeAttempts returns attempts where the branch was source or target,
// newest first.
func (s *Service) ListMergeAttempts(ctx context.Context, branchID string, limit int) ([]store.MergeAttempt, error) {
	if limit <= 0 {
		limit = DefaultRevisionLimit
	}
	if _, err := s.branches.Get(ctx, branchID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListMergeAttempts(ctx, branchID, limit)
	if err != nil {
		return nil, storageError("list merge attempts", err)
	}
	return items, nil
}

func (s *Service) SearchRevisions(ctx context.Context, q search.Query) (search.Response, error) {
	if s.searcher == nil {
		return search.Response{}, fmt.Errorf("search: %w", ErrUnavailable)
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, invalid("search query is required")
	}
	return s.searcher.Search(ctx, q), nil
}

// ExportRevision renders one revision as a PDF or DOCX document.
func (s *Service) ExportRevision(ctx context.Context, branchID string, number int, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("export: %w", ErrUnavailable)
	}
	branch, err := s.branches.Get(ctx, branchID)
	if err != nil {
		return nil, err
	}
	revision, err := s.revisions.Get(ctx, branchID, number)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		DocumentID:     branch.DocumentID,
		BranchName:     branch.BranchName,
		RevisionNumber: revision.RevisionNumber,
		CommitMessage:  revision.CommitMessage,
		Author:         revision.CreatedBy,
		CreatedAt:      revision.CreatedAt,
		Content:        revision.Content,
		Format:         format,
	})
}

func (s *Service) emit(eventType, resourceType, resourceID, userID string, details map[string]any) {
	s.audit.Emit(audit.Event{
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       userID,
		Details:      details,
		OccurredAt:   s.now(),
	})
}

func (s *Service) index(branch store.Branch) {
	if s.indexer != nil {
		s.indexer.IndexBranch(branch)
	}
}

// afterRevision feeds a committed revision to search and the mirror.
func (s *Service) afterRevision(ctx context.Context, revision store.Revision) {
	if s.indexer == nil && s.mirror == nil {
		return
	}
	branch, err := s.branches.Get(ctx, revision.BranchID)
	if err != nil {
		s.logger.Warn("load branch after revision failed", "branch_id", revision.BranchID, "error", err)
		return
	}
	if s.indexer != nil {
		s.indexer.IndexRevision(branch, revision)
	}
	if s.mirror != nil {
		if err := s.mirror.MirrorRevision(ctx, branch, revision); err != nil {
			s.logger.Warn("mirror revision failed",
				"branch_id", branch.ID,
				"revision", revision.RevisionNumber,
				"error", err,
			)
		}
	}
}

// snapshot uploads the archived branch with its full revision history.
func (s *Service) snapshot(ctx context.Context, branch store.Branch) {
	if s.archiver == nil {
		return
	}
	var revisions []store.Revision
	latest, err := s.repo.GetLatestRevision(ctx, branch.ID)
	if err == nil {
		revisions, err = s.repo.ListRevisions(ctx, branch.ID, latest.RevisionNumber)
	}
	if err != nil && !isNotFound(err) {
		s.logger.Warn("load revisions for archive failed", "branch_id", branch.ID, "error", err)
		return
	}
	key, err := s.archiver.ArchiveBranch(ctx, branch, revisions)
	if err != nil {
		s.logger.Warn("archive snapshot failed", "branch_id", branch.ID, "error", err)
		return
	}
	s.logger.Info("archive snapshot stored", "branch_id", branch.ID, "key", key)
}

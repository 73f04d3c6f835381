package search

import (
	"context"
	"log/slog"

	"manuscript/api/internal/store"
)

type index interface {
	Searcher
	Indexer
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]BranchRecord, []RevisionRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  index
	fallback Searcher
	loader   recordLoader
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured; pgfts may be nil when running without Postgres.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	s := &Service{logger: logger}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s.init()
}

func newService(primary index, fallback Searcher, loader recordLoader, logger *slog.Logger) *Service {
	return (&Service{primary: primary, fallback: fallback, loader: loader, logger: logger}).init()
}

func (s *Service) init() *Service {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "search"))
	return s
}

func (s *Service) indexReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", slog.Any("error", err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts error", slog.Any("error", err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexBranch indexes a branch (fire-and-forget to Meilisearch).
func (s *Service) IndexBranch(b store.Branch) {
	if !s.indexReady() {
		return
	}
	record := NewBranchRecord(b)
	go func() {
		if err := s.primary.IndexBranch(record); err != nil {
			s.logger.Warn("index branch", slog.String("branch_id", record.ID), slog.Any("error", err))
		}
	}()
}

// IndexRevision indexes a revision (fire-and-forget to Meilisearch).
func (s *Service) IndexRevision(b store.Branch, r store.Revision) {
	if !s.indexReady() {
		return
	}
	record := NewRevisionRecord(b, r)
	go func() {
		if err := s.primary.IndexRevision(record); err != nil {
			s.logger.Warn("index revision", slog.String("revision_id", record.ID), slog.Any("error", err))
		}
	}()
}

// DeleteBranch removes a branch from the search index (fire-and-forget).
func (s *Service) DeleteBranch(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.primary.DeleteBranch(id); err != nil {
			s.logger.Warn("delete branch from index", slog.String("branch_id", id), slog.Any("error", err))
		}
	}()
}

// ReindexAll reads all records from PG and pushes them to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	branches, revisions, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", slog.Any("error", err))
		return
	}
	if err := s.primary.IndexBranches(branches); err != nil {
		s.logger.Error("reindex branches", slog.Any("error", err))
	}
	if err := s.primary.IndexRevisions(revisions); err != nil {
		s.logger.Error("reindex revisions", slog.Any("error", err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

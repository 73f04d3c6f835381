package branching

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manuscript/api/internal/export"
	"manuscript/api/internal/search"
	"manuscript/api/internal/store"
)

type fakeHooks struct {
	mu          sync.Mutex
	indexed     []string
	revisions   []int
	deleted     []string
	mirrored    []int
	archived    map[string]int
	mirrorErr   error
	archiveErr  error
	exported    []export.Request
	searchQuery search.Query
}

func (f *fakeHooks) IndexBranch(branch store.Branch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, branch.ID+":"+branch.Status)
}

func (f *fakeHooks) IndexRevision(_ store.Branch, revision store.Revision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revisions = append(f.revisions, revision.RevisionNumber)
}

func (f *fakeHooks) DeleteBranch(branchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, branchID)
}

func (f *fakeHooks) MirrorRevision(_ context.Context, _ store.Branch, revision store.Revision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrored = append(f.mirrored, revision.RevisionNumber)
	return f.mirrorErr
}

func (f *fakeHooks) ArchiveBranch(_ context.Context, branch store.Branch, revisions []store.Revision) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archived == nil {
		f.archived = map[string]int{}
	}
	f.archived[branch.ID] = len(revisions)
	return "snapshots/" + branch.ID, f.archiveErr
}

func (f *fakeHooks) Export(_ context.Context, req export.Request) (*export.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, req)
	return &export.Result{Data: []byte("%PDF"), Filename: "x.pdf", MimeType: "application/pdf"}, nil
}

func (f *fakeHooks) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchQuery = q
	return search.Response{Results: []search.Result{{Type: search.ResultRevision, ID: "rev_1"}}, Total: 1, Query: q.Text}
}

func newHookedService(t *testing.T, hooks *fakeHooks, emitter *recordingEmitter) *Service {
	t.Helper()
	svc, _ := newTestService(t,
		WithAudit(emitter),
		WithIndexer(hooks),
		WithMirror(hooks),
		WithArchiver(hooks),
		WithExporter(hooks),
		WithSearcher(hooks),
	)
	return svc
}

func TestServiceEmitsOneEventPerMutation(t *testing.T) {
	emitter := &recordingEmitter{}
	svc, _ := newTestService(t, WithAudit(emitter))
	ctx := context.Background()

	main := mustBranch(t, svc, store.MainBranch)
	feature := mustBranch(t, svc, "analysis-v2")
	revision := mustCommit(t, svc, feature.ID, "methods", "m1")
	_, err := svc.UpdateBranchDescription(ctx, feature.ID, "notes", "alice")
	require.NoError(t, err)
	_, err = svc.MergeBranch(ctx, MergeRequest{SourceBranchID: feature.ID, TargetBranchID: main.ID, MergeType: store.MergeSquash, MergedBy: "carol"})
	require.NoError(t, err)
	_, err = svc.ArchiveBranch(ctx, feature.ID, "alice")
	require.NoError(t, err)
	_, err = svc.DeleteBranch(ctx, feature.ID, "alice")
	require.NoError(t, err)

	// Reads emit nothing.
	_, err = svc.ListRevisions(ctx, feature.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		EventBranchCreate,
		EventBranchCreate,
		EventRevision,
		EventBranchUpdate,
		EventBranchMerge,
		EventBranchArchive,
		EventBranchDelete,
	}, emitter.types())

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	created := emitter.events[2]
	assert.Equal(t, "revision", created.ResourceType)
	assert.Equal(t, revision.ID, created.ResourceID)
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, 1, created.Details["revisionNumber"])
	assert.False(t, created.OccurredAt.IsZero())

	merged := emitter.events[4]
	assert.Equal(t, feature.ID, merged.ResourceID)
	assert.Equal(t, "carol", merged.UserID)
	assert.Equal(t, store.MergeSquash, merged.Details["mergeType"])
}

func TestServiceRunsHooks(t *testing.T) {
	hooks := &fakeHooks{}
	svc := newHookedService(t, hooks, &recordingEmitter{})
	ctx := context.Background()

	main := mustBranch(t, svc, store.MainBranch)
	feature := mustBranch(t, svc, "analysis-v2")
	mustCommit(t, svc, feature.ID, "methods", "m1")
	mustCommit(t, svc, feature.ID, "methods", "m2")
	_, err := svc.MergeBranch(ctx, MergeRequest{SourceBranchID: feature.ID, TargetBranchID: main.ID, MergeType: store.MergeFastForward, MergedBy: "carol"})
	require.NoError(t, err)
	_, err = svc.ArchiveBranch(ctx, feature.ID, "alice")
	require.NoError(t, err)
	_, err = svc.ArchiveBranch(ctx, feature.ID, "alice")
	require.NoError(t, err)
	_, err = svc.DeleteBranch(ctx, feature.ID, "alice")
	require.NoError(t, err)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, []int{1, 2, 1}, hooks.revisions)
	assert.Equal(t, []int{1, 2, 1}, hooks.mirrored)
	assert.Equal(t, map[string]int{feature.ID: 2}, hooks.archived)
	assert.Equal(t, []string{feature.ID}, hooks.deleted)
	assert.Equal(t, []string{
		main.ID + ":active",
		feature.ID + ":active",
		feature.ID + ":merged",
		feature.ID + ":archived",
	}, hooks.indexed)
}

func TestServiceHookFailuresDoNotFailCalls(t *testing.T) {
	hooks := &fakeHooks{mirrorErr: errors.New("disk full"), archiveErr: errors.New("bucket gone")}
	svc := newHookedService(t, hooks, &recordingEmitter{})
	ctx := context.Background()

	branch := mustBranch(t, svc, "analysis-v2")
	revision := mustCommit(t, svc, branch.ID, "intro", "x")
	assert.Equal(t, 1, revision.RevisionNumber)

	archived, err := svc.ArchiveBranch(ctx, branch.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, archived.Status)
}

func TestArchiveBranchWithoutRevisionsSnapshotsBranch(t *testing.T) {
	hooks := &fakeHooks{}
	svc := newHookedService(t, hooks, &recordingEmitter{})
	branch := mustBranch(t, svc, "empty")

	_, err := svc.ArchiveBranch(context.Background(), branch.ID, "alice")
	require.NoError(t, err)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, map[string]int{branch.ID: 0}, hooks.archived)
}

func TestExportRevision(t *testing.T) {
	hooks := &fakeHooks{}
	svc := newHookedService(t, hooks, &recordingEmitter{})
	ctx := context.Background()
	branch := mustBranch(t, svc, "analysis-v2")
	mustCommit(t, svc, branch.ID, "title", "Field Notes", "intro", "hello")

	result, err := svc.ExportRevision(ctx, branch.ID, 1, export.FormatDOCX)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.MimeType)

	require.Len(t, hooks.exported, 1)
	req := hooks.exported[0]
	assert.Equal(t, testDoc, req.DocumentID)
	assert.Equal(t, "analysis-v2", req.BranchName)
	assert.Equal(t, 1, req.RevisionNumber)
	assert.Equal(t, export.FormatDOCX, req.Format)
	assert.Equal(t, []string{"title", "intro"}, req.Content.Keys())

	_, err = svc.ExportRevision(ctx, branch.ID, 7, export.FormatPDF)
	require.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestSearchRevisions(t *testing.T) {
	hooks := &fakeHooks{}
	svc := newHookedService(t, hooks, &recordingEmitter{})

	resp, err := svc.SearchRevisions(context.Background(), search.Query{Text: "  sampling ", DocumentID: testDoc})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "sampling", hooks.searchQuery.Text)
	assert.Equal(t, testDoc, hooks.searchQuery.DocumentID)

	_, err = svc.SearchRevisions(context.Background(), search.Query{Text: "  "})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestOptionalFeaturesUnavailable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SearchRevisions(ctx, search.Query{Text: "x"})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = svc.ExportRevision(ctx, "br_1", 1, export.FormatPDF)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestListMergeAttemptsUnknownBranch(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ListMergeAttempts(context.Background(), "br_missing", 0)
	require.ErrorIs(t, err, ErrBranchNotFound)
}

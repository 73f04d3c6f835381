package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"manuscript/api/internal/sections"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const branchColumns = `id, document_id, branch_name, parent_branch, status, description, version_hash,
	word_counts, merged_at, COALESCE(merged_by, ''), created_by, created_at, updated_at`

const revisionColumns = `id, branch_id, revision_number, content, sections_changed, diff_from_parent,
	word_count, commit_message, created_by, created_at`

const mergeColumns = `id, source_branch_id, target_branch_id, merge_type, conflicts, merged_by, merged_at,
	COALESCE(result_revision_id, ''), attempted_at`

func (s *PostgresStore) InsertBranch(ctx context.Context, branch Branch) error {
	wordCounts, err := encodeWordCounts(branch.SectionWordCounts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO branches (id, document_id, branch_name, parent_branch, status, description, version_hash, word_counts, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $10)
	`, branch.ID, branch.DocumentID, branch.BranchName, branch.ParentBranch, branch.Status, branch.Description,
		branch.VersionHash, wordCounts, branch.CreatedBy, branch.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert branch: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, branchID string) (Branch, error) {
	return getBranch(ctx, s.db, branchID, false)
}

func (s *PostgresStore) GetBranchByName(ctx context.Context, documentID, branchName string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE document_id=$1 AND branch_name=$2 AND status <> 'deleted'
	`, documentID, branchName)
	branch, err := scanBranch(row)
	if err != nil {
		return Branch{}, fmt.Errorf("get branch by name: %w", translate(err))
	}
	return branch, nil
}

func (s *PostgresStore) ListBranches(ctx context.Context, documentID string, includeArchived bool) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE document_id=$1
			AND status <> 'deleted'
			AND ($2 OR status <> 'archived')
		ORDER BY (branch_name = 'main') DESC, updated_at DESC, id
	`, documentID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	items := make([]Branch, 0)
	for rows.Next() {
		item, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return items, nil
}

// SetBranchStatus moves a branch to status. It reports false without error
// when the branch already had that status or is deleted, which is terminal.
func (s *PostgresStore) SetBranchStatus(ctx context.Context, branchID, status string) (Branch, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE branches
		SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status <> $2 AND status <> 'deleted'
		RETURNING `+branchColumns, branchID, status)
	branch, err := scanBranch(row)
	if err == nil {
		return branch, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Branch{}, false, fmt.Errorf("set branch status: %w", translate(err))
	}
	branch, err = s.GetBranch(ctx, branchID)
	if err != nil {
		return Branch{}, false, err
	}
	return branch, false, nil
}

func (s *PostgresStore) UpdateBranchDescription(ctx context.Context, branchID, description string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE branches
		SET description=$2, updated_at=NOW()
		WHERE id=$1 AND status <> 'deleted'
		RETURNING `+branchColumns, branchID, description)
	branch, err := scanBranch(row)
	if err != nil {
		return Branch{}, fmt.Errorf("update branch description: %w", translate(err))
	}
	return branch, nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, branchID string, number int) (Revision, error) {
	return getRevision(ctx, s.db, branchID, number)
}

func (s *PostgresStore) GetLatestRevision(ctx context.Context, branchID string) (Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+revisionColumns+`
		FROM revisions
		WHERE branch_id=$1
		ORDER BY revision_number DESC
		LIMIT 1
	`, branchID)
	revision, err := scanRevision(row)
	if err != nil {
		return Revision{}, fmt.Errorf("get latest revision: %w", translate(err))
	}
	return revision, nil
}

func (s *PostgresStore) ListRevisions(ctx context.Context, branchID string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+revisionColumns+`
		FROM revisions
		WHERE branch_id=$1
		ORDER BY revision_number DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]Revision, 0)
	for rows.Next() {
		item, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMergeAttempt(ctx context.Context, attempt MergeAttempt) (MergeAttempt, error) {
	return insertMergeAttempt(ctx, s.db, attempt)
}

// ListMergeAttempts returns attempts where the branch was source or target, newest first.
func (s *PostgresStore) ListMergeAttempts(ctx context.Context, branchID string, limit int) ([]MergeAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mergeColumns+`
		FROM branch_merges
		WHERE source_branch_id=$1 OR target_branch_id=$1
		ORDER BY attempted_at DESC, id DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list merge attempts: %w", err)
	}
	defer rows.Close()

	items := make([]MergeAttempt, 0)
	for rows.Next() {
		item, err := scanMergeAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merge attempt: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge attempts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, resource_type, resource_id, user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, event.EventType, event.ResourceType, event.ResourceID, event.UserID, string(encoded), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// WithTx runs fn inside a database transaction, committing when fn returns nil.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&postgresTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) NextRevisionNumber(ctx context.Context, branchID string) (int, error) {
	var next int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE branches
		SET revision_counter = revision_counter + 1
		WHERE id=$1
		RETURNING revision_counter
	`, branchID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next revision number: %w", translate(err))
	}
	return next, nil
}

func (t *postgresTx) GetBranch(ctx context.Context, branchID string) (Branch, error) {
	return getBranch(ctx, t.tx, branchID, true)
}

func (t *postgresTx) GetRevision(ctx context.Context, branchID string, number int) (Revision, error) {
	return getRevision(ctx, t.tx, branchID, number)
}

func (t *postgresTx) InsertRevision(ctx context.Context, revision Revision) error {
	content, err := json.Marshal(revision.Content)
	if err != nil {
		return fmt.Errorf("marshal revision content: %w", err)
	}
	changed := revision.SectionsChanged
	if changed == nil {
		changed = []string{}
	}
	encodedChanged, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("marshal sections changed: %w", err)
	}
	diff := revision.DiffFromParent
	if diff == nil {
		diff = sections.Diff{}
	}
	encodedDiff, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("marshal revision diff: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO revisions (id, branch_id, revision_number, content, sections_changed, diff_from_parent, word_count, commit_message, created_by, created_at)
		VALUES ($1, $2, $3, $4::json, $5::jsonb, $6::jsonb, $7, $8, $9, $10)
	`, revision.ID, revision.BranchID, revision.RevisionNumber, string(content), string(encodedChanged),
		string(encodedDiff), revision.WordCount, revision.CommitMessage, revision.CreatedBy, revision.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert revision: %w", translate(err))
	}
	return nil
}

func (t *postgresTx) UpdateBranchCache(ctx context.Context, branchID, versionHash string, wordCounts map[string]int, at time.Time) error {
	encoded, err := encodeWordCounts(wordCounts)
	if err != nil {
		return err
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE branches
		SET version_hash=$2, word_counts=$3::jsonb, updated_at=$4
		WHERE id=$1
	`, branchID, versionHash, encoded, at)
	if err != nil {
		return fmt.Errorf("update branch cache: %w", err)
	}
	return requireRow(result, "update branch cache")
}

func (t *postgresTx) MarkBranchMerged(ctx context.Context, branchID, mergedBy string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE branches
		SET status='merged', merged_at=$2, merged_by=$3, updated_at=$2
		WHERE id=$1
	`, branchID, at, mergedBy)
	if err != nil {
		return fmt.Errorf("mark branch merged: %w", err)
	}
	return requireRow(result, "mark branch merged")
}

func (t *postgresTx) InsertMergeAttempt(ctx context.Context, attempt MergeAttempt) (MergeAttempt, error) {
	return insertMergeAttempt(ctx, t.tx, attempt)
}

func getBranch(ctx context.Context, q queryer, branchID string, forUpdate bool) (Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	branch, err := scanBranch(q.QueryRowContext(ctx, query, branchID))
	if err != nil {
		return Branch{}, fmt.Errorf("get branch: %w", translate(err))
	}
	return branch, nil
}

func getRevision(ctx context.Context, q queryer, branchID string, number int) (Revision, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+revisionColumns+`
		FROM revisions
		WHERE branch_id=$1 AND revision_number=$2
	`, branchID, number)
	revision, err := scanRevision(row)
	if err != nil {
		return Revision{}, fmt.Errorf("get revision: %w", translate(err))
	}
	return revision, nil
}

func insertMergeAttempt(ctx context.Context, q queryer, attempt MergeAttempt) (MergeAttempt, error) {
	var conflicts any
	if attempt.Conflicts != nil {
		encoded, err := json.Marshal(attempt.Conflicts)
		if err != nil {
			return MergeAttempt{}, fmt.Errorf("marshal merge conflicts: %w", err)
		}
		conflicts = string(encoded)
	}
	var resultRevision any
	if attempt.ResultRevisionID != "" {
		resultRevision = attempt.ResultRevisionID
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO branch_merges (source_branch_id, target_branch_id, merge_type, conflicts, merged_by, merged_at, result_revision_id, attempted_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
		RETURNING id
	`, attempt.SourceBranchID, attempt.TargetBranchID, attempt.MergeType, conflicts, attempt.MergedBy,
		attempt.MergedAt, resultRevision, attempt.AttemptedAt).Scan(&attempt.ID)
	if err != nil {
		return MergeAttempt{}, fmt.Errorf("insert merge attempt: %w", translate(err))
	}
	return attempt, nil
}

func scanBranch(row rowScanner) (Branch, error) {
	var item Branch
	var wordCountsRaw []byte
	var mergedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.BranchName,
		&item.ParentBranch,
		&item.Status,
		&item.Description,
		&item.VersionHash,
		&wordCountsRaw,
		&mergedAt,
		&item.MergedBy,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Branch{}, err
	}
	item.SectionWordCounts = map[string]int{}
	if len(wordCountsRaw) > 0 {
		if err := json.Unmarshal(wordCountsRaw, &item.SectionWordCounts); err != nil {
			return Branch{}, fmt.Errorf("decode word counts: %w", err)
		}
	}
	if mergedAt.Valid {
		at := mergedAt.Time
		item.MergedAt = &at
	}
	return item, nil
}

func scanRevision(row rowScanner) (Revision, error) {
	var item Revision
	var contentRaw, changedRaw, diffRaw []byte
	if err := row.Scan(
		&item.ID,
		&item.BranchID,
		&item.RevisionNumber,
		&contentRaw,
		&changedRaw,
		&diffRaw,
		&item.WordCount,
		&item.CommitMessage,
		&item.CreatedBy,
		&item.CreatedAt,
	); err != nil {
		return Revision{}, err
	}
	if err := json.Unmarshal(contentRaw, &item.Content); err != nil {
		return Revision{}, fmt.Errorf("decode revision content: %w", err)
	}
	item.SectionsChanged = []string{}
	if err := json.Unmarshal(changedRaw, &item.SectionsChanged); err != nil {
		return Revision{}, fmt.Errorf("decode sections changed: %w", err)
	}
	item.DiffFromParent = sections.Diff{}
	if err := json.Unmarshal(diffRaw, &item.DiffFromParent); err != nil {
		return Revision{}, fmt.Errorf("decode revision diff: %w", err)
	}
	return item, nil
}

func scanMergeAttempt(row rowScanner) (MergeAttempt, error) {
	var item MergeAttempt
	var conflictsRaw []byte
	var mergedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.SourceBranchID,
		&item.TargetBranchID,
		&item.MergeType,
		&conflictsRaw,
		&item.MergedBy,
		&mergedAt,
		&item.ResultRevisionID,
		&item.AttemptedAt,
	); err != nil {
		return MergeAttempt{}, err
	}
	if len(conflictsRaw) > 0 {
		if err := json.Unmarshal(conflictsRaw, &item.Conflicts); err != nil {
			return MergeAttempt{}, fmt.Errorf("decode merge conflicts: %w", err)
		}
	}
	if mergedAt.Valid {
		at := mergedAt.Time
		item.MergedAt = &at
	}
	return item, nil
}

func encodeWordCounts(counts map[string]int) (string, error) {
	if counts == nil {
		counts = map[string]int{}
	}
	encoded, err := json.Marshal(counts)
	if err != nil {
		return "", fmt.Errorf("marshal word counts: %w", err)
	}
	return string(encoded), nil
}

func requireRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

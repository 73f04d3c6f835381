package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"manuscript/api/internal/sections"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over branches and revisions using plainto_tsquery
// and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var documentArg, branchArg string
	if q.DocumentID != "" {
		documentArg = fmt.Sprintf("$%d", argN)
		args = append(args, q.DocumentID)
		argN++
	}
	if q.BranchID != "" {
		branchArg = fmt.Sprintf("$%d", argN)
		args = append(args, q.BranchID)
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultBranch {
		branchVector := "to_tsvector('english', b.branch_name || ' ' || b.description)"
		where := branchVector + " @@ " + tsQuery + " AND b.status <> 'deleted'"
		if documentArg != "" {
			where += " AND b.document_id = " + documentArg
		}
		if branchArg != "" {
			where += " AND b.id = " + branchArg
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'branch'::text AS type, b.id, b.branch_name AS title,
				ts_headline('english', b.description, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.document_id, b.id AS branch_id, 0 AS revision_number,
				ts_rank(%s, %s) AS rank
			FROM branches b
			WHERE %s`, tsQuery, branchVector, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultRevision {
		where := "r.fts @@ " + tsQuery + " AND b.status <> 'deleted'"
		if documentArg != "" {
			where += " AND b.document_id = " + documentArg
		}
		if branchArg != "" {
			where += " AND r.branch_id = " + branchArg
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'revision'::text AS type, r.id, r.commit_message AS title,
				ts_headline('english', r.content::text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.document_id, r.branch_id, r.revision_number,
				ts_rank(r.fts, %s) AS rank
			FROM revisions r
			JOIN branches b ON b.id = r.branch_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, branch_id, revision_number
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.BranchID, &r.RevisionNumber); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every live branch and revision for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]BranchRecord, []RevisionRecord, error) {
	branchRows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, branch_name, description, status
		FROM branches
		WHERE status <> 'deleted'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load branches: %w", err)
	}
	defer branchRows.Close()

	branches := make([]BranchRecord, 0)
	for branchRows.Next() {
		var b BranchRecord
		if err := branchRows.Scan(&b.ID, &b.DocumentID, &b.BranchName, &b.Description, &b.Status); err != nil {
			return nil, nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	if err := branchRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate branches: %w", err)
	}

	revisionRows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.branch_id, b.branch_name, b.document_id, r.revision_number, r.commit_message, r.content, r.created_by
		FROM revisions r
		JOIN branches b ON b.id = r.branch_id
		WHERE b.status <> 'deleted'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load revisions: %w", err)
	}
	defer revisionRows.Close()

	revisions := make([]RevisionRecord, 0)
	for revisionRows.Next() {
		var r RevisionRecord
		var contentRaw []byte
		if err := revisionRows.Scan(&r.ID, &r.BranchID, &r.BranchName, &r.DocumentID, &r.RevisionNumber, &r.CommitMessage, &contentRaw, &r.CreatedBy); err != nil {
			return nil, nil, fmt.Errorf("scan revision: %w", err)
		}
		var content sections.Content
		if err := json.Unmarshal(contentRaw, &content); err != nil {
			return nil, nil, fmt.Errorf("decode revision %s content: %w", r.ID, err)
		}
		r.Sections = content.Keys()
		r.Body = renderBody(content)
		revisions = append(revisions, r)
	}
	if err := revisionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate revisions: %w", err)
	}

	return branches, revisions, nil
}

// Package search indexes branches and revisions and answers full-text
// queries, preferring Meilisearch and falling back to Postgres FTS.
package search

import (
	"context"
	"strings"

	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBranch   ResultType = "branch"
	ResultRevision ResultType = "revision"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	DocumentID     string     `json:"documentId"`
	BranchID       string     `json:"branchId"`
	RevisionNumber int        `json:"revisionNumber,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	DocumentID string
	BranchID   string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexBranch(b BranchRecord) error
	IndexRevision(r RevisionRecord) error
	IndexBranches(b []BranchRecord) error
	IndexRevisions(r []RevisionRecord) error
	DeleteBranch(id string) error
}

// BranchRecord is the data we index for a branch.
type BranchRecord struct {
	ID          string `json:"id"`
	DocumentID  string `json:"documentId"`
	BranchName  string `json:"branchName"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// RevisionRecord is the data we index for a revision.
type RevisionRecord struct {
	ID             string   `json:"id"`
	BranchID       string   `json:"branchId"`
	BranchName     string   `json:"branchName"`
	DocumentID     string   `json:"documentId"`
	RevisionNumber int      `json:"revisionNumber"`
	CommitMessage  string   `json:"commitMessage"`
	Sections       []string `json:"sections"`
	Body           string   `json:"body"`
	CreatedBy      string   `json:"createdBy"`
}

func NewBranchRecord(b store.Branch) BranchRecord {
	return BranchRecord{
		ID:          b.ID,
		DocumentID:  b.DocumentID,
		BranchName:  b.BranchName,
		Description: b.Description,
		Status:      b.Status,
	}
}

func NewRevisionRecord(b store.Branch, r store.Revision) RevisionRecord {
	return RevisionRecord{
		ID:             r.ID,
		BranchID:       r.BranchID,
		BranchName:     b.BranchName,
		DocumentID:     b.DocumentID,
		RevisionNumber: r.RevisionNumber,
		CommitMessage:  r.CommitMessage,
		Sections:       r.Content.Keys(),
		Body:           renderBody(r.Content),
		CreatedBy:      r.CreatedBy,
	}
}

// renderBody flattens sections into "name: text" paragraphs in document order.
func renderBody(c sections.Content) string {
	var body strings.Builder
	for i, key := range c.Keys() {
		if i > 0 {
			body.WriteString("\n\n")
		}
		text, _ := c.Get(key)
		body.WriteString(key)
		body.WriteString(": ")
		body.WriteString(text)
	}
	return body.String()
}

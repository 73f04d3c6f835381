// Package archive uploads a JSON snapshot of a branch's history to object
// storage when the branch is archived.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

const snapshotContentType = "application/json"

// Options configure the object store connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archiver struct {
	client objectStore
	bucket string
	logger *slog.Logger
	now    func() time.Time
}

// Snapshot is the object body written for one archived branch.
type Snapshot struct {
	ArchivedAt time.Time          `json:"archivedAt"`
	Branch     BranchSnapshot     `json:"branch"`
	Revisions  []RevisionSnapshot `json:"revisions"`
}

type BranchSnapshot struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	BranchName   string `json:"branchName"`
	ParentBranch string `json:"parentBranch"`
	Status       string `json:"status"`
	Description  string `json:"description,omitempty"`
	VersionHash  string `json:"versionHash,omitempty"`
	CreatedBy    string `json:"createdBy"`
}

type RevisionSnapshot struct {
	ID              string           `json:"id"`
	RevisionNumber  int              `json:"revisionNumber"`
	Content         sections.Content `json:"content"`
	SectionsChanged []string         `json:"sectionsChanged"`
	WordCount       int              `json:"wordCount"`
	CommitMessage   string           `json:"commitMessage"`
	CreatedBy       string           `json:"createdBy"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// New connects to an S3-compatible endpoint and makes sure the bucket exists.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Archiver, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("archive: endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	a := newArchiver(client, opts.Bucket, logger)
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func newArchiver(client objectStore, bucket string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("archive: create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info("archive bucket created", "bucket", a.bucket)
	return nil
}

// ObjectKey names the snapshot object. Keys are timestamped, one object per
// archive event.
func ObjectKey(branch store.Branch, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", branch.DocumentID, branch.ID, at.UTC().Format("20060102T150405Z"))
}

// ArchiveBranch uploads the branch and its revisions (oldest first) and
// returns the object key.
func (a *Archiver) ArchiveBranch(ctx context.Context, branch store.Branch, revisions []store.Revision) (string, error) {
	at := a.now()
	body, err := json.Marshal(NewSnapshot(branch, revisions, at))
	if err != nil {
		return "", fmt.Errorf("archive: encode snapshot: %w", err)
	}

	key := ObjectKey(branch, at)
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: snapshotContentType,
		UserMetadata: map[string]string{
			"branch-id":   branch.ID,
			"document-id": branch.DocumentID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}
	a.logger.Info("branch archived to object storage", "bucket", a.bucket, "key", key, "size", info.Size, "revisions", len(revisions))
	return key, nil
}

// NewSnapshot orders revisions by ascending number regardless of input order.
func NewSnapshot(branch store.Branch, revisions []store.Revision, at time.Time) Snapshot {
	snap := Snapshot{
		ArchivedAt: at.UTC(),
		Branch: BranchSnapshot{
			ID:           branch.ID,
			DocumentID:   branch.DocumentID,
			BranchName:   branch.BranchName,
			ParentBranch: branch.ParentBranch,
			Status:       branch.Status,
			Description:  branch.Description,
			VersionHash:  branch.VersionHash,
			CreatedBy:    branch.CreatedBy,
		},
		Revisions: make([]RevisionSnapshot, len(revisions)),
	}
	for i, rev := range revisions {
		changed := rev.SectionsChanged
		if changed == nil {
			changed = []string{}
		}
		snap.Revisions[i] = RevisionSnapshot{
			ID:              rev.ID,
			RevisionNumber:  rev.RevisionNumber,
			Content:         rev.Content,
			SectionsChanged: changed,
			WordCount:       rev.WordCount,
			CommitMessage:   rev.CommitMessage,
			CreatedBy:       rev.CreatedBy,
			CreatedAt:       rev.CreatedAt,
		}
	}
	sort.Slice(snap.Revisions, func(i, j int) bool {
		return snap.Revisions[i].RevisionNumber < snap.Revisions[j].RevisionNumber
	})
	return snap
}

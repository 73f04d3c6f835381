// Package gitrepo mirrors revision history into one git repository per
// document: every branch becomes a git branch and every revision a commit
// carrying the section snapshot as content.json.
package gitrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

const (
	contentFile      = "content.json"
	revisionTrailer  = "Revision: "
	branchIDTrailer  = "Branch-Id: "
	retiredRefPrefix = "refs/retired/"
)

type CommitInfo struct {
	Hash           string
	Message        string
	Author         string
	BranchID       string
	RevisionNumber int
	CreatedAt      time.Time
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// MirrorRevision commits revision onto the git branch named after branch.
// Revisions not newer than the branch's last mirrored one are skipped, so
// replays and out-of-order calls are harmless.
func (s *Service) MirrorRevision(ctx context.Context, branch store.Branch, revision store.Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.documentLock(branch.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(branch.DocumentID)
	if err != nil {
		return err
	}

	branchRef := plumbing.NewBranchReferenceName(branch.BranchName)
	head, err := branchHead(repo, branchRef)
	if err != nil {
		return err
	}

	if head != nil {
		headBranchID, headNumber := parseTrailers(head.Message)
		switch {
		case headBranchID != branch.ID:
			if err := retireRef(repo, branchRef, head.Hash, headBranchID); err != nil {
				return err
			}
			head = nil
		case headNumber >= revision.RevisionNumber:
			return nil
		}
	}

	if head == nil && branch.ParentBranch != "" && branch.ParentBranch != branch.BranchName {
		if parent, err := branchHead(repo, plumbing.NewBranchReferenceName(branch.ParentBranch)); err != nil {
			return err
		} else if parent != nil {
			if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, parent.Hash)); err != nil {
				return fmt.Errorf("create branch ref: %w", err)
			}
		}
	}

	if _, err := s.commit(repo, branchRef, branch, revision); err != nil {
		return err
	}
	return nil
}

// History lists commits of a branch, newest first.
func (s *Service) History(documentID, branchName string, limit int) ([]CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// HeadContent returns the sections stored at the tip of a git branch.
func (s *Service) HeadContent(documentID, branchName string) (sections.Content, CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return sections.Content{}, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	head, err := branchHead(repo, plumbing.NewBranchReferenceName(branchName))
	if err != nil {
		return sections.Content{}, CommitInfo{}, err
	}
	if head == nil {
		return sections.Content{}, CommitInfo{}, fmt.Errorf("resolve branch %s: %w", branchName, plumbing.ErrReferenceNotFound)
	}
	content, err := readContentFromCommit(head)
	if err != nil {
		return sections.Content{}, CommitInfo{}, err
	}
	return content, toCommitInfo(head), nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

// commit points HEAD at branchRef and records the snapshot there. content.json
// is the only tracked file, so the index never needs a checkout.
func (s *Service) commit(repo *git.Repository, branchRef plumbing.ReferenceName, branch store.Branch, revision store.Revision) (plumbing.Hash, error) {
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("point HEAD at %s: %w", branchRef, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(revision.Content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	message := revision.CommitMessage
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Revision %d", revision.RevisionNumber)
	}
	message = fmt.Sprintf("%s\n\n%s%d\n%s%s\n", message, revisionTrailer, revision.RevisionNumber, branchIDTrailer, branch.ID)

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  revision.CreatedBy,
			Email: fmt.Sprintf("%s@users.manuscript.local", sanitizeEmail(revision.CreatedBy)),
			When:  revision.CreatedAt,
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit revision %d: %w", revision.RevisionNumber, err)
	}
	return hash, nil
}

func branchHead(repo *git.Repository, ref plumbing.ReferenceName) (*object.Commit, error) {
	resolved, err := repo.Reference(ref, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	commitObj, err := repo.CommitObject(resolved.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", resolved.Hash(), err)
	}
	return commitObj, nil
}

// retireRef moves a git branch left behind by a deleted branch of the same
// name out of refs/heads.
func retireRef(repo *git.Repository, ref plumbing.ReferenceName, hash plumbing.Hash, oldBranchID string) error {
	if oldBranchID == "" {
		oldBranchID = hash.String()[:12]
	}
	retired := plumbing.ReferenceName(retiredRefPrefix + oldBranchID)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(retired, hash)); err != nil {
		return fmt.Errorf("retire %s: %w", ref, err)
	}
	if err := repo.Storer.RemoveReference(ref); err != nil {
		return fmt.Errorf("remove %s: %w", ref, err)
	}
	return nil
}

func parseTrailers(message string) (branchID string, revisionNumber int) {
	for _, line := range strings.Split(message, "\n") {
		switch {
		case strings.HasPrefix(line, revisionTrailer):
			revisionNumber, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, revisionTrailer)))
		case strings.HasPrefix(line, branchIDTrailer):
			branchID = strings.TrimSpace(strings.TrimPrefix(line, branchIDTrailer))
		}
	}
	return branchID, revisionNumber
}

func readContentFromCommit(commitObj *object.Commit) (sections.Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return sections.Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return sections.Content{}, fmt.Errorf("read content: %w", err)
	}
	var content sections.Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return sections.Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	branchID, number := parseTrailers(commitObj.Message)
	subject, _, _ := strings.Cut(commitObj.Message, "\n")
	return CommitInfo{
		Hash:           commitObj.Hash.String()[:7],
		Message:        subject,
		Author:         commitObj.Author.Name,
		BranchID:       branchID,
		RevisionNumber: number,
		CreatedAt:      commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

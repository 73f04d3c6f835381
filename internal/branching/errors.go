package branching

import (
	"errors"
	"fmt"

	"manuscript/api/internal/store"
)

var (
	ErrDuplicateBranchName = errors.New("duplicate branch name")
	ErrBranchNotFound      = errors.New("branch not found")
	ErrRevisionNotFound    = errors.New("revision not found")
	ErrEmptySourceBranch   = errors.New("source branch has no revisions")
	ErrInvalidMerge        = errors.New("invalid merge")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnavailable         = errors.New("feature not configured")
	ErrStorage             = errors.New("storage failure")
)

var domainErrors = []error{
	ErrDuplicateBranchName,
	ErrBranchNotFound,
	ErrRevisionNotFound,
	ErrEmptySourceBranch,
	ErrInvalidMerge,
	ErrInvalidInput,
	ErrUnavailable,
	ErrStorage,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storageError wraps err in ErrStorage unless it already carries a domain error.
func storageError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// notFound turns store.ErrNotFound into sentinel and anything else into a storage error.
func notFound(op string, err error, sentinel error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, sentinel)
	}
	return storageError(op, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

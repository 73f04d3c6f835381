package app

import (
	"errors"
	"fmt"
	"net/http"

	"manuscript/api/internal/auth"
	"manuscript/api/internal/branching"
	"manuscript/api/internal/export"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// mapError turns service errors into an HTTP status and error code. Storage
// failures never leak their message.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, branching.ErrBranchNotFound):
		return http.StatusNotFound, "BRANCH_NOT_FOUND", "Branch not found", nil
	case errors.Is(err, branching.ErrRevisionNotFound):
		return http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil
	case errors.Is(err, branching.ErrDuplicateBranchName):
		return http.StatusConflict, "DUPLICATE_BRANCH_NAME", "Branch name already exists", nil
	case errors.Is(err, branching.ErrEmptySourceBranch):
		return http.StatusUnprocessableEntity, "EMPTY_SOURCE_BRANCH", "Source branch has no revisions", nil
	case errors.Is(err, branching.ErrInvalidMerge):
		return http.StatusUnprocessableEntity, "INVALID_MERGE", err.Error(), nil
	case errors.Is(err, branching.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, branching.ErrUnavailable),
		errors.Is(err, export.ErrPDFDependencyMissing),
		errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

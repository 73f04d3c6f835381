package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"manuscript/api/internal/branching"
	"manuscript/api/internal/export"
	"manuscript/api/internal/rbac"
	"manuscript/api/internal/search"
	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		session, err := s.service.SessionFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "documents" && parts[3] == "branches" {
		s.handleDocumentBranches(w, r, parts[2], parts[4:])
		return
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "branches" {
		s.handleBranch(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleDocumentBranches serves /api/documents/{doc}/branches[/by-name/{name}].
func (s *HTTPServer) handleDocumentBranches(w http.ResponseWriter, r *http.Request, documentID string, rest []string) {
	versions := s.service.Versions()

	if len(rest) >= 2 && rest[0] == "by-name" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
			return
		}
		// Branch names may contain slashes.
		branch, err := versions.GetBranchByName(r.Context(), documentID, strings.Join(rest[1:], "/"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBranchView(branch))
		return
	}
	if len(rest) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
			return
		}
		includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("includeArchived"))
		items, err := versions.ListBranches(r.Context(), documentID, includeArchived)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": lo.Map(items, func(b store.Branch, _ int) branchView { return toBranchView(b) })})

	case http.MethodPost:
		session, ok := s.authorize(w, r, rbac.ActionCommit)
		if !ok {
			return
		}
		var body struct {
			BranchName   string `json:"branchName"`
			ParentBranch string `json:"parentBranch"`
			Description  string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		branch, err := versions.CreateBranch(r.Context(), branching.CreateBranchInput{
			DocumentID:   documentID,
			BranchName:   body.BranchName,
			ParentBranch: body.ParentBranch,
			Description:  body.Description,
			CreatedBy:    session.UserID,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBranchView(branch))

	default:
		methodNotAllowed(w)
	}
}

// handleBranch serves everything under /api/branches/{id}.
func (s *HTTPServer) handleBranch(w http.ResponseWriter, r *http.Request, branchID string, rest []string) {
	if len(rest) == 0 {
		s.handleBranchResource(w, r, branchID)
		return
	}

	switch rest[0] {
	case "archive":
		if r.Method != http.MethodPost || len(rest) != 1 {
			methodNotAllowed(w)
			return
		}
		session, ok := s.authorize(w, r, rbac.ActionArchive)
		if !ok {
			return
		}
		branch, err := s.service.Versions().ArchiveBranch(r.Context(), branchID, session.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBranchView(branch))

	case "revisions":
		s.handleRevisions(w, r, branchID, rest[1:])

	case "compare":
		if r.Method != http.MethodGet || len(rest) != 1 {
			methodNotAllowed(w)
			return
		}
		if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
			return
		}
		from, fromErr := strconv.Atoi(r.URL.Query().Get("from"))
		to, toErr := strconv.Atoi(r.URL.Query().Get("to"))
		if fromErr != nil || toErr != nil {
			s.writeServiceError(w, r, validationError("from and to must be revision numbers"))
			return
		}
		comparison, err := s.service.Versions().CompareRevisions(r.Context(), branchID, from, to)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, comparison)

	case "merge":
		if r.Method != http.MethodPost || len(rest) != 1 {
			methodNotAllowed(w)
			return
		}
		s.handleMerge(w, r, branchID)

	case "merges":
		if r.Method != http.MethodGet || len(rest) != 1 {
			methodNotAllowed(w)
			return
		}
		if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
			return
		}
		items, err := s.service.Versions().ListMergeAttempts(r.Context(), branchID, queryInt(r, "limit"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": lo.Map(items, func(a store.MergeAttempt, _ int) mergeAttemptView { return toMergeAttemptView(a) })})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBranchResource(w http.ResponseWriter, r *http.Request, branchID string) {
	versions := s.service.Versions()
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
			return
		}
		branch, err := versions.GetBranch(r.Context(), branchID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBranchView(branch))

	case http.MethodPatch:
		session, ok := s.authorize(w, r, rbac.ActionCommit)
		if !ok {
			return
		}
		var body struct {
			Description *string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Description == nil {
			s.writeServiceError(w, r, validationError("description is required"))
			return
		}
		branch, err := versions.UpdateBranchDescription(r.Context(), branchID, *body.Description, session.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBranchView(branch))

	case http.MethodDelete:
		session, ok := s.authorize(w, r, rbac.ActionDelete)
		if !ok {
			return
		}
		branch, err := versions.DeleteBranch(r.Context(), branchID, session.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBranchView(branch))

	default:
		methodNotAllowed(w)
	}
}

// handleRevisions serves /api/branches/{id}/revisions[/latest|/{n}[/export]].
func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request, branchID string, rest []string) {
	versions := s.service.Versions()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
				return
			}
			items, err := versions.ListRevisions(r.Context(), branchID, queryInt(r, "limit"))
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": lo.Map(items, func(rev store.Revision, _ int) revisionView { return toRevisionView(rev) })})

		case http.MethodPost:
			session, ok := s.authorize(w, r, rbac.ActionCommit)
			if !ok {
				return
			}
			var body struct {
				Content       sections.Content `json:"content"`
				CommitMessage string           `json:"commitMessage"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			revision, err := versions.CreateRevision(r.Context(), branching.CreateRevisionInput{
				BranchID:      branchID,
				Content:       body.Content,
				CommitMessage: body.CommitMessage,
				CreatedBy:     session.UserID,
			})
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, toRevisionView(revision))

		default:
			methodNotAllowed(w)
		}
		return
	}

	if r.Method != http.MethodGet || len(rest) > 2 {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
		return
	}

	if rest[0] == "latest" && len(rest) == 1 {
		revision, err := versions.GetLatestRevision(r.Context(), branchID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if revision == nil {
			writeJSON(w, http.StatusOK, map[string]any{"revision": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revision": toRevisionView(*revision)})
		return
	}

	number, err := strconv.Atoi(rest[0])
	if err != nil || number < 1 {
		s.writeServiceError(w, r, validationError("revision number must be a positive integer"))
		return
	}

	if len(rest) == 2 {
		if rest[1] != "export" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.handleExport(w, r, branchID, number)
		return
	}

	revision, err := versions.GetRevision(r.Context(), branchID, number)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRevisionView(revision))
}

func (s *HTTPServer) handleMerge(w http.ResponseWriter, r *http.Request, sourceBranchID string) {
	session, ok := s.authorize(w, r, rbac.ActionMerge)
	if !ok {
		return
	}
	var body struct {
		TargetBranchID string `json:"targetBranchId"`
		MergeType      string `json:"mergeType"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.TargetBranchID) == "" {
		s.writeServiceError(w, r, validationError("targetBranchId is required"))
		return
	}
	mergeType := strings.TrimSpace(body.MergeType)
	if mergeType == "" {
		mergeType = store.MergeFastForward
	}

	result, err := s.service.Versions().MergeBranch(r.Context(), branching.MergeRequest{
		SourceBranchID: sourceBranchID,
		TargetBranchID: body.TargetBranchID,
		MergeType:      mergeType,
		MergedBy:       session.UserID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, toMergeResultView(result))
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, branchID string, number int) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result, err := s.service.Versions().ExportRevision(r.Context(), branchID, number, format)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, rbac.ActionRead); !ok {
		return
	}
	query := r.URL.Query()
	resp, err := s.service.Versions().SearchRevisions(r.Context(), search.Query{
		Text:       query.Get("q"),
		FilterType: search.ResultType(query.Get("type")),
		DocumentID: query.Get("documentId"),
		BranchID:   query.Get("branchId"),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	session, err := s.service.SessionFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

// writeServiceError maps err and logs anything that surfaces as a 5xx.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", requestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.InfoContext(ctx, "request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return value
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

package app

import (
	"net/http"

	"manuscript/api/internal/rbac"
)

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.WarnContext(r.Context(), "permission denied",
		"request_id", requestID(r.Context()),
		"user_id", session.UserID,
		"role", string(session.Role),
		"action", string(action),
		"path", r.URL.Path,
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// authorize resolves the session and checks it may perform action.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, action rbac.Action) (Session, bool) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if !s.service.Can(session.Role, action) {
		s.forbid(w, r, session, action)
		return Session{}, false
	}
	return session, true
}

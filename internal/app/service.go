package app

import (
	"context"
	"log/slog"
	"time"

	"manuscript/api/internal/auth"
	"manuscript/api/internal/branching"
	"manuscript/api/internal/rbac"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Session identifies the caller of an authenticated request.
type Session struct {
	UserID    string
	UserName  string
	Role      rbac.Role
	ExpiresAt time.Time
}

// Service binds the versioning engine to request sessions and readiness checks.
type Service struct {
	versions *branching.Service
	issuer   *auth.Issuer
	checks   map[string]Pinger
	logger   *slog.Logger
}

func NewService(versions *branching.Service, issuer *auth.Issuer, checks map[string]Pinger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{versions: versions, issuer: issuer, checks: checks, logger: logger}
}

func (s *Service) Versions() *branching.Service {
	return s.versions
}

func (s *Service) SessionFromHeader(header string) (Session, error) {
	claims, err := s.issuer.Verify(header)
	if err != nil {
		return Session{}, err
	}
	name := claims.Name
	if name == "" {
		name = claims.Sub
	}
	return Session{
		UserID:    claims.Sub,
		UserName:  name,
		Role:      rbac.Normalize(claims.Role),
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// Ready pings every dependency and reports each result by name.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := make(map[string]any, len(s.checks))
	for name, pinger := range s.checks {
		if err := pinger.Ping(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return ready, checks
}

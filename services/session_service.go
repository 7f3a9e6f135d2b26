package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/config"
	"github.com/BradenHooton/warden/models"
)

// SessionTokenBytes is the entropy of a session token before encoding.
const SessionTokenBytes = 32

// SessionRepository defines the interface for session persistence
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	SetInactive(ctx context.Context, token string) error
	Extend(ctx context.Context, token string, expiresAt time.Time) error
	InvalidateAllForMember(ctx context.Context, memberID int64) (int64, error)
	ActiveByMember(ctx context.Context, memberID int64) ([]*models.Session, error)
}

// SessionService manages opaque-token sessions: sliding expiry, lazy
// soft delete, and the per-member critical section that keeps at most one
// session active per account.
type SessionService struct {
	repo    SessionRepository
	locks   *LockRegistry
	audit   *AuditService
	logger  *slog.Logger
	ttl     time.Duration
	binding string
	now     func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(repo SessionRepository, locks *LockRegistry, audit *AuditService, log *slog.Logger, cfg config.AuthConfig) *SessionService {
	return &SessionService{
		repo:    repo,
		locks:   locks,
		audit:   audit,
		logger:  log,
		ttl:     cfg.SessionTTL,
		binding: cfg.SessionBinding,
		now:     time.Now,
	}
}

// GenerateSessionToken returns a fresh opaque token: 32 random bytes,
// URL-safe base64. The token is the storage key; it never encodes state.
func GenerateSessionToken() (string, error) {
	buf := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create opens a session for the member without touching existing ones.
// Login flows should use EstablishExclusive instead.
func (s *SessionService) Create(ctx context.Context, memberID int64, ipAddress, userAgent string) (*models.Session, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return nil, models.ErrInternalServer
	}

	now := s.now()
	session := &models.Session{
		Token:     token,
		MemberID:  memberID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		IPAddress: ipAddress,
		UserAgent: userAgent,
		IsActive:  true,
	}

	created, err := s.repo.Create(ctx, session)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create session",
			slog.Int64("member_id", memberID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return created, nil
}

// GetActive returns the session for a token if it is both active and
// unexpired. An active-but-expired session is flipped inactive on the spot
// (lazy expiry, soft delete only) and reported as not found.
func (s *SessionService) GetActive(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if !session.IsActive {
		return nil, models.ErrNotFound
	}

	if !session.ExpiresAt.After(s.now()) {
		if err := s.repo.SetInactive(ctx, token); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to expire session",
				slog.Int64("member_id", session.MemberID),
				slog.Any("error", err))
		}
		return nil, models.ErrNotFound
	}

	return session, nil
}

// Validate authenticates a request token and slides the expiry forward.
// IP/user-agent drift is always detected and logged; whether it rejects
// depends on the configured binding mode.
func (s *SessionService) Validate(ctx context.Context, token, ipAddress, userAgent string) (*models.Session, error) {
	session, err := s.GetActive(ctx, token)
	if err != nil {
		return nil, err
	}

	if session.IPAddress != ipAddress || session.UserAgent != userAgent {
		s.logger.WarnContext(ctx, "session binding mismatch",
			slog.Int64("member_id", session.MemberID),
			slog.String("binding", s.binding),
			slog.Bool("ip_changed", session.IPAddress != ipAddress),
			slog.Bool("user_agent_changed", session.UserAgent != userAgent))
		s.audit.Record(ctx, session.MemberID, models.AuditSessionBindingMismatch, ipAddress, userAgent,
			fmt.Sprintf("binding mode %s", s.binding))

		if s.binding == config.SessionBindingStrict {
			if err := s.Invalidate(ctx, token); err != nil {
				return nil, err
			}
			return nil, models.ErrNotFound
		}
	}

	expiresAt := s.now().Add(s.ttl)
	if err := s.repo.Extend(ctx, token, expiresAt); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to extend session",
			slog.Int64("member_id", session.MemberID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	session.ExpiresAt = expiresAt

	return session, nil
}

// Invalidate soft-deletes one session. Idempotent: a token that is already
// gone is a success.
func (s *SessionService) Invalidate(ctx context.Context, token string) error {
	err := s.repo.SetInactive(ctx, token)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return models.ErrInternalServer
	}
	return nil
}

// InvalidateAllForMember sweeps every active session under the member's lock.
func (s *SessionService) InvalidateAllForMember(ctx context.Context, memberID int64, ipAddress, userAgent string) error {
	lock := s.locks.Get(memberID)
	lock.Lock()
	defer lock.Unlock()

	return s.invalidateAllLocked(ctx, memberID, ipAddress, userAgent)
}

// EstablishExclusive is the login protocol's critical section: under the
// member's lock it invalidates every active session, then creates the new
// one. Concurrent logins serialize here, so at most one session survives.
func (s *SessionService) EstablishExclusive(ctx context.Context, memberID int64, ipAddress, userAgent string) (*models.Session, error) {
	lock := s.locks.Get(memberID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.invalidateAllLocked(ctx, memberID, ipAddress, userAgent); err != nil {
		return nil, err
	}

	return s.Create(ctx, memberID, ipAddress, userAgent)
}

// ActiveSessions lists the member's usable sessions, newest first.
func (s *SessionService) ActiveSessions(ctx context.Context, memberID int64) ([]*models.Session, error) {
	sessions, err := s.repo.ActiveByMember(ctx, memberID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	now := s.now()
	usable := make([]*models.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.Usable(now) {
			usable = append(usable, session)
		}
	}
	return usable, nil
}

func (s *SessionService) invalidateAllLocked(ctx context.Context, memberID int64, ipAddress, userAgent string) error {
	swept, err := s.repo.InvalidateAllForMember(ctx, memberID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to invalidate member sessions",
			slog.Int64("member_id", memberID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if swept > 0 {
		s.audit.Record(ctx, memberID, models.AuditSessionsInvalidated, ipAddress, userAgent,
			fmt.Sprintf("%d sessions invalidated", swept))
	}
	return nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/warden/models"
)

// AuditLogRepository defines the interface for audit log persistence
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	ListByMember(ctx context.Context, memberID int64, limit int, offset int) ([]*models.AuditLog, error)
	CountByMember(ctx context.Context, memberID int64) (int64, error)
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo   AuditLogRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Record logs one auth event. memberID zero means the event could not be
// attributed to a known account; those are logged but not persisted, since
// audit rows reference the members table.
func (s *AuditService) Record(ctx context.Context, memberID int64, action, ipAddress, userAgent, details string) {
	// Dual-write: immediate slog output
	s.logger.InfoContext(ctx, "audit event",
		slog.Int64("member_id", memberID),
		slog.String("action", action),
		slog.String("ip_address", ipAddress),
		slog.String("details", details),
	)

	if memberID == 0 {
		return
	}

	log := &models.AuditLog{
		MemberID:  memberID,
		Action:    action,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   details,
	}

	// Non-critical: don't fail the authentication if audit logging fails
	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}

// Trail retrieves the audit trail for a specific member, newest first
func (s *AuditService) Trail(ctx context.Context, memberID int64, limit int, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.ListByMember(ctx, memberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get member audit trail: %w", err)
	}

	return logs, nil
}

// CountForMember returns the count of audit logs for a member
func (s *AuditService) CountForMember(ctx context.Context, memberID int64) (int64, error) {
	count, err := s.repo.CountByMember(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

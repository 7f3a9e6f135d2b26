package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/models"
)

const (
	// LockoutThreshold is the consecutive-failure count that triggers a lock.
	LockoutThreshold = 3

	// LockoutDuration is how long a triggered lock holds.
	LockoutDuration = 15 * time.Minute
)

// LockoutGuard tracks consecutive failed logins per account and enforces
// the temporary lock. Locks expire lazily: nothing runs in the background,
// an expired lock is cleared on the next check.
type LockoutGuard struct {
	members MemberRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewLockoutGuard creates a new LockoutGuard.
func NewLockoutGuard(members MemberRepository, logger *slog.Logger) *LockoutGuard {
	return &LockoutGuard{
		members: members,
		logger:  logger,
		now:     time.Now,
	}
}

// Check reports whether the member may attempt a login right now. An expired
// lock is cleared in the store and on the passed member before returning.
func (g *LockoutGuard) Check(ctx context.Context, member *models.Member) error {
	if member.LockedUntil == nil {
		return nil
	}

	now := g.now()
	if member.LockedUntil.After(now) {
		return &models.LockedOutError{Until: *member.LockedUntil}
	}

	// Lock has lapsed: reset counter and lock together.
	if err := g.members.UpdateLockout(ctx, member.ID, 0, nil); err != nil {
		return fmt.Errorf("failed to clear expired lock: %w", err)
	}
	member.FailedLoginAttempts = 0
	member.LockedUntil = nil

	g.logger.InfoContext(ctx, "expired account lock cleared",
		slog.Int64("member_id", member.ID))
	return nil
}

// RecordFailure increments the failure counter and reports whether this
// failure crossed the threshold and locked the account.
func (g *LockoutGuard) RecordFailure(ctx context.Context, member *models.Member) (bool, error) {
	member.FailedLoginAttempts++

	var lockedUntil *time.Time
	if member.FailedLoginAttempts >= LockoutThreshold {
		until := g.now().Add(LockoutDuration)
		lockedUntil = &until
	}

	if err := g.members.UpdateLockout(ctx, member.ID, member.FailedLoginAttempts, lockedUntil); err != nil {
		return false, fmt.Errorf("failed to record login failure: %w", err)
	}
	member.LockedUntil = lockedUntil

	if lockedUntil != nil {
		g.logger.WarnContext(ctx, "account locked after repeated failures",
			slog.Int64("member_id", member.ID),
			slog.Int("attempts", member.FailedLoginAttempts),
			slog.Time("locked_until", *lockedUntil))
		return true, nil
	}

	return false, nil
}

// RecordSuccess clears the counter and any lock after a verified credential.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, member *models.Member) error {
	if member.FailedLoginAttempts == 0 && member.LockedUntil == nil {
		return nil
	}

	if err := g.members.UpdateLockout(ctx, member.ID, 0, nil); err != nil {
		return fmt.Errorf("failed to clear lockout state: %w", err)
	}
	member.FailedLoginAttempts = 0
	member.LockedUntil = nil
	return nil
}

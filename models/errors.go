package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication failures are deliberately generic so callers cannot
	// distinguish an unknown account from a wrong credential.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidOTP         = errors.New("invalid or expired verification code")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")

	ErrPasswordExpired = errors.New("password has expired, reset required")
	ErrDeliveryFailure = errors.New("could not send email, please try again later")
)

// LockedOutError reports a temporary account lock. Unlike other
// authentication failures it carries the remaining time: the lock's
// existence already implies the account exists.
type LockedOutError struct {
	Until time.Time
}

func (e *LockedOutError) Error() string {
	remaining := time.Until(e.Until)
	if remaining < 0 {
		remaining = 0
	}
	minutes := int(remaining.Minutes())
	return fmt.Sprintf("account is locked, try again in %d minutes", minutes)
}

// RemainingMinutes reports whole minutes left on the lock at the given time.
func (e *LockedOutError) RemainingMinutes(now time.Time) int {
	remaining := e.Until.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Minutes())
}

// PolicyViolationError reports a password-policy rejection. The reason is
// actionable and is surfaced verbatim to the caller.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return e.Reason
}

// ValidationError reports malformed input, rejected before any state is read.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

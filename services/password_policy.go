package services

import (
	"fmt"
	"time"

	"github.com/BradenHooton/warden/models"
	"github.com/google/uuid"
)

const (
	// PasswordHistoryDepth is how many prior hashes are retained for reuse checks.
	PasswordHistoryDepth = 2

	// PasswordMinAge is the cooldown before a password may be changed again.
	PasswordMinAge = 24 * time.Hour

	// PasswordMaxAge is the age past which a password is expired and login is refused.
	PasswordMaxAge = 90 * 24 * time.Hour

	// PasswordExpiryWarning is the window before expiry in which callers should warn.
	PasswordExpiryWarning = 10 * 24 * time.Hour

	// ResetTokenTTL bounds how long a password reset token stays valid.
	ResetTokenTTL = 15 * time.Minute
)

// AgeStatus describes where a password sits in its lifecycle at one instant.
type AgeStatus struct {
	Expired       bool
	ExpiringSoon  bool
	DaysRemaining int
}

// PasswordPolicy owns password lifecycle rules: history, age, and reset tokens.
// Strength and hashing live in pkg/auth; this layer is pure bookkeeping over
// an injected clock.
type PasswordPolicy struct {
	now func() time.Time
}

// NewPasswordPolicy creates a policy using the wall clock.
func NewPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{now: time.Now}
}

// IsReused reports whether the candidate hash exactly matches the current
// hash or any retained prior hash. Two bcrypt hashes of the same password
// differ by salt, so this only catches a re-stored hash; the behavior is
// kept for compatibility with the stored history format.
func (p *PasswordPolicy) IsReused(candidateHash, currentHash string, history []string) bool {
	if candidateHash == currentHash {
		return true
	}
	for _, prior := range history {
		if candidateHash == prior {
			return true
		}
	}
	return false
}

// PushHistory prepends the outgoing hash and trims to the retained depth.
func (p *PasswordPolicy) PushHistory(history []string, outgoingHash string) []string {
	updated := append([]string{outgoingHash}, history...)
	if len(updated) > PasswordHistoryDepth {
		updated = updated[:PasswordHistoryDepth]
	}
	return updated
}

// Age returns the password's lifecycle status. A nil lastChanged means the
// password was never rotated since creation and is treated as brand-new.
func (p *PasswordPolicy) Age(lastChanged *time.Time) AgeStatus {
	if lastChanged == nil {
		return AgeStatus{DaysRemaining: int(PasswordMaxAge.Hours() / 24)}
	}

	age := p.now().Sub(*lastChanged)
	if age >= PasswordMaxAge {
		return AgeStatus{Expired: true}
	}

	remaining := PasswordMaxAge - age
	days := int(remaining.Hours() / 24)
	return AgeStatus{
		ExpiringSoon:  remaining <= PasswordExpiryWarning,
		DaysRemaining: days,
	}
}

// CanChange enforces the minimum password age for voluntary changes.
// Forced resets bypass this check.
func (p *PasswordPolicy) CanChange(lastChanged *time.Time) error {
	if lastChanged == nil {
		return nil
	}

	age := p.now().Sub(*lastChanged)
	if age < PasswordMinAge {
		hoursLeft := int((PasswordMinAge - age).Hours()) + 1
		return &models.PolicyViolationError{
			Reason: fmt.Sprintf("password was changed recently, try again in %d hours", hoursLeft),
		}
	}
	return nil
}

// GenerateResetToken returns an opaque reset token with at least 128 bits of
// randomness (two concatenated UUIDs).
func (p *PasswordPolicy) GenerateResetToken() string {
	return fmt.Sprintf("%s%s", uuid.New(), uuid.New())
}

// ResetTokenExpiry is the expiry instant for a token issued now.
func (p *PasswordPolicy) ResetTokenExpiry() time.Time {
	return p.now().Add(ResetTokenTTL)
}

// IsResetTokenValid checks the stored token pair against a presented token.
// Nil-safe: an account with no outstanding token matches nothing.
func (p *PasswordPolicy) IsResetTokenValid(member *models.Member, token string) bool {
	if member.PasswordResetToken == nil || member.PasswordResetTokenExpiry == nil {
		return false
	}
	if *member.PasswordResetToken != token {
		return false
	}
	return member.PasswordResetTokenExpiry.After(p.now())
}

package models

import (
	"time"
)

// Member is the credential-store record for one registered identity.
type Member struct {
	ID            int64
	Email         string // unique, stored lower-cased
	FirstName     string
	LastName      string
	Gender        string
	NRICEncrypted string // national ID, opaque ciphertext
	DateOfBirth   time.Time

	PasswordHash          string
	PasswordHistory       []string // prior hashes, most-recent-first, max 2
	LastPasswordChangedAt *time.Time

	FailedLoginAttempts int
	LockedUntil         *time.Time

	// Reset token pair: both set or both nil.
	PasswordResetToken       *string
	PasswordResetTokenExpiry *time.Time

	// OTP pair: both set or both nil, cleared on single successful use.
	TwoFactorEnabled bool
	CurrentOTP       *string
	OTPExpiry        *time.Time
	BackupCodes      *string // encrypted comma-joined blob

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DisplayName is the name used in outbound email.
func (m *Member) DisplayName() string {
	return m.FirstName + " " + m.LastName
}

package models

import (
	"time"
)

// Session is a time-bounded, revocable proof of an authenticated context,
// identified by an opaque high-entropy token used as the lookup key.
// Sessions are soft-deleted: IsActive flips to false, rows are never removed.
type Session struct {
	Token     string
	MemberID  int64
	CreatedAt time.Time
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	IsActive  bool
}

// Usable reports whether the session is live at the given instant.
// Expiry is evaluated lazily by readers; there is no background sweep.
func (s *Session) Usable(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

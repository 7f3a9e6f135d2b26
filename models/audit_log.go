package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the core. Both successes and failures are logged;
// detailed failure reasons live here, never in responses to the caller.
const (
	AuditLoginSuccess           = "login_success"
	AuditLoginFailed            = "login_failed"
	AuditLoginFailedLocked      = "login_failed_account_locked"
	AuditAccountLocked          = "account_locked"
	AuditLoginPasswordExpired   = "login_blocked_password_expired"
	AuditOTPSent                = "otp_sent"
	AuditOTPSendFailed          = "otp_send_failed"
	AuditOTPVerified            = "otp_verified"
	AuditOTPFailed              = "otp_failed"
	AuditBackupCodeUsed         = "backup_code_used"
	AuditBackupCodeFailed       = "backup_code_failed"
	AuditLogout                 = "logout"
	AuditRegisterSuccess        = "register_success"
	AuditRegisterDuplicateEmail = "register_failed_duplicate_email"
	AuditSessionsInvalidated    = "all_sessions_invalidated"
	AuditSessionBindingMismatch = "session_binding_mismatch"
	AuditForgotPassword         = "forgot_password_requested"
	AuditForgotPasswordUnknown  = "forgot_password_unknown_email"
	AuditResetPasswordSuccess   = "reset_password_success"
	AuditResetPasswordFailed    = "reset_password_failed"
	AuditChangePasswordSuccess  = "change_password_success"
	AuditChangePasswordFailed   = "change_password_failed"
	AuditTwoFactorEnabled       = "two_factor_enabled"
	AuditTwoFactorDisabled      = "two_factor_disabled"
	AuditBackupCodesGenerated   = "backup_codes_generated"
)

// AuditLog is one append-only audit event. MemberID is zero when the event
// cannot be attributed to a known account.
type AuditLog struct {
	ID        uuid.UUID
	MemberID  int64
	Action    string
	IPAddress string
	UserAgent string
	Details   string
	CreatedAt time.Time
}

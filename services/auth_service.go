package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/models"
	"github.com/BradenHooton/warden/pkg/auth"
	"github.com/BradenHooton/warden/pkg/logger"
)

// MemberRepository defines the interface for member persistence. Updates are
// deliberately narrow: each mutation touches only the columns it owns.
type MemberRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Member, error)
	GetByEmail(ctx context.Context, email string) (*models.Member, error)
	GetByResetToken(ctx context.Context, token string) (*models.Member, error)
	Create(ctx context.Context, member *models.Member) (*models.Member, error)
	UpdateLockout(ctx context.Context, id int64, attempts int, lockedUntil *time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string, history []string, changedAt time.Time) error
	UpdateResetToken(ctx context.Context, id int64, token *string, expiry *time.Time) error
	UpdateOTP(ctx context.Context, id int64, otp *string, expiry *time.Time) error
	UpdateTwoFactor(ctx context.Context, id int64, enabled bool) error
	UpdateBackupCodes(ctx context.Context, id int64, codes *string) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
}

// AuthService orchestrates the login protocol and the password lifecycle
// flows around it.
type AuthService struct {
	members    MemberRepository
	sessions   *SessionService
	policy     *PasswordPolicy
	lockout    *LockoutGuard
	twoFactor  *TwoFactorService
	mailer     Mailer
	enc        Encryptor
	audit      *AuditService
	logger     *slog.Logger
	bcryptCost int
	now        func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	members MemberRepository,
	sessions *SessionService,
	policy *PasswordPolicy,
	lockout *LockoutGuard,
	twoFactor *TwoFactorService,
	mailer Mailer,
	enc Encryptor,
	audit *AuditService,
	log *slog.Logger,
	bcryptCost int,
) *AuthService {
	return &AuthService{
		members:    members,
		sessions:   sessions,
		policy:     policy,
		lockout:    lockout,
		twoFactor:  twoFactor,
		mailer:     mailer,
		enc:        enc,
		audit:      audit,
		logger:     log,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email       string    `validate:"required,email"`
	Password    string    `validate:"required"`
	FirstName   string    `validate:"required,max=100"`
	LastName    string    `validate:"required,max=100"`
	Gender      string    `validate:"required,oneof=male female other"`
	NRIC        string    `validate:"required,max=20"`
	DateOfBirth time.Time `validate:"required"`
	IPAddress   string
	UserAgent   string
}

// LoginInput carries one credential presentation.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// ProfileResponse is the member's own view of their account. The national ID
// is returned decrypted; it is never stored or logged in the clear.
type ProfileResponse struct {
	ID               int64
	Email            string
	FirstName        string
	LastName         string
	Gender           string
	NRIC             string
	DateOfBirth      time.Time
	TwoFactorEnabled bool
	LastLoginAt      *time.Time
	PasswordAge      AgeStatus
}

// Register creates a new member account.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.Member, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))

	if input.DateOfBirth.AddDate(18, 0, 0).After(s.now()) {
		return nil, &models.ValidationError{Field: "DateOfBirth", Message: "must be at least 18 years old"}
	}

	if err := auth.ValidateStrength(input.Password); err != nil {
		return nil, &models.PolicyViolationError{Reason: err.Error()}
	}

	existing, err := s.members.GetByEmail(ctx, email)
	if err == nil {
		s.logger.InfoContext(ctx, "registration refused: email already registered",
			slog.String("email", logger.SanitizedEmail(email)))
		s.audit.Record(ctx, existing.ID, models.AuditRegisterDuplicateEmail, input.IPAddress, input.UserAgent, "")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to check existing member", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	encryptedNRIC, err := s.enc.Encrypt(input.NRIC)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encrypt national id", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	changedAt := s.now()
	member := &models.Member{
		Email:                 email,
		FirstName:             strings.TrimSpace(input.FirstName),
		LastName:              strings.TrimSpace(input.LastName),
		Gender:                input.Gender,
		NRICEncrypted:         encryptedNRIC,
		DateOfBirth:           input.DateOfBirth,
		PasswordHash:          hash,
		LastPasswordChangedAt: &changedAt,
	}

	created, err := s.members.Create(ctx, member)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.ErrorContext(ctx, "failed to create member", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "member registered", slog.Int64("member_id", created.ID))
	s.audit.Record(ctx, created.ID, models.AuditRegisterSuccess, input.IPAddress, input.UserAgent, "")

	return created, nil
}

// Login runs the credential protocol in order: lock check, password check,
// password age check, then either the two-factor branch or session
// establishment. Rejections travel on the error path; the result value is
// either SessionEstablished or AwaitingOTP.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (models.LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, models.ErrInvalidCredentials
	}

	member, err := s.members.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Same rejection as a wrong password, so the caller cannot
			// probe which addresses are registered.
			s.logger.InfoContext(ctx, "login failed: unknown email")
			s.audit.Record(ctx, 0, models.AuditLoginFailed, input.IPAddress, input.UserAgent, "unknown email")
			return nil, models.ErrInvalidCredentials
		}
		s.logger.ErrorContext(ctx, "failed to get member by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.lockout.Check(ctx, member); err != nil {
		var locked *models.LockedOutError
		if errors.As(err, &locked) {
			s.audit.Record(ctx, member.ID, models.AuditLoginFailedLocked, input.IPAddress, input.UserAgent,
				"attempt while locked")
			return nil, err
		}
		return nil, models.ErrInternalServer
	}

	if err := auth.ComparePassword(member.PasswordHash, input.Password); err != nil {
		justLocked, recErr := s.lockout.RecordFailure(ctx, member)
		if recErr != nil {
			s.logger.ErrorContext(ctx, "failed to record login failure", slog.Any("error", recErr))
			return nil, models.ErrInternalServer
		}
		if justLocked {
			s.audit.Record(ctx, member.ID, models.AuditAccountLocked, input.IPAddress, input.UserAgent,
				"failure threshold reached")
			return nil, &models.LockedOutError{Until: *member.LockedUntil}
		}
		s.audit.Record(ctx, member.ID, models.AuditLoginFailed, input.IPAddress, input.UserAgent, "wrong password")
		return nil, models.ErrInvalidCredentials
	}

	// Credential verified: the failure streak ends here, before any later
	// step can still reject the login.
	if err := s.lockout.RecordSuccess(ctx, member); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear lockout state", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if s.policy.Age(member.LastPasswordChangedAt).Expired {
		s.audit.Record(ctx, member.ID, models.AuditLoginPasswordExpired, input.IPAddress, input.UserAgent, "")
		return nil, models.ErrPasswordExpired
	}

	if member.TwoFactorEnabled {
		if err := s.twoFactor.SendOTP(ctx, member, input.IPAddress, input.UserAgent); err != nil {
			return nil, err
		}
		return &models.AwaitingOTP{EmailHint: logger.SanitizedEmail(member.Email)}, nil
	}

	session, err := s.establish(ctx, member, input.IPAddress, input.UserAgent)
	if err != nil {
		return nil, err
	}

	return &models.SessionEstablished{Session: session, Member: member}, nil
}

// VerifyOTP completes a two-phase login. The session is established through
// the same exclusive path as a password-only login, so the single-session
// invariant holds across both flows.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code, ipAddress, userAgent string) (*models.Session, error) {
	member, err := s.memberForSecondFactor(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := s.twoFactor.ValidateOTP(ctx, member, code); err != nil {
		if errors.Is(err, models.ErrInvalidOTP) {
			s.audit.Record(ctx, member.ID, models.AuditOTPFailed, ipAddress, userAgent, "")
		}
		return nil, err
	}

	s.audit.Record(ctx, member.ID, models.AuditOTPVerified, ipAddress, userAgent, "")

	return s.establish(ctx, member, ipAddress, userAgent)
}

// VerifyBackupCode completes a two-phase login with a backup code when the
// emailed OTP is unavailable. The code is consumed on success.
func (s *AuthService) VerifyBackupCode(ctx context.Context, email, code, ipAddress, userAgent string) (*models.Session, error) {
	member, err := s.memberForSecondFactor(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := s.twoFactor.ValidateBackupCode(ctx, member, code); err != nil {
		if errors.Is(err, models.ErrInvalidOTP) {
			s.audit.Record(ctx, member.ID, models.AuditBackupCodeFailed, ipAddress, userAgent, "")
		}
		return nil, err
	}

	s.audit.Record(ctx, member.ID, models.AuditBackupCodeUsed, ipAddress, userAgent, "")

	return s.establish(ctx, member, ipAddress, userAgent)
}

// Logout invalidates the presented session. Unknown or already-invalidated
// tokens succeed silently.
func (s *AuthService) Logout(ctx context.Context, token, ipAddress, userAgent string) error {
	session, err := s.sessions.GetActive(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return models.ErrInternalServer
	}

	if err := s.sessions.Invalidate(ctx, token); err != nil {
		return err
	}

	s.audit.Record(ctx, session.MemberID, models.AuditLogout, ipAddress, userAgent, "")
	return nil
}

// ForgotPassword issues a reset token and emails the reset link. The outcome
// is identical for known and unknown addresses so the flow cannot be used to
// enumerate accounts.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ipAddress, userAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	member, err := s.members.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email",
				slog.String("email", logger.SanitizedEmail(email)))
			s.audit.Record(ctx, 0, models.AuditForgotPasswordUnknown, ipAddress, userAgent, "")
			return nil
		}
		s.logger.ErrorContext(ctx, "failed to get member by email", slog.Any("error", err))
		return nil
	}

	token := s.policy.GenerateResetToken()
	expiry := s.policy.ResetTokenExpiry()

	if err := s.members.UpdateResetToken(ctx, member.ID, &token, &expiry); err != nil {
		s.logger.ErrorContext(ctx, "failed to store reset token",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
		return nil
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, member.Email, member.DisplayName(), token, expiry); err != nil {
		// Already logged by the mailer; the caller still sees success.
		return nil
	}

	s.audit.Record(ctx, member.ID, models.AuditForgotPassword, ipAddress, userAgent, "")
	return nil
}

// ResetPassword consumes a reset token and sets a new password. A successful
// reset clears the token pair and any lockout, and signs the member out of
// every session.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword, ipAddress, userAgent string) error {
	if token == "" {
		return models.ErrInvalidResetToken
	}

	member, err := s.members.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.Record(ctx, 0, models.AuditResetPasswordFailed, ipAddress, userAgent, "unknown token")
			return models.ErrInvalidResetToken
		}
		return models.ErrInternalServer
	}

	if !s.policy.IsResetTokenValid(member, token) {
		s.audit.Record(ctx, member.ID, models.AuditResetPasswordFailed, ipAddress, userAgent, "expired token")
		return models.ErrInvalidResetToken
	}

	if err := s.applyNewPassword(ctx, member, newPassword); err != nil {
		s.audit.Record(ctx, member.ID, models.AuditResetPasswordFailed, ipAddress, userAgent, "policy rejection")
		return err
	}

	if err := s.members.UpdateResetToken(ctx, member.ID, nil, nil); err != nil {
		return models.ErrInternalServer
	}

	// A reset proves control of the mailbox; any lock from prior guessing
	// is void.
	if err := s.members.UpdateLockout(ctx, member.ID, 0, nil); err != nil {
		return models.ErrInternalServer
	}

	if err := s.sessions.InvalidateAllForMember(ctx, member.ID, ipAddress, userAgent); err != nil {
		return err
	}

	s.audit.Record(ctx, member.ID, models.AuditResetPasswordSuccess, ipAddress, userAgent, "")
	return nil
}

// ChangePassword is the voluntary flow: it requires the current password,
// rejects a change inside the minimum-age cooldown, and applies the same
// strength and reuse rules as a reset.
func (s *AuthService) ChangePassword(ctx context.Context, memberID int64, currentPassword, newPassword, ipAddress, userAgent string) error {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}

	if err := auth.ComparePassword(member.PasswordHash, currentPassword); err != nil {
		s.audit.Record(ctx, member.ID, models.AuditChangePasswordFailed, ipAddress, userAgent, "wrong current password")
		return models.ErrInvalidCredentials
	}

	if err := s.policy.CanChange(member.LastPasswordChangedAt); err != nil {
		s.audit.Record(ctx, member.ID, models.AuditChangePasswordFailed, ipAddress, userAgent, "cooldown")
		return err
	}

	if err := auth.ComparePassword(member.PasswordHash, newPassword); err == nil {
		s.audit.Record(ctx, member.ID, models.AuditChangePasswordFailed, ipAddress, userAgent, "same password")
		return &models.PolicyViolationError{Reason: "new password must differ from the current password"}
	}

	if err := s.applyNewPassword(ctx, member, newPassword); err != nil {
		s.audit.Record(ctx, member.ID, models.AuditChangePasswordFailed, ipAddress, userAgent, "policy rejection")
		return err
	}

	s.audit.Record(ctx, member.ID, models.AuditChangePasswordSuccess, ipAddress, userAgent, "")
	return nil
}

// Profile returns the member's own account view with the national ID
// decrypted.
func (s *AuthService) Profile(ctx context.Context, memberID int64) (*ProfileResponse, error) {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}

	nric, err := s.enc.Decrypt(member.NRICEncrypted)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt national id",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &ProfileResponse{
		ID:               member.ID,
		Email:            member.Email,
		FirstName:        member.FirstName,
		LastName:         member.LastName,
		Gender:           member.Gender,
		NRIC:             nric,
		DateOfBirth:      member.DateOfBirth,
		TwoFactorEnabled: member.TwoFactorEnabled,
		LastLoginAt:      member.LastLoginAt,
		PasswordAge:      s.policy.Age(member.LastPasswordChangedAt),
	}, nil
}

// AuditTrail returns the member's audit events, newest first.
func (s *AuthService) AuditTrail(ctx context.Context, memberID int64, limit, offset int) ([]*models.AuditLog, error) {
	return s.audit.Trail(ctx, memberID, limit, offset)
}

// ActiveSessions lists the member's live sessions, newest first.
func (s *AuthService) ActiveSessions(ctx context.Context, memberID int64) ([]*models.Session, error) {
	return s.sessions.ActiveSessions(ctx, memberID)
}

// establish runs the exclusive session swap and records the login.
func (s *AuthService) establish(ctx context.Context, member *models.Member, ipAddress, userAgent string) (*models.Session, error) {
	session, err := s.sessions.EstablishExclusive(ctx, member.ID, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.members.UpdateLastLogin(ctx, member.ID, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to record last login",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
	}
	member.LastLoginAt = &now

	s.logger.InfoContext(ctx, "member logged in", slog.Int64("member_id", member.ID))
	s.audit.Record(ctx, member.ID, models.AuditLoginSuccess, ipAddress, userAgent, "")

	return session, nil
}

// memberForSecondFactor resolves the account for an OTP or backup-code
// presentation. Unknown addresses get the same generic rejection as a wrong
// code.
func (s *AuthService) memberForSecondFactor(ctx context.Context, email string) (*models.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	member, err := s.members.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidOTP
		}
		return nil, models.ErrInternalServer
	}
	return member, nil
}

// applyNewPassword enforces strength and history, then rotates the hash and
// pushes the outgoing one onto the history.
func (s *AuthService) applyNewPassword(ctx context.Context, member *models.Member, newPassword string) error {
	if err := auth.ValidateStrength(newPassword); err != nil {
		return &models.PolicyViolationError{Reason: err.Error()}
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return models.ErrInternalServer
	}

	if s.policy.IsReused(hash, member.PasswordHash, member.PasswordHistory) {
		return &models.PolicyViolationError{Reason: "new password must not match a recently used password"}
	}

	changedAt := s.now()
	history := s.policy.PushHistory(member.PasswordHistory, member.PasswordHash)

	if err := s.members.UpdatePassword(ctx, member.ID, hash, history, changedAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to update password",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	member.PasswordHash = hash
	member.PasswordHistory = history
	member.LastPasswordChangedAt = &changedAt
	return nil
}

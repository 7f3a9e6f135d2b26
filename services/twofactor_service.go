package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/models"
	"github.com/BradenHooton/warden/pkg/logger"
)

const (
	// OTPTTL bounds how long an emailed verification code stays valid.
	OTPTTL = 5 * time.Minute

	// BackupCodeCount is how many codes one generation run produces.
	BackupCodeCount = 10
)

// Encryptor defines the interface for secret-field encryption
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TwoFactorService owns the email-OTP second factor and backup codes.
type TwoFactorService struct {
	members MemberRepository
	mailer  Mailer
	enc     Encryptor
	audit   *AuditService
	logger  *slog.Logger
	now     func() time.Time
}

// NewTwoFactorService creates a new TwoFactorService.
func NewTwoFactorService(members MemberRepository, mailer Mailer, enc Encryptor, audit *AuditService, log *slog.Logger) *TwoFactorService {
	return &TwoFactorService{
		members: members,
		mailer:  mailer,
		enc:     enc,
		audit:   audit,
		logger:  log,
		now:     time.Now,
	}
}

// GenerateOTP returns a 6-digit code uniform over [100000, 999999].
// Rejection sampling keeps the distribution flat; a plain modulo would bias
// the low end of the range.
func GenerateOTP() (string, error) {
	const span = 900000
	const limit = (1 << 32 / span) * span

	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		n := binary.BigEndian.Uint32(buf[:])
		if n >= limit {
			continue
		}
		return fmt.Sprintf("%06d", 100000+n%span), nil
	}
}

// SendOTP issues a fresh code and emails it. The code is persisted before
// delivery is attempted, so a delivery failure leaves a pending code behind;
// it ages out on its own and a retry overwrites it.
func (s *TwoFactorService) SendOTP(ctx context.Context, member *models.Member, ipAddress, userAgent string) error {
	otp, err := GenerateOTP()
	if err != nil {
		return models.ErrInternalServer
	}

	expiry := s.now().Add(OTPTTL)
	if err := s.members.UpdateOTP(ctx, member.ID, &otp, &expiry); err != nil {
		s.logger.ErrorContext(ctx, "failed to store otp",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	member.CurrentOTP = &otp
	member.OTPExpiry = &expiry

	if err := s.mailer.SendOTPEmail(ctx, member.Email, member.DisplayName(), otp, expiry); err != nil {
		s.logger.ErrorContext(ctx, "failed to deliver otp email",
			slog.Int64("member_id", member.ID),
			slog.String("email", logger.SanitizedEmail(member.Email)),
			slog.Any("error", err))
		s.audit.Record(ctx, member.ID, models.AuditOTPSendFailed, ipAddress, userAgent, "otp delivery failed")
		return models.ErrDeliveryFailure
	}

	s.audit.Record(ctx, member.ID, models.AuditOTPSent, ipAddress, userAgent, "otp issued")
	return nil
}

// ValidateOTP checks a presented code against the pending one. A matching,
// unexpired code is consumed: both fields are cleared so the code is
// single-use. Every failure path returns the same generic error.
func (s *TwoFactorService) ValidateOTP(ctx context.Context, member *models.Member, code string) error {
	if code == "" || member.CurrentOTP == nil || member.OTPExpiry == nil {
		return models.ErrInvalidOTP
	}
	if s.now().After(*member.OTPExpiry) {
		return models.ErrInvalidOTP
	}
	if *member.CurrentOTP != code {
		return models.ErrInvalidOTP
	}

	if err := s.members.UpdateOTP(ctx, member.ID, nil, nil); err != nil {
		s.logger.ErrorContext(ctx, "failed to consume otp",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	member.CurrentOTP = nil
	member.OTPExpiry = nil
	return nil
}

// GenerateBackupCodes replaces the member's backup codes with a fresh set
// and returns the plaintext codes for one-time display. Codes are stored as
// a single encrypted comma-joined blob.
func (s *TwoFactorService) GenerateBackupCodes(ctx context.Context, member *models.Member, ipAddress, userAgent string) ([]string, error) {
	codes := make([]string, BackupCodeCount)
	for i := range codes {
		code, err := generateBackupCode()
		if err != nil {
			return nil, models.ErrInternalServer
		}
		codes[i] = code
	}

	blob, err := s.enc.Encrypt(strings.Join(codes, ","))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encrypt backup codes",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.members.UpdateBackupCodes(ctx, member.ID, &blob); err != nil {
		return nil, models.ErrInternalServer
	}
	member.BackupCodes = &blob

	s.audit.Record(ctx, member.ID, models.AuditBackupCodesGenerated, ipAddress, userAgent,
		fmt.Sprintf("%d backup codes issued", BackupCodeCount))
	return codes, nil
}

// ValidateBackupCode checks a presented code against the stored set and
// consumes it on match: the remainder is re-encrypted, or the column cleared
// when the last code is used.
func (s *TwoFactorService) ValidateBackupCode(ctx context.Context, member *models.Member, code string) error {
	if code == "" || member.BackupCodes == nil {
		return models.ErrInvalidOTP
	}

	plaintext, err := s.enc.Decrypt(*member.BackupCodes)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt backup codes",
			slog.Int64("member_id", member.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	codes := strings.Split(plaintext, ",")
	match := -1
	for i, stored := range codes {
		if stored == code {
			match = i
			break
		}
	}
	if match < 0 {
		return models.ErrInvalidOTP
	}

	remaining := append(codes[:match], codes[match+1:]...)

	var blob *string
	if len(remaining) > 0 {
		encrypted, err := s.enc.Encrypt(strings.Join(remaining, ","))
		if err != nil {
			return models.ErrInternalServer
		}
		blob = &encrypted
	}

	if err := s.members.UpdateBackupCodes(ctx, member.ID, blob); err != nil {
		return models.ErrInternalServer
	}
	member.BackupCodes = blob
	return nil
}

// Enable turns the second factor on for the member.
func (s *TwoFactorService) Enable(ctx context.Context, member *models.Member, ipAddress, userAgent string) error {
	if err := s.members.UpdateTwoFactor(ctx, member.ID, true); err != nil {
		return models.ErrInternalServer
	}
	member.TwoFactorEnabled = true

	s.audit.Record(ctx, member.ID, models.AuditTwoFactorEnabled, ipAddress, userAgent, "")
	return nil
}

// Disable turns the second factor off and discards any pending OTP.
func (s *TwoFactorService) Disable(ctx context.Context, member *models.Member, ipAddress, userAgent string) error {
	if err := s.members.UpdateTwoFactor(ctx, member.ID, false); err != nil {
		return models.ErrInternalServer
	}
	if err := s.members.UpdateOTP(ctx, member.ID, nil, nil); err != nil {
		return models.ErrInternalServer
	}
	member.TwoFactorEnabled = false
	member.CurrentOTP = nil
	member.OTPExpiry = nil

	s.audit.Record(ctx, member.ID, models.AuditTwoFactorDisabled, ipAddress, userAgent, "")
	return nil
}

// generateBackupCode returns 8 uniform digits formatted "XXXX XXXX".
func generateBackupCode() (string, error) {
	const span = 100000000
	const limit = (1 << 32 / span) * span

	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		n := binary.BigEndian.Uint32(buf[:])
		if n >= limit {
			continue
		}
		v := n % span
		return fmt.Sprintf("%04d %04d", v/10000, v%10000), nil
	}
}

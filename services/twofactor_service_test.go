package services

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/warden/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTwoFactorFixture(t *testing.T) (*TwoFactorService, *memoryMemberRepository, *MockMailer, *MockAuditLogRepository) {
	t.Helper()
	log := newTestLogger()
	auditRepo := &MockAuditLogRepository{}
	members := newMemoryMemberRepository()
	mailer := &MockMailer{}
	svc := NewTwoFactorService(members, mailer, plainEncryptor{}, NewAuditService(auditRepo, log), log)
	return svc, members, mailer, auditRepo
}

func TestGenerateOTP_SixDigitsInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		otp, err := GenerateOTP()
		require.NoError(t, err)
		require.Len(t, otp, 6)

		n, err := strconv.Atoi(otp)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestSendOTP_PersistsThenDelivers(t *testing.T) {
	svc, members, mailer, auditRepo := newTwoFactorFixture(t)
	member := members.add(NewTestMember(0, "otp@example.com"))

	err := svc.SendOTP(context.Background(), member, "203.0.113.10", "test-agent/1.0")
	require.NoError(t, err)

	stored := members.get(member.ID)
	require.NotNil(t, stored.CurrentOTP)
	require.NotNil(t, stored.OTPExpiry)
	assert.WithinDuration(t, time.Now().Add(OTPTTL), *stored.OTPExpiry, 5*time.Second)

	require.Len(t, mailer.SentOTPs, 1)
	assert.Equal(t, *stored.CurrentOTP, mailer.SentOTPs[0])
	assert.Contains(t, auditRepo.Actions(), models.AuditOTPSent)
}

func TestSendOTP_DeliveryFailureLeavesCodePersisted(t *testing.T) {
	svc, members, mailer, auditRepo := newTwoFactorFixture(t)
	member := members.add(NewTestMember(0, "otp@example.com"))
	mailer.SendOTPEmailFunc = func(ctx context.Context, email, name, otp string, expiresAt time.Time) error {
		return errors.New("ses unavailable")
	}

	err := svc.SendOTP(context.Background(), member, "203.0.113.10", "test-agent/1.0")
	require.ErrorIs(t, err, models.ErrDeliveryFailure)

	// The code was written before delivery was attempted; it stays behind
	// and ages out on its own.
	stored := members.get(member.ID)
	assert.NotNil(t, stored.CurrentOTP)
	assert.Contains(t, auditRepo.Actions(), models.AuditOTPSendFailed)
}

func TestValidateOTP_ConsumesOnSuccess(t *testing.T) {
	svc, members, _, _ := newTwoFactorFixture(t)
	member := members.add(NewTestMemberWithOTP(0, "otp@example.com", "123456", time.Now().Add(3*time.Minute)))
	ctx := context.Background()

	require.NoError(t, svc.ValidateOTP(ctx, member, "123456"))
	assert.Nil(t, member.CurrentOTP)
	assert.Nil(t, member.OTPExpiry)

	stored := members.get(member.ID)
	assert.Nil(t, stored.CurrentOTP)
	assert.Nil(t, stored.OTPExpiry)

	// Single-use: replaying the same code fails.
	assert.ErrorIs(t, svc.ValidateOTP(ctx, member, "123456"), models.ErrInvalidOTP)
}

func TestValidateOTP_Rejections(t *testing.T) {
	svc, members, _, _ := newTwoFactorFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		member *models.Member
		code   string
	}{
		{
			name:   "no pending code",
			member: NewTestMember(1, "a@example.com"),
			code:   "123456",
		},
		{
			name:   "empty code",
			member: NewTestMemberWithOTP(2, "b@example.com", "123456", time.Now().Add(3*time.Minute)),
			code:   "",
		},
		{
			name:   "wrong code",
			member: NewTestMemberWithOTP(3, "c@example.com", "123456", time.Now().Add(3*time.Minute)),
			code:   "654321",
		},
		{
			name:   "expired code",
			member: NewTestMemberWithOTP(4, "d@example.com", "123456", time.Now().Add(-1*time.Minute)),
			code:   "123456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members.add(tt.member)
			assert.ErrorIs(t, svc.ValidateOTP(ctx, tt.member, tt.code), models.ErrInvalidOTP)
		})
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	svc, members, _, auditRepo := newTwoFactorFixture(t)
	member := members.add(NewTestMember(0, "codes@example.com"))

	codes, err := svc.GenerateBackupCodes(context.Background(), member, "203.0.113.10", "test-agent/1.0")
	require.NoError(t, err)
	require.Len(t, codes, BackupCodeCount)

	format := regexp.MustCompile(`^\d{4} \d{4}$`)
	for _, code := range codes {
		assert.Regexp(t, format, code)
	}

	stored := members.get(member.ID)
	require.NotNil(t, stored.BackupCodes)
	assert.Equal(t, "enc:"+strings.Join(codes, ","), *stored.BackupCodes)
	assert.Contains(t, auditRepo.Actions(), models.AuditBackupCodesGenerated)
}

func TestValidateBackupCode_ConsumesOnlyMatch(t *testing.T) {
	svc, members, _, _ := newTwoFactorFixture(t)
	member := members.add(NewTestMember(0, "codes@example.com"))
	ctx := context.Background()

	codes, err := svc.GenerateBackupCodes(ctx, member, "", "")
	require.NoError(t, err)

	require.NoError(t, svc.ValidateBackupCode(ctx, member, codes[3]))

	stored := members.get(member.ID)
	require.NotNil(t, stored.BackupCodes)
	remaining := strings.Split(strings.TrimPrefix(*stored.BackupCodes, "enc:"), ",")
	assert.Len(t, remaining, BackupCodeCount-1)
	assert.NotContains(t, remaining, codes[3])

	// The consumed code no longer works.
	assert.ErrorIs(t, svc.ValidateBackupCode(ctx, member, codes[3]), models.ErrInvalidOTP)
}

func TestValidateBackupCode_LastCodeClearsBlob(t *testing.T) {
	svc, members, _, _ := newTwoFactorFixture(t)
	member := members.add(NewTestMember(0, "codes@example.com"))
	blob := "enc:1111 2222"
	member.BackupCodes = &blob
	require.NoError(t, members.UpdateBackupCodes(context.Background(), member.ID, &blob))

	require.NoError(t, svc.ValidateBackupCode(context.Background(), member, "1111 2222"))

	assert.Nil(t, member.BackupCodes)
	assert.Nil(t, members.get(member.ID).BackupCodes)
}

func TestValidateBackupCode_UnknownCodeDoesNotMutate(t *testing.T) {
	svc, members, _, _ := newTwoFactorFixture(t)
	member := members.add(NewTestMember(0, "codes@example.com"))
	blob := "enc:1111 2222,3333 4444"
	member.BackupCodes = &blob
	require.NoError(t, members.UpdateBackupCodes(context.Background(), member.ID, &blob))

	err := svc.ValidateBackupCode(context.Background(), member, "9999 9999")
	assert.ErrorIs(t, err, models.ErrInvalidOTP)
	require.NotNil(t, member.BackupCodes)
	assert.Equal(t, blob, *members.get(member.ID).BackupCodes)
}

func TestEnableDisable(t *testing.T) {
	svc, members, _, auditRepo := newTwoFactorFixture(t)
	member := members.add(NewTestMemberWithOTP(0, "toggle@example.com", "123456", time.Now().Add(3*time.Minute)))
	member.TwoFactorEnabled = false
	ctx := context.Background()

	require.NoError(t, svc.Enable(ctx, member, "", ""))
	assert.True(t, member.TwoFactorEnabled)
	assert.True(t, members.get(member.ID).TwoFactorEnabled)

	require.NoError(t, svc.Disable(ctx, member, "", ""))
	assert.False(t, member.TwoFactorEnabled)
	assert.Nil(t, member.CurrentOTP)

	stored := members.get(member.ID)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Nil(t, stored.CurrentOTP)
	assert.Nil(t, stored.OTPExpiry)

	actions := auditRepo.Actions()
	assert.Contains(t, actions, models.AuditTwoFactorEnabled)
	assert.Contains(t, actions, models.AuditTwoFactorDisabled)
}

func TestGenerateBackupCode_Format(t *testing.T) {
	format := regexp.MustCompile(`^\d{4} \d{4}$`)
	for i := 0; i < 100; i++ {
		code, err := generateBackupCode()
		require.NoError(t, err)
		assert.Regexp(t, format, code)
	}
}

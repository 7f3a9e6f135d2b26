package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/warden/config"
	"github.com/BradenHooton/warden/models"
	"github.com/BradenHooton/warden/pkg/auth"
	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Low bcrypt cost keeps the flow tests fast; strength rules are unaffected.
const testBcryptCost = 4

const (
	testPassword = `Sup3rSecret!Pass`
	testIP       = "203.0.113.10"
	testUA       = "test-agent/1.0"
)

type authFixture struct {
	svc      *AuthService
	members  *memoryMemberRepository
	sessions *memorySessionRepository
	mailer   *MockMailer
	audit    *MockAuditLogRepository
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	log := newTestLogger()
	auditRepo := &MockAuditLogRepository{}
	auditSvc := NewAuditService(auditRepo, log)
	members := newMemoryMemberRepository()
	sessionRepo := newMemorySessionRepository()
	sessionSvc := NewSessionService(sessionRepo, NewLockRegistry(), auditSvc, log, config.AuthConfig{
		SessionTTL:     30 * time.Minute,
		SessionBinding: config.SessionBindingRelaxed,
	})
	mailer := &MockMailer{}
	twoFactor := NewTwoFactorService(members, mailer, plainEncryptor{}, auditSvc, log)

	svc := NewAuthService(
		members,
		sessionSvc,
		NewPasswordPolicy(),
		NewLockoutGuard(members, log),
		twoFactor,
		mailer,
		plainEncryptor{},
		auditSvc,
		log,
		testBcryptCost,
	)

	return &authFixture{
		svc:      svc,
		members:  members,
		sessions: sessionRepo,
		mailer:   mailer,
		audit:    auditRepo,
	}
}

// seedMember registers a member with the shared test password.
func (f *authFixture) seedMember(t *testing.T, email string) *models.Member {
	t.Helper()
	hash, err := auth.HashPassword(testPassword, testBcryptCost)
	require.NoError(t, err)
	return f.members.add(NewTestMemberWithPassword(0, email, hash))
}

func (f *authFixture) login(email, password string) (models.LoginResult, error) {
	return f.svc.Login(context.Background(), LoginInput{
		Email:     email,
		Password:  password,
		IPAddress: testIP,
		UserAgent: testUA,
	})
}

func TestLogin_UnknownEmailIsGeneric(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.login("nobody@example.com", testPassword)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLogin_WrongPasswordCountsAndLocks(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "lockme@example.com")

	// Two failures: generic rejection, counter climbing.
	for i := 1; i < LockoutThreshold; i++ {
		result, err := f.login(member.Email, "Wr0ngPassword!!")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		assert.Equal(t, i, f.members.get(member.ID).FailedLoginAttempts)
	}

	// Third failure crosses the threshold.
	result, err := f.login(member.Email, "Wr0ngPassword!!")
	assert.Nil(t, result)
	var locked *models.LockedOutError
	require.ErrorAs(t, err, &locked)
	assert.WithinDuration(t, time.Now().Add(LockoutDuration), locked.Until, 5*time.Second)
	assert.Contains(t, f.audit.Actions(), models.AuditAccountLocked)

	// Even the correct password is refused while the lock holds.
	result, err = f.login(member.Email, testPassword)
	assert.Nil(t, result)
	assert.ErrorAs(t, err, &locked)
	assert.Contains(t, f.audit.Actions(), models.AuditLoginFailedLocked)
}

func TestLogin_SuccessResetsCounterAndEstablishesSession(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "comeback@example.com")

	_, err := f.login(member.Email, "Wr0ngPassword!!")
	require.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = f.login(member.Email, "Wr0ngPassword!!")
	require.ErrorIs(t, err, models.ErrInvalidCredentials)

	result, err := f.login(member.Email, testPassword)
	require.NoError(t, err)

	established, ok := result.(*models.SessionEstablished)
	require.True(t, ok, "expected SessionEstablished, got %T", result)
	assert.True(t, established.Session.IsActive)
	assert.Equal(t, member.ID, established.Session.MemberID)

	stored := f.members.get(member.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.NotNil(t, stored.LastLoginAt)
	assert.Contains(t, f.audit.Actions(), models.AuditLoginSuccess)
}

func TestLogin_SecondLoginDisplacesFirstSession(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "twice@example.com")
	ctx := context.Background()

	first, err := f.login(member.Email, testPassword)
	require.NoError(t, err)
	firstToken := first.(*models.SessionEstablished).Session.Token

	second, err := f.login(member.Email, testPassword)
	require.NoError(t, err)
	secondToken := second.(*models.SessionEstablished).Session.Token

	assert.NotEqual(t, firstToken, secondToken)
	assert.Equal(t, 1, f.sessions.activeCount(member.ID))

	old, err := f.sessions.GetByToken(ctx, firstToken)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
}

func TestLogin_ExpiredPassword(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "stale@example.com")
	longAgo := time.Now().Add(-91 * 24 * time.Hour)
	require.NoError(t, f.members.UpdatePassword(context.Background(), member.ID, member.PasswordHash, nil, longAgo))

	result, err := f.login(member.Email, testPassword)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrPasswordExpired)
	assert.Contains(t, f.audit.Actions(), models.AuditLoginPasswordExpired)

	// The password itself was correct: the failure streak did not grow.
	assert.Equal(t, 0, f.members.get(member.ID).FailedLoginAttempts)
}

func TestLogin_TwoFactorBranchAndVerifyOTP(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "twofa@example.com")
	require.NoError(t, f.members.UpdateTwoFactor(context.Background(), member.ID, true))
	ctx := context.Background()

	result, err := f.login(member.Email, testPassword)
	require.NoError(t, err)

	awaiting, ok := result.(*models.AwaitingOTP)
	require.True(t, ok, "expected AwaitingOTP, got %T", result)
	assert.Equal(t, logger.SanitizedEmail(member.Email), awaiting.EmailHint)

	// No session yet; the code went out by email.
	assert.Equal(t, 0, f.sessions.activeCount(member.ID))
	require.Len(t, f.mailer.SentOTPs, 1)

	session, err := f.svc.VerifyOTP(ctx, member.Email, f.mailer.SentOTPs[0], testIP, testUA)
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Equal(t, 1, f.sessions.activeCount(member.ID))

	// The code is single-use.
	stored := f.members.get(member.ID)
	assert.Nil(t, stored.CurrentOTP)
	_, err = f.svc.VerifyOTP(ctx, member.Email, f.mailer.SentOTPs[0], testIP, testUA)
	assert.ErrorIs(t, err, models.ErrInvalidOTP)
}

func TestVerifyOTP_DisplacesExistingSessions(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "twofa2@example.com")
	ctx := context.Background()

	// A session from an earlier login is still live.
	_, err := f.sessions.Create(ctx, NewTestSession("leftover", member.ID, 10*time.Minute))
	require.NoError(t, err)

	otp := "123456"
	expiry := time.Now().Add(3 * time.Minute)
	require.NoError(t, f.members.UpdateOTP(ctx, member.ID, &otp, &expiry))

	session, err := f.svc.VerifyOTP(ctx, member.Email, otp, testIP, testUA)
	require.NoError(t, err)

	assert.Equal(t, 1, f.sessions.activeCount(member.ID))
	leftover, err := f.sessions.GetByToken(ctx, "leftover")
	require.NoError(t, err)
	assert.False(t, leftover.IsActive)
	assert.NotEqual(t, "leftover", session.Token)
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "twofa3@example.com")
	ctx := context.Background()

	otp := "123456"
	expiry := time.Now().Add(3 * time.Minute)
	require.NoError(t, f.members.UpdateOTP(ctx, member.ID, &otp, &expiry))

	_, err := f.svc.VerifyOTP(ctx, member.Email, "654321", testIP, testUA)
	assert.ErrorIs(t, err, models.ErrInvalidOTP)
	assert.Contains(t, f.audit.Actions(), models.AuditOTPFailed)

	// Unknown address gets the same rejection.
	_, err = f.svc.VerifyOTP(ctx, "nobody@example.com", "123456", testIP, testUA)
	assert.ErrorIs(t, err, models.ErrInvalidOTP)
}

func TestVerifyBackupCode_ConsumesAndEstablishes(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "backup@example.com")
	ctx := context.Background()

	blob := "enc:1111 2222,3333 4444"
	require.NoError(t, f.members.UpdateBackupCodes(ctx, member.ID, &blob))

	session, err := f.svc.VerifyBackupCode(ctx, member.Email, "1111 2222", testIP, testUA)
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Contains(t, f.audit.Actions(), models.AuditBackupCodeUsed)

	stored := f.members.get(member.ID)
	require.NotNil(t, stored.BackupCodes)
	assert.Equal(t, "enc:3333 4444", *stored.BackupCodes)

	_, err = f.svc.VerifyBackupCode(ctx, member.Email, "1111 2222", testIP, testUA)
	assert.ErrorIs(t, err, models.ErrInvalidOTP)
}

func TestLogout_Idempotent(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "bye@example.com")
	ctx := context.Background()

	result, err := f.login(member.Email, testPassword)
	require.NoError(t, err)
	token := result.(*models.SessionEstablished).Session.Token

	require.NoError(t, f.svc.Logout(ctx, token, testIP, testUA))
	assert.Equal(t, 0, f.sessions.activeCount(member.ID))

	// Repeats and unknown tokens are quiet successes.
	require.NoError(t, f.svc.Logout(ctx, token, testIP, testUA))
	require.NoError(t, f.svc.Logout(ctx, "never-existed", testIP, testUA))
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	input := RegisterInput{
		Email:       "New.Member@Example.COM",
		Password:    testPassword,
		FirstName:   "Jamie",
		LastName:    "Lee",
		Gender:      "female",
		NRIC:        "S7654321B",
		DateOfBirth: time.Now().AddDate(-30, 0, 0),
		IPAddress:   testIP,
		UserAgent:   testUA,
	}

	created, err := f.svc.Register(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, "new.member@example.com", created.Email)
	assert.Equal(t, "enc:S7654321B", created.NRICEncrypted)
	assert.NotEqual(t, testPassword, created.PasswordHash)
	assert.NotNil(t, created.LastPasswordChangedAt)
	assert.NoError(t, auth.ComparePassword(created.PasswordHash, testPassword))
	assert.Contains(t, f.audit.Actions(), models.AuditRegisterSuccess)

	// Same address again, any casing: conflict.
	_, err = f.svc.Register(ctx, input)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegister_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	valid := RegisterInput{
		Email:       "reject@example.com",
		Password:    testPassword,
		FirstName:   "Jamie",
		LastName:    "Lee",
		Gender:      "female",
		NRIC:        "S7654321B",
		DateOfBirth: time.Now().AddDate(-30, 0, 0),
	}

	t.Run("weak password reports first violated rule", func(t *testing.T) {
		input := valid
		input.Password = "short"
		_, err := f.svc.Register(ctx, input)
		var violation *models.PolicyViolationError
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Reason, "at least 12 characters")
	})

	t.Run("under 18", func(t *testing.T) {
		input := valid
		input.DateOfBirth = time.Now().AddDate(-17, 0, 0)
		_, err := f.svc.Register(ctx, input)
		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "DateOfBirth", validationErr.Field)
	})

	t.Run("malformed email", func(t *testing.T) {
		input := valid
		input.Email = "not-an-email"
		_, err := f.svc.Register(ctx, input)
		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "Email", validationErr.Field)
	})

	t.Run("unknown gender", func(t *testing.T) {
		input := valid
		input.Gender = "dragon"
		_, err := f.svc.Register(ctx, input)
		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "Gender", validationErr.Field)
	})
}

func TestForgotPassword(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "forgot@example.com")
	ctx := context.Background()

	// Unknown address: same success, no email.
	require.NoError(t, f.svc.ForgotPassword(ctx, "nobody@example.com", testIP, testUA))
	assert.Empty(t, f.mailer.SentResetTokens)

	require.NoError(t, f.svc.ForgotPassword(ctx, member.Email, testIP, testUA))
	require.Len(t, f.mailer.SentResetTokens, 1)

	stored := f.members.get(member.ID)
	require.NotNil(t, stored.PasswordResetToken)
	assert.Equal(t, f.mailer.SentResetTokens[0], *stored.PasswordResetToken)
	assert.Len(t, *stored.PasswordResetToken, 72)
	require.NotNil(t, stored.PasswordResetTokenExpiry)
	assert.WithinDuration(t, time.Now().Add(ResetTokenTTL), *stored.PasswordResetTokenExpiry, 5*time.Second)
}

func TestResetPassword(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "reset@example.com")
	ctx := context.Background()

	// Lock the account and leave a live session so the reset has state to clear.
	lockedUntil := time.Now().Add(10 * time.Minute)
	require.NoError(t, f.members.UpdateLockout(ctx, member.ID, LockoutThreshold, &lockedUntil))
	_, err := f.sessions.Create(ctx, NewTestSession("pre-reset", member.ID, 10*time.Minute))
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, member.Email, testIP, testUA))
	token := f.mailer.SentResetTokens[0]

	const newPassword = `Fresh&Newer1Pass`
	require.NoError(t, f.svc.ResetPassword(ctx, token, newPassword, testIP, testUA))

	stored := f.members.get(member.ID)
	assert.NoError(t, auth.ComparePassword(stored.PasswordHash, newPassword))
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetTokenExpiry)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
	assert.Len(t, stored.PasswordHistory, 1)
	assert.Equal(t, 0, f.sessions.activeCount(member.ID))

	// The token is consumed.
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, `Another3rd!Pass`, testIP, testUA), models.ErrInvalidResetToken)
}

func TestResetPassword_BadTokens(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "reset2@example.com")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "wrong-token", `Fresh&Newer1Pass`, testIP, testUA), models.ErrInvalidResetToken)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "", `Fresh&Newer1Pass`, testIP, testUA), models.ErrInvalidResetToken)

	// Expired token: present but past its window.
	token := "expired-reset-token"
	expiry := time.Now().Add(-1 * time.Minute)
	require.NoError(t, f.members.UpdateResetToken(ctx, member.ID, &token, &expiry))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, `Fresh&Newer1Pass`, testIP, testUA), models.ErrInvalidResetToken)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "change@example.com")
	ctx := context.Background()
	oldHash := member.PasswordHash

	const newPassword = `Fresh&Newer1Pass`
	require.NoError(t, f.svc.ChangePassword(ctx, member.ID, testPassword, newPassword, testIP, testUA))

	stored := f.members.get(member.ID)
	assert.NoError(t, auth.ComparePassword(stored.PasswordHash, newPassword))
	require.Len(t, stored.PasswordHistory, 1)
	assert.Equal(t, oldHash, stored.PasswordHistory[0])
	assert.Contains(t, f.audit.Actions(), models.AuditChangePasswordSuccess)
}

func TestChangePassword_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	t.Run("wrong current password", func(t *testing.T) {
		member := f.seedMember(t, "change1@example.com")
		err := f.svc.ChangePassword(ctx, member.ID, "Wr0ngPassword!!", `Fresh&Newer1Pass`, testIP, testUA)
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	})

	t.Run("inside cooldown", func(t *testing.T) {
		member := f.seedMember(t, "change2@example.com")
		recent := time.Now().Add(-1 * time.Hour)
		require.NoError(t, f.members.UpdatePassword(ctx, member.ID, member.PasswordHash, nil, recent))

		err := f.svc.ChangePassword(ctx, member.ID, testPassword, `Fresh&Newer1Pass`, testIP, testUA)
		var violation *models.PolicyViolationError
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Reason, "recently")
	})

	t.Run("same as current password", func(t *testing.T) {
		member := f.seedMember(t, "change3@example.com")
		err := f.svc.ChangePassword(ctx, member.ID, testPassword, testPassword, testIP, testUA)
		var violation *models.PolicyViolationError
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Reason, "differ")
	})

	t.Run("weak replacement", func(t *testing.T) {
		member := f.seedMember(t, "change4@example.com")
		err := f.svc.ChangePassword(ctx, member.ID, testPassword, "alllowercase", testIP, testUA)
		var violation *models.PolicyViolationError
		require.ErrorAs(t, err, &violation)
	})
}

func TestProfile_DecryptsNationalID(t *testing.T) {
	f := newAuthFixture(t)
	member := f.seedMember(t, "profile@example.com")

	profile, err := f.svc.Profile(context.Background(), member.ID)
	require.NoError(t, err)

	assert.Equal(t, member.Email, profile.Email)
	assert.Equal(t, "S1234567A", profile.NRIC)
	assert.False(t, profile.PasswordAge.Expired)

	_, err = f.svc.Profile(context.Background(), 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

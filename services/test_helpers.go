package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/warden/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockMemberRepository implements MemberRepository for testing
type MockMemberRepository struct {
	GetByIDFunc           func(ctx context.Context, id int64) (*models.Member, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.Member, error)
	GetByResetTokenFunc   func(ctx context.Context, token string) (*models.Member, error)
	CreateFunc            func(ctx context.Context, member *models.Member) (*models.Member, error)
	UpdateLockoutFunc     func(ctx context.Context, id int64, attempts int, lockedUntil *time.Time) error
	UpdatePasswordFunc    func(ctx context.Context, id int64, hash string, history []string, changedAt time.Time) error
	UpdateResetTokenFunc  func(ctx context.Context, id int64, token *string, expiry *time.Time) error
	UpdateOTPFunc         func(ctx context.Context, id int64, otp *string, expiry *time.Time) error
	UpdateTwoFactorFunc   func(ctx context.Context, id int64, enabled bool) error
	UpdateBackupCodesFunc func(ctx context.Context, id int64, codes *string) error
	UpdateLastLoginFunc   func(ctx context.Context, id int64, at time.Time) error
}

func (m *MockMemberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockMemberRepository) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockMemberRepository) GetByResetToken(ctx context.Context, token string) (*models.Member, error) {
	if m.GetByResetTokenFunc != nil {
		return m.GetByResetTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockMemberRepository) Create(ctx context.Context, member *models.Member) (*models.Member, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, member)
	}
	return nil, models.ErrInternalServer
}

func (m *MockMemberRepository) UpdateLockout(ctx context.Context, id int64, attempts int, lockedUntil *time.Time) error {
	if m.UpdateLockoutFunc != nil {
		return m.UpdateLockoutFunc(ctx, id, attempts, lockedUntil)
	}
	return nil
}

func (m *MockMemberRepository) UpdatePassword(ctx context.Context, id int64, hash string, history []string, changedAt time.Time) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, hash, history, changedAt)
	}
	return nil
}

func (m *MockMemberRepository) UpdateResetToken(ctx context.Context, id int64, token *string, expiry *time.Time) error {
	if m.UpdateResetTokenFunc != nil {
		return m.UpdateResetTokenFunc(ctx, id, token, expiry)
	}
	return nil
}

func (m *MockMemberRepository) UpdateOTP(ctx context.Context, id int64, otp *string, expiry *time.Time) error {
	if m.UpdateOTPFunc != nil {
		return m.UpdateOTPFunc(ctx, id, otp, expiry)
	}
	return nil
}

func (m *MockMemberRepository) UpdateTwoFactor(ctx context.Context, id int64, enabled bool) error {
	if m.UpdateTwoFactorFunc != nil {
		return m.UpdateTwoFactorFunc(ctx, id, enabled)
	}
	return nil
}

func (m *MockMemberRepository) UpdateBackupCodes(ctx context.Context, id int64, codes *string) error {
	if m.UpdateBackupCodesFunc != nil {
		return m.UpdateBackupCodesFunc(ctx, id, codes)
	}
	return nil
}

func (m *MockMemberRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc                 func(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByTokenFunc             func(ctx context.Context, token string) (*models.Session, error)
	SetInactiveFunc            func(ctx context.Context, token string) error
	ExtendFunc                 func(ctx context.Context, token string, expiresAt time.Time) error
	InvalidateAllForMemberFunc func(ctx context.Context, memberID int64) (int64, error)
	ActiveByMemberFunc         func(ctx context.Context, memberID int64) ([]*models.Session, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	return session, nil
}

func (m *MockSessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) SetInactive(ctx context.Context, token string) error {
	if m.SetInactiveFunc != nil {
		return m.SetInactiveFunc(ctx, token)
	}
	return nil
}

func (m *MockSessionRepository) Extend(ctx context.Context, token string, expiresAt time.Time) error {
	if m.ExtendFunc != nil {
		return m.ExtendFunc(ctx, token, expiresAt)
	}
	return nil
}

func (m *MockSessionRepository) InvalidateAllForMember(ctx context.Context, memberID int64) (int64, error) {
	if m.InvalidateAllForMemberFunc != nil {
		return m.InvalidateAllForMemberFunc(ctx, memberID)
	}
	return 0, nil
}

func (m *MockSessionRepository) ActiveByMember(ctx context.Context, memberID int64) ([]*models.Session, error) {
	if m.ActiveByMemberFunc != nil {
		return m.ActiveByMemberFunc(ctx, memberID)
	}
	return []*models.Session{}, nil
}

// MockAuditLogRepository implements AuditLogRepository for testing.
// Created logs are captured for inspection; the capture is safe under
// concurrent use.
type MockAuditLogRepository struct {
	CreateFunc        func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	ListByMemberFunc  func(ctx context.Context, memberID int64, limit int, offset int) ([]*models.AuditLog, error)
	CountByMemberFunc func(ctx context.Context, memberID int64) (int64, error)

	mu          sync.Mutex
	CreatedLogs []*models.AuditLog
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreatedLogs = append(m.CreatedLogs, log)
	return log, nil
}

func (m *MockAuditLogRepository) ListByMember(ctx context.Context, memberID int64, limit int, offset int) ([]*models.AuditLog, error) {
	if m.ListByMemberFunc != nil {
		return m.ListByMemberFunc(ctx, memberID, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditLogRepository) CountByMember(ctx context.Context, memberID int64) (int64, error) {
	if m.CountByMemberFunc != nil {
		return m.CountByMemberFunc(ctx, memberID)
	}
	return 0, nil
}

// Actions returns the recorded audit actions in order.
func (m *MockAuditLogRepository) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, len(m.CreatedLogs))
	for i, log := range m.CreatedLogs {
		actions[i] = log.Action
	}
	return actions
}

// MockMailer implements Mailer for testing
type MockMailer struct {
	SendOTPEmailFunc           func(ctx context.Context, email, name, otp string, expiresAt time.Time) error
	SendPasswordResetEmailFunc func(ctx context.Context, email, name, token string, expiresAt time.Time) error

	SentOTPs        []string
	SentResetTokens []string
}

func (m *MockMailer) SendOTPEmail(ctx context.Context, email, name, otp string, expiresAt time.Time) error {
	if m.SendOTPEmailFunc != nil {
		return m.SendOTPEmailFunc(ctx, email, name, otp, expiresAt)
	}
	m.SentOTPs = append(m.SentOTPs, otp)
	return nil
}

func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, email, name, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, name, token, expiresAt)
	}
	m.SentResetTokens = append(m.SentResetTokens, token)
	return nil
}

// plainEncryptor is a reversible stand-in for the AES encryptor: it prefixes
// rather than encrypts, so tests can assert on stored values.
type plainEncryptor struct{}

func (plainEncryptor) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (plainEncryptor) Decrypt(ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

// memoryMemberRepository is a thread-safe in-memory MemberRepository for
// flow tests where state must accumulate across calls (lockout counting,
// password history).
type memoryMemberRepository struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.Member
}

func newMemoryMemberRepository() *memoryMemberRepository {
	return &memoryMemberRepository{byID: make(map[int64]*models.Member)}
}

// add seeds a member directly, assigning an ID when unset.
func (r *memoryMemberRepository) add(member *models.Member) *models.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	if member.ID == 0 {
		r.nextID++
		member.ID = r.nextID
	} else if member.ID > r.nextID {
		r.nextID = member.ID
	}
	stored := *member
	r.byID[member.ID] = &stored
	return member
}

func (r *memoryMemberRepository) get(id int64) *models.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[id]; ok {
		copied := *m
		return &copied
	}
	return nil
}

func (r *memoryMemberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	if m := r.get(id); m != nil {
		return m, nil
	}
	return nil, models.ErrNotFound
}

func (r *memoryMemberRepository) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.Email == email {
			copied := *m
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memoryMemberRepository) GetByResetToken(ctx context.Context, token string) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.PasswordResetToken != nil && *m.PasswordResetToken == token {
			copied := *m
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memoryMemberRepository) Create(ctx context.Context, member *models.Member) (*models.Member, error) {
	if existing, _ := r.GetByEmail(ctx, member.Email); existing != nil {
		return nil, models.ErrConflict
	}
	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now
	return r.add(member), nil
}

func (r *memoryMemberRepository) update(id int64, fn func(m *models.Member)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	fn(m)
	return nil
}

func (r *memoryMemberRepository) UpdateLockout(ctx context.Context, id int64, attempts int, lockedUntil *time.Time) error {
	return r.update(id, func(m *models.Member) {
		m.FailedLoginAttempts = attempts
		m.LockedUntil = lockedUntil
	})
}

func (r *memoryMemberRepository) UpdatePassword(ctx context.Context, id int64, hash string, history []string, changedAt time.Time) error {
	return r.update(id, func(m *models.Member) {
		m.PasswordHash = hash
		m.PasswordHistory = history
		m.LastPasswordChangedAt = &changedAt
	})
}

func (r *memoryMemberRepository) UpdateResetToken(ctx context.Context, id int64, token *string, expiry *time.Time) error {
	return r.update(id, func(m *models.Member) {
		m.PasswordResetToken = token
		m.PasswordResetTokenExpiry = expiry
	})
}

func (r *memoryMemberRepository) UpdateOTP(ctx context.Context, id int64, otp *string, expiry *time.Time) error {
	return r.update(id, func(m *models.Member) {
		m.CurrentOTP = otp
		m.OTPExpiry = expiry
	})
}

func (r *memoryMemberRepository) UpdateTwoFactor(ctx context.Context, id int64, enabled bool) error {
	return r.update(id, func(m *models.Member) {
		m.TwoFactorEnabled = enabled
	})
}

func (r *memoryMemberRepository) UpdateBackupCodes(ctx context.Context, id int64, codes *string) error {
	return r.update(id, func(m *models.Member) {
		m.BackupCodes = codes
	})
}

func (r *memoryMemberRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(m *models.Member) {
		m.LastLoginAt = &at
	})
}

// memorySessionRepository is a thread-safe in-memory SessionRepository. Used
// for the concurrency tests around EstablishExclusive.
type memorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemorySessionRepository() *memorySessionRepository {
	return &memorySessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *memorySessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *session
	r.sessions[session.Token] = &stored
	copied := stored
	return &copied, nil
}

func (r *memorySessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *memorySessionRepository) SetInactive(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return models.ErrNotFound
	}
	s.IsActive = false
	return nil
}

func (r *memorySessionRepository) Extend(ctx context.Context, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok || !s.IsActive {
		return models.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

func (r *memorySessionRepository) InvalidateAllForMember(ctx context.Context, memberID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept int64
	for _, s := range r.sessions {
		if s.MemberID == memberID && s.IsActive {
			s.IsActive = false
			swept++
		}
	}
	return swept, nil
}

func (r *memorySessionRepository) ActiveByMember(ctx context.Context, memberID int64) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := make([]*models.Session, 0)
	for _, s := range r.sessions {
		if s.MemberID == memberID && s.IsActive {
			copied := *s
			active = append(active, &copied)
		}
	}
	return active, nil
}

// activeCount reports how many of the member's sessions are active right now.
func (r *memorySessionRepository) activeCount(memberID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.sessions {
		if s.MemberID == memberID && s.IsActive {
			count++
		}
	}
	return count
}

// NewTestMember creates a baseline member for tests.
func NewTestMember(id int64, email string) *models.Member {
	now := time.Now()
	changedAt := now.Add(-48 * time.Hour)
	return &models.Member{
		ID:                    id,
		Email:                 email,
		FirstName:             "Alex",
		LastName:              "Tan",
		Gender:                "other",
		NRICEncrypted:         "enc:S1234567A",
		DateOfBirth:           now.AddDate(-30, 0, 0),
		PasswordHash:          "$2a$04$notarealhashnotarealhashnotarealha",
		LastPasswordChangedAt: &changedAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// NewTestMemberWithPassword creates a member with a specific password hash.
func NewTestMemberWithPassword(id int64, email, passwordHash string) *models.Member {
	member := NewTestMember(id, email)
	member.PasswordHash = passwordHash
	return member
}

// NewTestMemberLocked creates a member locked for the given duration from now.
func NewTestMemberLocked(id int64, email string, remaining time.Duration) *models.Member {
	member := NewTestMember(id, email)
	member.FailedLoginAttempts = LockoutThreshold
	lockedUntil := time.Now().Add(remaining)
	member.LockedUntil = &lockedUntil
	return member
}

// NewTestMemberWithOTP creates a two-factor member holding a pending OTP.
func NewTestMemberWithOTP(id int64, email, otp string, expiry time.Time) *models.Member {
	member := NewTestMember(id, email)
	member.TwoFactorEnabled = true
	member.CurrentOTP = &otp
	member.OTPExpiry = &expiry
	return member
}

// NewTestSession creates an active session expiring in the given duration.
func NewTestSession(token string, memberID int64, expiresIn time.Duration) *models.Session {
	now := time.Now()
	return &models.Session{
		Token:     token,
		MemberID:  memberID,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
		IPAddress: "203.0.113.10",
		UserAgent: "test-agent/1.0",
		IsActive:  true,
	}
}

package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/warden/database"
	"github.com/BradenHooton/warden/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const historySeparator = "|"

type MemberRepository struct {
	pool *pgxpool.Pool
}

func NewMemberRepository(db *database.DB) *MemberRepository {
	return &MemberRepository{pool: db.Pool}
}

// rowScanner interface for scanning member rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const memberColumns = `id, email, first_name, last_name, gender, nric_encrypted, date_of_birth,
		password_hash, password_history, last_password_changed_at,
		failed_login_attempts, locked_until,
		password_reset_token, password_reset_token_expiry,
		two_factor_enabled, current_otp, otp_expiry, backup_codes,
		last_login_at, created_at, updated_at`

// scanMemberRow handles nullable fields and populates a Member model from a database row
func scanMemberRow(scanner rowScanner) (*models.Member, error) {
	var member models.Member
	var history *string

	err := scanner.Scan(
		&member.ID, &member.Email, &member.FirstName, &member.LastName,
		&member.Gender, &member.NRICEncrypted, &member.DateOfBirth,
		&member.PasswordHash, &history, &member.LastPasswordChangedAt,
		&member.FailedLoginAttempts, &member.LockedUntil,
		&member.PasswordResetToken, &member.PasswordResetTokenExpiry,
		&member.TwoFactorEnabled, &member.CurrentOTP, &member.OTPExpiry, &member.BackupCodes,
		&member.LastLoginAt, &member.CreatedAt, &member.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if history != nil && *history != "" {
		member.PasswordHistory = strings.Split(*history, historySeparator)
	}

	return &member, nil
}

func joinHistory(history []string) *string {
	if len(history) == 0 {
		return nil
	}
	joined := strings.Join(history, historySeparator)
	return &joined
}

func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	query := fmt.Sprintf(`SELECT %s FROM members WHERE id = $1`, memberColumns)

	return scanMemberRow(r.pool.QueryRow(ctx, query, id))
}

func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	query := fmt.Sprintf(`SELECT %s FROM members WHERE email = $1`, memberColumns)

	return scanMemberRow(r.pool.QueryRow(ctx, query, strings.ToLower(email)))
}

func (r *MemberRepository) GetByResetToken(ctx context.Context, token string) (*models.Member, error) {
	query := fmt.Sprintf(`SELECT %s FROM members WHERE password_reset_token = $1`, memberColumns)

	return scanMemberRow(r.pool.QueryRow(ctx, query, token))
}

func (r *MemberRepository) Create(ctx context.Context, member *models.Member) (*models.Member, error) {
	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO members (email, first_name, last_name, gender, nric_encrypted, date_of_birth,
			password_hash, password_history, last_password_changed_at,
			failed_login_attempts, two_factor_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING %s
	`, memberColumns)

	return scanMemberRow(r.pool.QueryRow(ctx, query,
		strings.ToLower(member.Email), member.FirstName, member.LastName,
		member.Gender, member.NRICEncrypted, member.DateOfBirth,
		member.PasswordHash, joinHistory(member.PasswordHistory), member.LastPasswordChangedAt,
		member.FailedLoginAttempts, member.TwoFactorEnabled,
		member.CreatedAt, member.UpdatedAt,
	))
}

func (r *MemberRepository) UpdateLockout(ctx context.Context, id int64, attempts int, lockedUntil *time.Time) error {
	query := `
		UPDATE members SET failed_login_attempts = $1, locked_until = $2, updated_at = $3
		WHERE id = $4
	`

	return r.exec(ctx, query, attempts, lockedUntil, time.Now(), id)
}

func (r *MemberRepository) UpdatePassword(ctx context.Context, id int64, hash string, history []string, changedAt time.Time) error {
	query := `
		UPDATE members SET password_hash = $1, password_history = $2, last_password_changed_at = $3, updated_at = $4
		WHERE id = $5
	`

	return r.exec(ctx, query, hash, joinHistory(history), changedAt, time.Now(), id)
}

func (r *MemberRepository) UpdateResetToken(ctx context.Context, id int64, token *string, expiry *time.Time) error {
	query := `
		UPDATE members SET password_reset_token = $1, password_reset_token_expiry = $2, updated_at = $3
		WHERE id = $4
	`

	return r.exec(ctx, query, token, expiry, time.Now(), id)
}

func (r *MemberRepository) UpdateOTP(ctx context.Context, id int64, otp *string, expiry *time.Time) error {
	query := `
		UPDATE members SET current_otp = $1, otp_expiry = $2, updated_at = $3
		WHERE id = $4
	`

	return r.exec(ctx, query, otp, expiry, time.Now(), id)
}

func (r *MemberRepository) UpdateTwoFactor(ctx context.Context, id int64, enabled bool) error {
	query := `
		UPDATE members SET two_factor_enabled = $1, updated_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, query, enabled, time.Now(), id)
}

func (r *MemberRepository) UpdateBackupCodes(ctx context.Context, id int64, codes *string) error {
	query := `
		UPDATE members SET backup_codes = $1, updated_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, query, codes, time.Now(), id)
}

func (r *MemberRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE members SET last_login_at = $1, updated_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, query, at, time.Now(), id)
}

func (r *MemberRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/database"
	"github.com/BradenHooton/warden/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db, pool: db.Pool}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session

	err := scanner.Scan(
		&session.Token, &session.MemberID, &session.CreatedAt, &session.ExpiresAt,
		&session.IPAddress, &session.UserAgent, &session.IsActive,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &session, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (token, member_id, created_at, expires_at, ip_address, user_agent, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING token, member_id, created_at, expires_at, ip_address, user_agent, is_active
	`

	return scanSessionRow(r.pool.QueryRow(ctx, query,
		session.Token, session.MemberID, session.CreatedAt, session.ExpiresAt,
		session.IPAddress, session.UserAgent, session.IsActive,
	))
}

func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT token, member_id, created_at, expires_at, ip_address, user_agent, is_active
		FROM sessions WHERE token = $1
	`

	return scanSessionRow(r.pool.QueryRow(ctx, query, token))
}

// SetInactive soft-deletes a single session. The row is kept for audit.
func (r *SessionRepository) SetInactive(ctx context.Context, token string) error {
	query := `UPDATE sessions SET is_active = FALSE WHERE token = $1`

	result, err := r.pool.Exec(ctx, query, token)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *SessionRepository) Extend(ctx context.Context, token string, expiresAt time.Time) error {
	query := `UPDATE sessions SET expires_at = $1 WHERE token = $2 AND is_active = TRUE`

	result, err := r.pool.Exec(ctx, query, expiresAt, token)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// InvalidateAllForMember deactivates every active session the member holds
// in one transactional sweep, so no interleaved read can observe a partial one.
func (r *SessionRepository) InvalidateAllForMember(ctx context.Context, memberID int64) (int64, error) {
	query := `UPDATE sessions SET is_active = FALSE WHERE member_id = $1 AND is_active = TRUE`

	var affected int64
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, memberID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		affected = result.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

func (r *SessionRepository) ActiveByMember(ctx context.Context, memberID int64) ([]*models.Session, error) {
	query := `
		SELECT token, member_id, created_at, expires_at, ip_address, user_agent, is_active
		FROM sessions WHERE member_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

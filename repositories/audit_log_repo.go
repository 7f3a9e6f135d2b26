package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/warden/database"
	"github.com/BradenHooton/warden/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := row.Scan(
		&log.ID, &log.MemberID, &log.Action,
		&log.IPAddress, &log.UserAgent, &log.Details,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)

	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

// Create creates a new audit log entry
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	query := `
		INSERT INTO audit_logs (member_id, action, ip_address, user_agent, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, member_id, action, ip_address, user_agent, details, created_at
	`

	result, err := scanAuditLogRow(r.pool.QueryRow(
		ctx, query,
		log.MemberID, log.Action, log.IPAddress, log.UserAgent, log.Details,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}

// ListByMember retrieves audit logs for one member, newest first
func (r *AuditLogRepository) ListByMember(ctx context.Context, memberID int64, limit int, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, member_id, action, ip_address, user_agent, details, created_at
		FROM audit_logs
		WHERE member_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, memberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// ListByAction retrieves audit logs by action type
func (r *AuditLogRepository) ListByAction(ctx context.Context, action string, limit int, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, member_id, action, ip_address, user_agent, details, created_at
		FROM audit_logs
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// CountByMember counts audit logs for a specific member
func (r *AuditLogRepository) CountByMember(ctx context.Context, memberID int64) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM audit_logs
		WHERE member_id = $1
	`

	var count int64
	err := r.pool.QueryRow(ctx, query, memberID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	return count, nil
}

// Cleanup removes audit logs older than the specified number of days
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM audit_logs
		WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	result, err := r.pool.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	return result.RowsAffected(), nil
}

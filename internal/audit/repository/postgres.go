package repository

import (
	"context"
	"database/sql"
	"errors"

	"telecare-platform/authority/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db
// for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the audit entry for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, actor, action, outcome, reason, session_id, cred_audit_id, device_id, ip_address, created_at
		FROM audit_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByActor returns audit entries for the actor, newest first, paginated
// by limit and offset.
func (r *PostgresRepository) ListByActor(ctx context.Context, actor string, limit, offset int32) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor, action, outcome, reason, session_id, cred_audit_id, device_id, ip_address, created_at
		FROM audit_entries WHERE actor = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, actor, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create persists the audit entry. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, actor, action, outcome, reason, session_id, cred_audit_id, device_id, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Actor, e.Action, e.Outcome,
		sql.NullString{String: e.Reason, Valid: e.Reason != ""},
		sql.NullString{String: e.SessionID, Valid: e.SessionID != ""},
		sql.NullString{String: e.CredAuditID, Valid: e.CredAuditID != ""},
		sql.NullString{String: e.DeviceID, Valid: e.DeviceID != ""},
		sql.NullString{String: e.IPAddress, Valid: e.IPAddress != ""},
		e.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.Entry, error) {
	var (
		e                              domain.Entry
		reason, sessionID, credAuditID sql.NullString
		deviceID, ipAddress            sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Actor, &e.Action, &e.Outcome, &reason, &sessionID, &credAuditID, &deviceID, &ipAddress, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Reason = reason.String
	e.SessionID = sessionID.String
	e.CredAuditID = credAuditID.String
	e.DeviceID = deviceID.String
	e.IPAddress = ipAddress.String
	return &e, nil
}

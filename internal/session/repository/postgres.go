package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"telecare-platform/authority/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db
// for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, subject, device_id, ip_address, refresh_count, expires_at, revoked_at, last_seen_at, created_at
		FROM sessions WHERE id = $1`, id)

	var (
		s          domain.Session
		ip         sql.NullString
		revokedAt  sql.NullTime
		lastSeenAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Subject, &s.DeviceID, &ip, &s.RefreshCount, &s.ExpiresAt, &revokedAt, &lastSeenAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.IPAddress = ip.String
	s.RevokedAt = nullTimeToPtr(revokedAt)
	s.LastSeenAt = nullTimeToPtr(lastSeenAt)
	return &s, nil
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject, device_id, ip_address, refresh_count, expires_at, revoked_at, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Subject, s.DeviceID,
		sql.NullString{String: s.IPAddress, Valid: s.IPAddress != ""},
		s.RefreshCount, s.ExpiresAt,
		ptrToNullTime(s.RevokedAt), ptrToNullTime(s.LastSeenAt), s.CreatedAt)
	return err
}

// Revoke marks the session with the given id as revoked. Already-revoked
// sessions keep their original revocation time.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, time.Now().UTC())
	return err
}

// RevokeAllBySubject revokes every non-revoked session for the subject
// (forced sign-out) and returns the ids it revoked.
func (r *PostgresRepository) RevokeAllBySubject(ctx context.Context, subject string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE subject = $1 AND revoked_at IS NULL
		RETURNING id`,
		subject, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateLastSeen sets the session's last-seen timestamp. Last-seen only
// moves forward: an older timestamp never overwrites a newer one.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_seen_at = $2
		WHERE id = $1 AND (last_seen_at IS NULL OR last_seen_at < $2)`,
		id, at)
	return err
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func ptrToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

package repository

import (
	"context"
	"time"

	"telecare-platform/authority/internal/session/domain"
)

// Repository defines persistence for session records.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllBySubject(ctx context.Context, subject string) ([]string, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

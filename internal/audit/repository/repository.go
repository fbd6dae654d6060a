package repository

import (
	"context"

	"telecare-platform/authority/internal/audit/domain"
)

// Repository defines persistence for audit entries. Entries are append-only.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Entry, error)
	ListByActor(ctx context.Context, actor string, limit, offset int32) ([]*domain.Entry, error)
	Create(ctx context.Context, e *domain.Entry) error
}

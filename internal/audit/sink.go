// Package audit emits immutable authentication-event records. The sink is
// an injected dependency of the gate and the session manager, not process
// state, so tests can capture entries with a fake.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"telecare-platform/authority/internal/audit/domain"
	auditrepo "telecare-platform/authority/internal/audit/repository"
)

// Sink accepts structured audit entries. Record is best-effort: a slow or
// unavailable sink must never prevent the authorization decision from being
// returned, so implementations bound their own blocking.
type Sink interface {
	Record(ctx context.Context, e *domain.Entry)
}

// Logger persists audit entries through the audit repository. Failures are
// logged and do not affect the caller.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns a Sink that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// Record writes one audit entry, stamping ID and CreatedAt if unset.
func (l *Logger) Record(ctx context.Context, e *domain.Entry) {
	if l.repo == nil || e == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := l.repo.Create(ctx, e); err != nil {
		log.Printf("audit: failed to record %s/%s: %v", e.Action, e.Outcome, err)
	}
}

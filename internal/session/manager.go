package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"telecare-platform/authority/internal/audit"
	auditdomain "telecare-platform/authority/internal/audit/domain"
	"telecare-platform/authority/internal/revocation"
	"telecare-platform/authority/internal/security"
	"telecare-platform/authority/internal/session/domain"
)

// ErrRefreshLimitExceeded is returned when a session lineage has been
// refreshed up to the configured ceiling. The client must authenticate from
// scratch.
var ErrRefreshLimitExceeded = errors.New("refresh limit exceeded")

// SessionRepo is the minimal session repository needed by the manager.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllBySubject(ctx context.Context, subject string) ([]string, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// Manager rotates and revokes sessions. Refresh rotates the session id and
// audit id while carrying identity forward; Revoke appends to the revocation
// registry. All writes happen only on a reached terminal path, never
// speculatively, so an abandoned request leaves no partial state.
type Manager struct {
	tokens      *security.TokenProvider
	sessions    SessionRepo
	registry    revocation.Registry
	audits      audit.Sink
	maxRefresh  int
	accessTTL   time.Duration
	extendedTTL time.Duration
	now         func() time.Time
}

// NewManager returns a Manager. maxRefresh bounds the rotation chain per
// login lineage; extendedTTL is the credential lifetime used when a refresh
// requests the extended window.
func NewManager(tokens *security.TokenProvider, sessions SessionRepo, registry revocation.Registry, audits audit.Sink, maxRefresh int, accessTTL, extendedTTL time.Duration) *Manager {
	return &Manager{
		tokens:      tokens,
		sessions:    sessions,
		registry:    registry,
		audits:      audits,
		maxRefresh:  maxRefresh,
		accessTTL:   accessTTL,
		extendedTTL: extendedTTL,
		now:         time.Now,
	}
}

// Refresh verifies the old credential, supersedes its session id, and issues
// a new credential under a fresh session id and audit id. Identity fields
// (subject, roles, permissions, device) carry forward unchanged. A refresh
// of an already-invalid credential fails exactly like any verification
// failure; refresh confers no amnesty.
//
// The supersede marker is a registry compare-and-set, so of two concurrent
// refreshes on the same credential exactly one rotates; the other finds the
// session already superseded and fails.
func (m *Manager) Refresh(ctx context.Context, credential, deviceID string, extended bool) (string, *security.Payload, error) {
	payload, err := m.tokens.Verify(ctx, credential, deviceID)
	if err != nil {
		m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, nil, err, deviceID)
		return "", nil, err
	}

	record, err := m.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		err = fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
		m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, payload, err, deviceID)
		return "", nil, err
	}
	refreshCount := 0
	if record != nil {
		if record.RevokedAt != nil {
			m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, payload, security.ErrRevoked, deviceID)
			return "", nil, security.ErrRevoked
		}
		refreshCount = record.RefreshCount
	}
	if m.maxRefresh > 0 && refreshCount >= m.maxRefresh {
		m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, payload, ErrRefreshLimitExceeded, deviceID)
		return "", nil, ErrRefreshLimitExceeded
	}

	won, err := m.registry.Supersede(ctx, payload.SessionID)
	if err != nil {
		err = fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
		m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, payload, err, deviceID)
		return "", nil, err
	}
	if !won {
		err = fmt.Errorf("%w: session superseded", security.ErrUnauthorized)
		m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, payload, err, deviceID)
		return "", nil, err
	}

	opts := security.IssueOptions{}
	ttl := m.accessTTL
	if extended && m.extendedTTL > 0 {
		opts.ExpiresIn = m.extendedTTL
		ttl = m.extendedTTL
	}
	next := security.Payload{
		Subject:     payload.Subject,
		Contact:     payload.Contact,
		Roles:       payload.Roles,
		Permissions: payload.Permissions,
		SessionID:   uuid.New().String(),
		DeviceID:    payload.DeviceID,
		IPAddress:   payload.IPAddress,
	}
	newCredential, issued, err := m.tokens.Issue(next, opts)
	if err != nil {
		m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, payload, err, deviceID)
		return "", nil, err
	}

	now := m.now().UTC()
	if err := m.sessions.Create(ctx, &domain.Session{
		ID:           issued.SessionID,
		Subject:      issued.Subject,
		DeviceID:     issued.DeviceID,
		IPAddress:    issued.IPAddress,
		RefreshCount: refreshCount + 1,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}); err != nil {
		err = fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
		m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeFailure, issued, err, deviceID)
		return "", nil, err
	}
	if record != nil {
		_ = m.sessions.UpdateLastSeen(ctx, record.ID, now)
	}

	m.record(ctx, auditdomain.ActionRefresh, auditdomain.OutcomeSuccess, issued, nil, deviceID)
	return newCredential, issued, nil
}

// Revoke verifies the credential, then appends a revocation record carrying
// the caller's reason. Verifying first records why a session ended, not
// merely that it can no longer be used. Revoking an already-revoked session
// is idempotent and returns nil.
func (m *Manager) Revoke(ctx context.Context, credential, deviceID, reason string) error {
	payload, err := m.tokens.Verify(ctx, credential, deviceID)
	if err != nil {
		if errors.Is(err, security.ErrRevoked) {
			return nil
		}
		m.record(ctx, auditdomain.ActionRevoke, auditdomain.OutcomeFailure, nil, err, deviceID)
		return err
	}

	if err := m.registry.Append(ctx, &revocation.Record{
		Ref:       payload.SessionID,
		Subject:   payload.Subject,
		Reason:    reason,
		AuditID:   payload.AuditID,
		RevokedAt: m.now().UTC(),
	}); err != nil {
		err = fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
		m.record(ctx, auditdomain.ActionRevoke, auditdomain.OutcomeFailure, payload, err, deviceID)
		return err
	}
	_ = m.sessions.Revoke(ctx, payload.SessionID)

	m.record(ctx, auditdomain.ActionRevoke, auditdomain.OutcomeSuccess, payload, nil, deviceID)
	return nil
}

// RevokeAll verifies the credential, then revokes every live session the
// subject holds (forced sign-out). Each revoked session gets its own
// registry record so credentials minted for it stop verifying immediately.
// Returns the number of sessions revoked.
func (m *Manager) RevokeAll(ctx context.Context, credential, deviceID, reason string) (int, error) {
	payload, err := m.tokens.Verify(ctx, credential, deviceID)
	if err != nil {
		m.record(ctx, auditdomain.ActionRevokeAll, auditdomain.OutcomeFailure, nil, err, deviceID)
		return 0, err
	}

	ids, err := m.sessions.RevokeAllBySubject(ctx, payload.Subject)
	if err != nil {
		err = fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
		m.record(ctx, auditdomain.ActionRevokeAll, auditdomain.OutcomeFailure, payload, err, deviceID)
		return 0, err
	}
	// The presented session may predate the session store; its registry
	// record must land regardless.
	seen := map[string]bool{}
	refs := append([]string{payload.SessionID}, ids...)
	revoked := 0
	now := m.now().UTC()
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if err := m.registry.Append(ctx, &revocation.Record{
			Ref:       ref,
			Subject:   payload.Subject,
			Reason:    reason,
			AuditID:   payload.AuditID,
			RevokedAt: now,
		}); err != nil {
			err = fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
			m.record(ctx, auditdomain.ActionRevokeAll, auditdomain.OutcomeFailure, payload, err, deviceID)
			return revoked, err
		}
		revoked++
	}

	m.record(ctx, auditdomain.ActionRevokeAll, auditdomain.OutcomeSuccess, payload, nil, deviceID)
	return revoked, nil
}

// RevocationRecord returns the stored record explaining why sessionID was
// revoked, or nil when no revocation exists for it.
func (m *Manager) RevocationRecord(ctx context.Context, sessionID string) (*revocation.Record, error) {
	rec, err := m.registry.GetRecord(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
	}
	return rec, nil
}

func (m *Manager) record(ctx context.Context, action, outcome string, payload *security.Payload, cause error, deviceID string) {
	if m.audits == nil {
		return
	}
	e := &auditdomain.Entry{
		Action:   action,
		Outcome:  outcome,
		DeviceID: deviceID,
	}
	if payload != nil {
		e.Actor = payload.Subject
		e.SessionID = payload.SessionID
		e.CredAuditID = payload.AuditID
		e.IPAddress = payload.IPAddress
	}
	if cause != nil {
		e.Reason = cause.Error()
	}
	m.audits.Record(ctx, e)
}

// Package revocation records revoked and superseded sessions. Records are
// append-only: they are created on logout, forced sign-out, or detected
// compromise, consulted on every verification, and never mutated.
package revocation

import (
	"context"
	"time"
)

// Record captures why a credential or session was invalidated before its
// natural expiry.
type Record struct {
	// Ref is the session id or credential identifier being revoked.
	Ref string `json:"ref"`
	// Subject is the user the session belonged to.
	Subject string `json:"subject"`
	// Reason is the caller-supplied revocation reason (e.g. "logout").
	Reason string `json:"reason"`
	// AuditID correlates the record to the credential's audit trail.
	AuditID string `json:"audit_id"`
	// RevokedAt is when the record was created.
	RevokedAt time.Time `json:"revoked_at"`
}

// Registry is the externally-owned revocation store. All methods must be
// safe for concurrent request handlers; implementations hold no in-core
// mutable state.
type Registry interface {
	// Exists reports whether ref has been revoked or superseded.
	Exists(ctx context.Context, ref string) (bool, error)
	// Append records a revocation. Appending the same ref twice is
	// idempotent: it must not cause verification divergence.
	Append(ctx context.Context, rec *Record) error
	// Supersede atomically marks sessionID as replaced by a refresh
	// rotation. It returns true for exactly one caller per session id;
	// concurrent callers racing on the same id get false.
	Supersede(ctx context.Context, sessionID string) (bool, error)
	// GetRecord returns the stored revocation record for ref, or nil when
	// ref has no record (it may still be superseded).
	GetRecord(ctx context.Context, ref string) (*Record, error)
}

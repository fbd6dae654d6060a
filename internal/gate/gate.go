// Package gate orchestrates per-request authorization: credential
// extraction, verification, device and role/permission policy, request
// context enrichment, and audit emission. Transport adapters (gRPC
// interceptor, HTTP middleware) translate to and from their wire formats;
// the decision logic lives here.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telecare-platform/authority/internal/audit"
	auditdomain "telecare-platform/authority/internal/audit/domain"
	"telecare-platform/authority/internal/security"
)

// ErrForbidden is returned for a valid identity with insufficient role or
// permission. Distinct from ErrUnauthorized so transports can answer 403
// instead of 401.
var ErrForbidden = errors.New("forbidden")

// AuditLevel controls which terminal paths the gate records.
type AuditLevel int

const (
	// AuditFailures records failure paths only.
	AuditFailures AuditLevel = iota
	// AuditAll records success paths as well.
	AuditAll
)

// Config selects the gate's per-route policy.
type Config struct {
	// RequireAuth rejects requests without a credential. When false an
	// absent credential proceeds unauthenticated (no request context).
	RequireAuth bool
	// RequiredRoles passes when the payload holds at least one of them.
	RequiredRoles []string
	// RequiredPermissions must all be present in the payload.
	RequiredPermissions []string
	// ValidateDevice requires the request's asserted device header to equal
	// the device embedded in the verified payload.
	ValidateDevice bool
	// EnforceBinding ties verification to the request's device context via
	// fingerprint recomputation.
	EnforceBinding bool
	// AuditLevel selects failure-only or full audit emission.
	AuditLevel AuditLevel
	// SessionTimeout overrides the verifier's inactivity ceiling when > 0.
	SessionTimeout time.Duration
}

// PermissionEvaluator decides permission checks. The zero configuration uses
// the static superset rule; an OPA-backed evaluator can replace it.
type PermissionEvaluator interface {
	Allowed(ctx context.Context, payload *security.Payload, required []string) (bool, error)
}

// Request carries what the transport layer extracted from one request.
type Request struct {
	Credential string
	DeviceID   string
	IPAddress  string
	UserAgent  string
}

// Gate is the per-request orchestration layer. It is stateless across
// requests; concurrent Authorize calls share nothing mutable.
type Gate struct {
	verifier  *security.TokenProvider
	audits    audit.Sink
	evaluator PermissionEvaluator
	cfg       Config
}

// NewGate returns a Gate using the given verifier and audit sink. evaluator
// may be nil for the static permission rule. cfg.EnforceBinding and
// cfg.SessionTimeout derive a route-local verifier from the shared provider.
func NewGate(verifier *security.TokenProvider, audits audit.Sink, evaluator PermissionEvaluator, cfg Config) *Gate {
	v := verifier.WithBindingEnforcement(cfg.EnforceBinding)
	if cfg.SessionTimeout > 0 {
		v = v.WithSessionTimeout(cfg.SessionTimeout)
	}
	return &Gate{verifier: v, audits: audits, evaluator: evaluator, cfg: cfg}
}

// Authorize runs the gate for one request. On success it returns the
// enriched request context; a nil context with nil error means the request
// proceeds unauthenticated (optional auth, no credential). Every terminal
// failure emits an audit entry before returning.
func (g *Gate) Authorize(ctx context.Context, req Request) (*RequestContext, error) {
	if req.Credential == "" {
		if !g.cfg.RequireAuth {
			return nil, nil
		}
		err := fmt.Errorf("%w: missing credential", security.ErrUnauthorized)
		g.record(ctx, req, nil, err)
		return nil, err
	}

	payload, err := g.verifier.Verify(ctx, req.Credential, req.DeviceID)
	if err != nil {
		g.record(ctx, req, nil, err)
		return nil, err
	}

	if g.cfg.ValidateDevice && req.DeviceID != payload.DeviceID {
		err := fmt.Errorf("%w: device mismatch", security.ErrUnauthorized)
		g.record(ctx, req, payload, err)
		return nil, err
	}

	if len(g.cfg.RequiredRoles) > 0 && !anyRole(payload.Roles, g.cfg.RequiredRoles) {
		err := fmt.Errorf("%w: requires one of roles %v", ErrForbidden, g.cfg.RequiredRoles)
		g.record(ctx, req, payload, err)
		return nil, err
	}

	if len(g.cfg.RequiredPermissions) > 0 {
		allowed, err := g.permissionsAllowed(ctx, payload)
		if err != nil {
			g.record(ctx, req, payload, err)
			return nil, err
		}
		if !allowed {
			err := fmt.Errorf("%w: requires permissions %v", ErrForbidden, g.cfg.RequiredPermissions)
			g.record(ctx, req, payload, err)
			return nil, err
		}
	}

	rc := newRequestContext(payload, req)
	rc.Touch()
	if g.cfg.AuditLevel >= AuditAll {
		g.record(ctx, req, payload, nil)
	}
	return rc, nil
}

func (g *Gate) permissionsAllowed(ctx context.Context, payload *security.Payload) (bool, error) {
	if g.evaluator != nil {
		allowed, err := g.evaluator.Allowed(ctx, payload, g.cfg.RequiredPermissions)
		if err != nil {
			return false, fmt.Errorf("%w: %v", security.ErrDependencyUnavailable, err)
		}
		return allowed, nil
	}
	return hasAllPermissions(payload.Permissions, g.cfg.RequiredPermissions), nil
}

func anyRole(have, required []string) bool {
	for _, r := range required {
		for _, h := range have {
			if h == r {
				return true
			}
		}
	}
	return false
}

func hasAllPermissions(have, required []string) bool {
	held := make(map[string]bool, len(have))
	for _, p := range have {
		held[p] = true
	}
	for _, p := range required {
		if !held[p] {
			return false
		}
	}
	return true
}

func (g *Gate) record(ctx context.Context, req Request, payload *security.Payload, cause error) {
	if g.audits == nil {
		return
	}
	e := &auditdomain.Entry{
		Action:    auditdomain.ActionVerify,
		Outcome:   auditdomain.OutcomeSuccess,
		DeviceID:  req.DeviceID,
		IPAddress: req.IPAddress,
	}
	if payload != nil {
		e.Actor = payload.Subject
		e.SessionID = payload.SessionID
		e.CredAuditID = payload.AuditID
	}
	if cause != nil {
		e.Outcome = auditdomain.OutcomeFailure
		e.Reason = cause.Error()
	}
	g.audits.Record(ctx, e)
}

package gate

import (
	"context"
	"sync/atomic"
	"time"

	"telecare-platform/authority/internal/security"
)

// RequestContext is the identity/session context the gate attaches to an
// authorized request: the decoded payload, the asserted device, transport
// metadata, a fresh last-access timestamp, and an in-request activity
// counter.
type RequestContext struct {
	Payload    *security.Payload
	DeviceID   string
	IPAddress  string
	UserAgent  string
	LastAccess time.Time

	activity atomic.Int64
}

func newRequestContext(payload *security.Payload, req Request) *RequestContext {
	return &RequestContext{
		Payload:    payload,
		DeviceID:   req.DeviceID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		LastAccess: payload.LastAccess,
	}
}

// Touch increments and returns the in-request activity counter.
func (rc *RequestContext) Touch() int64 {
	return rc.activity.Add(1)
}

// Activity returns the current in-request activity count.
func (rc *RequestContext) Activity() int64 {
	return rc.activity.Load()
}

type contextKey struct{ name string }

var requestContextKey = contextKey{"authority_request"}

// WithRequestContext returns a context carrying the authorized request
// context. Handlers read it back via FromContext.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// FromContext returns the authorized request context and true if set;
// otherwise nil, false (unauthenticated request on an optional-auth route).
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok
}

// Subject returns the authenticated subject id from ctx, or "" when the
// request is unauthenticated.
func Subject(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok && rc.Payload != nil {
		return rc.Payload.Subject
	}
	return ""
}

// SessionID returns the authenticated session id from ctx, or "".
func SessionID(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok && rc.Payload != nil {
		return rc.Payload.SessionID
	}
	return ""
}

package gate

import (
	"context"
	"errors"
	"sync"
	"testing"

	auditdomain "telecare-platform/authority/internal/audit/domain"
	"telecare-platform/authority/internal/security"
)

type capturingSink struct {
	mu      sync.Mutex
	entries []*auditdomain.Entry
}

func (c *capturingSink) Record(_ context.Context, e *auditdomain.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *capturingSink) last() *auditdomain.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	return c.entries[len(c.entries)-1]
}

func testProvider(t *testing.T) *security.TokenProvider {
	t.Helper()
	p, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	return p
}

func issueCredential(t *testing.T, p *security.TokenProvider, roles, permissions []string) string {
	t.Helper()
	credential, _, err := p.Issue(security.Payload{
		Subject:     "u1",
		Contact:     "u1@example.com",
		Roles:       roles,
		Permissions: permissions,
		SessionID:   "s1",
		DeviceID:    "d1",
		IPAddress:   "10.0.0.1",
	}, security.IssueOptions{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return credential
}

func TestOptionalAuthWithoutCredential(t *testing.T) {
	sink := &capturingSink{}
	g := NewGate(testProvider(t), sink, nil, Config{RequireAuth: false, EnforceBinding: true})

	rc, err := g.Authorize(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if rc != nil {
		t.Error("unauthenticated request produced a request context")
	}
	if sink.last() != nil {
		t.Error("optional unauthenticated pass-through must not audit")
	}
}

func TestMandatoryAuthWithoutCredential(t *testing.T) {
	sink := &capturingSink{}
	g := NewGate(testProvider(t), sink, nil, Config{RequireAuth: true, EnforceBinding: true})

	_, err := g.Authorize(context.Background(), Request{DeviceID: "d1"})
	if !errors.Is(err, security.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	e := sink.last()
	if e == nil || e.Outcome != auditdomain.OutcomeFailure {
		t.Errorf("failure audit entry: got %+v", e)
	}
}

func TestAuthorizeSuccess(t *testing.T) {
	p := testProvider(t)
	sink := &capturingSink{}
	g := NewGate(p, sink, nil, Config{
		RequireAuth:    true,
		RequiredRoles:  []string{"patient", "clinician"},
		EnforceBinding: true,
		ValidateDevice: true,
		AuditLevel:     AuditAll,
	})
	credential := issueCredential(t, p, []string{"patient"}, []string{"claims:read"})

	rc, err := g.Authorize(context.Background(), Request{
		Credential: credential,
		DeviceID:   "d1",
		IPAddress:  "10.0.0.1",
		UserAgent:  "test-agent",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if rc.Payload.Subject != "u1" {
		t.Errorf("subject: got %q", rc.Payload.Subject)
	}
	if rc.DeviceID != "d1" || rc.UserAgent != "test-agent" {
		t.Errorf("transport metadata: %+v", rc)
	}
	if rc.Activity() != 1 {
		t.Errorf("activity counter: got %d, want 1", rc.Activity())
	}
	if rc.LastAccess.IsZero() {
		t.Error("last access not stamped")
	}
	e := sink.last()
	if e == nil || e.Outcome != auditdomain.OutcomeSuccess || e.Actor != "u1" {
		t.Errorf("success audit entry: got %+v", e)
	}
}

func TestDeviceMismatchScenario(t *testing.T) {
	p := testProvider(t)
	g := NewGate(p, nil, nil, Config{RequireAuth: true, EnforceBinding: true, ValidateDevice: true})
	credential := issueCredential(t, p, []string{"patient"}, nil)

	rc, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"})
	if err != nil {
		t.Fatalf("verify with issuing device d1: %v", err)
	}
	if rc.Payload.Subject != "u1" {
		t.Errorf("subject: got %q, want u1", rc.Payload.Subject)
	}

	if _, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d2"}); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("verify with device d2: got %v, want ErrUnauthorized", err)
	}
}

func TestRoleIntersection(t *testing.T) {
	p := testProvider(t)
	credential := issueCredential(t, p, []string{"patient"}, nil)

	cases := []struct {
		name    string
		roles   []string
		wantErr error
	}{
		{"role present", []string{"patient"}, nil},
		{"one of several", []string{"clinician", "patient"}, nil},
		{"no intersection", []string{"clinician", "admin"}, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate(p, nil, nil, Config{RequireAuth: true, EnforceBinding: true, RequiredRoles: tc.roles})
			_, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"})
			if tc.wantErr == nil && err != nil {
				t.Errorf("got %v, want nil", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPermissionSuperset(t *testing.T) {
	p := testProvider(t)
	credential := issueCredential(t, p, []string{"patient"}, []string{"claims:read"})

	g := NewGate(p, nil, nil, Config{RequireAuth: true, EnforceBinding: true, RequiredPermissions: []string{"claims:write"}})
	if _, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("missing permission: got %v, want ErrForbidden", err)
	}

	g = NewGate(p, nil, nil, Config{RequireAuth: true, EnforceBinding: true, RequiredPermissions: []string{"claims:read"}})
	if _, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"}); err != nil {
		t.Errorf("held permission: got %v, want nil", err)
	}
}

type fakeEvaluator struct {
	allowed bool
	err     error
}

func (f *fakeEvaluator) Allowed(_ context.Context, _ *security.Payload, _ []string) (bool, error) {
	return f.allowed, f.err
}

func TestPermissionEvaluator(t *testing.T) {
	p := testProvider(t)
	credential := issueCredential(t, p, []string{"patient"}, []string{"claims:read"})
	cfg := Config{RequireAuth: true, EnforceBinding: true, RequiredPermissions: []string{"claims:write"}}

	g := NewGate(p, nil, &fakeEvaluator{allowed: true}, cfg)
	if _, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"}); err != nil {
		t.Errorf("evaluator allow: got %v, want nil", err)
	}

	g = NewGate(p, nil, &fakeEvaluator{allowed: false}, cfg)
	if _, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("evaluator deny: got %v, want ErrForbidden", err)
	}

	g = NewGate(p, nil, &fakeEvaluator{err: errors.New("opa down")}, cfg)
	if _, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"}); !errors.Is(err, security.ErrDependencyUnavailable) {
		t.Errorf("evaluator error: got %v, want ErrDependencyUnavailable", err)
	}
}

func TestBindingEnforcementDisabled(t *testing.T) {
	p := testProvider(t)
	credential := issueCredential(t, p, []string{"patient"}, nil)

	g := NewGate(p, nil, nil, Config{RequireAuth: true, EnforceBinding: false})
	if _, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d2"}); err != nil {
		t.Errorf("binding disabled: got %v, want nil", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	p := testProvider(t)
	g := NewGate(p, nil, nil, Config{RequireAuth: true, EnforceBinding: true})
	credential := issueCredential(t, p, []string{"patient"}, nil)

	rc, err := g.Authorize(context.Background(), Request{Credential: credential, DeviceID: "d1"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	ctx := WithRequestContext(context.Background(), rc)
	if got := Subject(ctx); got != "u1" {
		t.Errorf("Subject: got %q", got)
	}
	if got := SessionID(ctx); got != "s1" {
		t.Errorf("SessionID: got %q", got)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext on empty context returned ok")
	}
}

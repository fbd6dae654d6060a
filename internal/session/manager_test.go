package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telecare-platform/authority/internal/revocation"
	"telecare-platform/authority/internal/security"
	"telecare-platform/authority/internal/session/domain"
)

type fakeRegistry struct {
	mu         sync.Mutex
	revoked    map[string]*revocation.Record
	superseded map[string]bool
	failNext   error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{revoked: map[string]*revocation.Record{}, superseded: map[string]bool{}}
}

func (f *fakeRegistry) Exists(ctx context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		return false, f.failNext
	}
	_, r := f.revoked[ref]
	return r || f.superseded[ref], nil
}

func (f *fakeRegistry) Append(ctx context.Context, rec *revocation.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		return f.failNext
	}
	f.revoked[rec.Ref] = rec
	return nil
}

func (f *fakeRegistry) Supersede(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		return false, f.failNext
	}
	if f.superseded[sessionID] {
		return false, nil
	}
	f.superseded[sessionID] = true
	return true, nil
}

func (f *fakeRegistry) GetRecord(ctx context.Context, ref string) (*revocation.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		return nil, f.failNext
	}
	return f.revoked[ref], nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*domain.Session{}}
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.sessions[s.ID] = &copied
	return nil
}

func (f *fakeSessionRepo) Revoke(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
	}
	return nil
}

func (f *fakeSessionRepo) RevokeAllBySubject(ctx context.Context, subject string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	now := time.Now().UTC()
	for id, s := range f.sessions {
		if s.Subject == subject && s.RevokedAt == nil {
			s.RevokedAt = &now
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeSessionRepo) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		if s.LastSeenAt == nil || s.LastSeenAt.Before(at) {
			s.LastSeenAt = &at
		}
	}
	return nil
}

func newTestManager(t *testing.T, maxRefresh int) (*Manager, *security.TokenProvider, *fakeRegistry, *fakeSessionRepo) {
	t.Helper()
	provider, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	registry := newFakeRegistry()
	provider.SetRevocationChecker(registry)
	repo := newFakeSessionRepo()
	m := NewManager(provider, repo, registry, nil, maxRefresh, 15*time.Minute, time.Hour)
	return m, provider, registry, repo
}

func loginCredential(t *testing.T, provider *security.TokenProvider) (string, *security.Payload) {
	t.Helper()
	credential, payload, err := provider.Issue(security.Payload{
		Subject:     "u1",
		Contact:     "u1@example.com",
		Roles:       []string{"patient"},
		Permissions: []string{"claims:read"},
		SessionID:   "s1",
		DeviceID:    "d1",
		IPAddress:   "10.0.0.1",
	}, security.IssueOptions{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return credential, payload
}

func TestRefreshRotatesSessionAndAuditIDs(t *testing.T) {
	m, provider, _, repo := newTestManager(t, 10)
	credential, original := loginCredential(t, provider)
	ctx := context.Background()

	newCredential, rotated, err := m.Refresh(ctx, credential, "d1", false)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.SessionID == original.SessionID {
		t.Error("session id not rotated")
	}
	if rotated.AuditID == original.AuditID {
		t.Error("audit id not rotated")
	}
	if rotated.Subject != "u1" || rotated.DeviceID != "d1" || len(rotated.Roles) != 1 {
		t.Errorf("identity not carried forward: %+v", rotated)
	}

	got, err := provider.Verify(ctx, newCredential, "d1")
	if err != nil {
		t.Fatalf("Verify new credential: %v", err)
	}
	if got.SessionID != rotated.SessionID {
		t.Errorf("verified session id %q, want %q", got.SessionID, rotated.SessionID)
	}

	rec, err := repo.GetByID(ctx, rotated.SessionID)
	if err != nil || rec == nil {
		t.Fatalf("rotated session record missing: %v", err)
	}
	if rec.RefreshCount != 1 {
		t.Errorf("refresh count: got %d, want 1", rec.RefreshCount)
	}
}

func TestRefreshInvalidatesOldCredential(t *testing.T) {
	m, provider, _, _ := newTestManager(t, 10)
	credential, _ := loginCredential(t, provider)
	ctx := context.Background()

	if _, _, err := m.Refresh(ctx, credential, "d1", false); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := provider.Verify(ctx, credential, "d1"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("old credential after refresh: got %v, want ErrUnauthorized", err)
	}
}

func TestRefreshNoAmnesty(t *testing.T) {
	m, provider, _, _ := newTestManager(t, 10)
	credential, _ := loginCredential(t, provider)

	tampered := credential[:len(credential)-2] + "xx"
	if _, _, err := m.Refresh(context.Background(), tampered, "d1", false); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("refresh of tampered credential: got %v, want ErrUnauthorized", err)
	}
	if _, _, err := m.Refresh(context.Background(), credential, "d2", false); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("refresh from foreign device: got %v, want ErrUnauthorized", err)
	}
}

func TestRefreshLimit(t *testing.T) {
	const ceiling = 3
	m, provider, _, _ := newTestManager(t, ceiling)
	credential, _ := loginCredential(t, provider)
	ctx := context.Background()

	for i := 0; i < ceiling; i++ {
		next, _, err := m.Refresh(ctx, credential, "d1", false)
		if err != nil {
			t.Fatalf("refresh %d: %v", i+1, err)
		}
		credential = next
	}
	if _, _, err := m.Refresh(ctx, credential, "d1", false); !errors.Is(err, ErrRefreshLimitExceeded) {
		t.Errorf("refresh %d: got %v, want ErrRefreshLimitExceeded", ceiling+1, err)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	m, provider, _, _ := newTestManager(t, 10)
	credential, _ := loginCredential(t, provider)

	const racers = 2
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Refresh(context.Background(), credential, "d1", false)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else if errors.Is(err, security.ErrUnauthorized) {
			failures++
		} else {
			t.Errorf("unexpected refresh error: %v", err)
		}
	}
	if successes != 1 || failures != 1 {
		t.Errorf("got %d successes and %d supersede failures, want 1 and 1", successes, failures)
	}
}

func TestRefreshExtendedWindow(t *testing.T) {
	m, provider, _, _ := newTestManager(t, 10)
	credential, _ := loginCredential(t, provider)

	_, rotated, err := m.Refresh(context.Background(), credential, "d1", true)
	if err != nil {
		t.Fatalf("Refresh extended: %v", err)
	}
	lifetime := rotated.ExpiresAt.Sub(rotated.IssuedAt)
	if lifetime < time.Hour {
		t.Errorf("extended lifetime: got %v, want >= 1h", lifetime)
	}
}

func TestRevokeThenVerifyFails(t *testing.T) {
	m, provider, registry, _ := newTestManager(t, 10)
	credential, payload := loginCredential(t, provider)
	ctx := context.Background()

	if err := m.Revoke(ctx, credential, "d1", "logout"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := provider.Verify(ctx, credential, "d1"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("verify after revoke: got %v, want ErrUnauthorized", err)
	}
	rec := registry.revoked[payload.SessionID]
	if rec == nil || rec.Reason != "logout" || rec.Subject != "u1" {
		t.Errorf("revocation record: got %+v", rec)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	m, provider, _, _ := newTestManager(t, 10)
	credential, _ := loginCredential(t, provider)
	ctx := context.Background()

	if err := m.Revoke(ctx, credential, "d1", "logout"); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := m.Revoke(ctx, credential, "d1", "logout"); err != nil {
		t.Errorf("second Revoke: got %v, want nil", err)
	}
}

func TestRevokeInvalidCredential(t *testing.T) {
	m, _, _, _ := newTestManager(t, 10)
	if err := m.Revoke(context.Background(), "not-a-credential", "d1", "logout"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRevokeAllForcedSignOut(t *testing.T) {
	m, provider, registry, repo := newTestManager(t, 10)
	credential, payload := loginCredential(t, provider)
	ctx := context.Background()
	now := time.Now().UTC()

	// Two live sessions for u1, one for another subject.
	for _, s := range []*domain.Session{
		{ID: "s1", Subject: "u1", DeviceID: "d1", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "s2", Subject: "u1", DeviceID: "d9", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "s3", Subject: "u2", DeviceID: "d2", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
	} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	revoked, err := m.RevokeAll(ctx, credential, "d1", "compromised device")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if revoked != 2 {
		t.Errorf("revoked = %d, want 2", revoked)
	}

	if _, err := provider.Verify(ctx, credential, "d1"); !errors.Is(err, security.ErrRevoked) {
		t.Errorf("presented credential after RevokeAll: got %v, want ErrRevoked", err)
	}
	for _, id := range []string{payload.SessionID, "s2"} {
		rec, err := registry.GetRecord(ctx, id)
		if err != nil || rec == nil {
			t.Fatalf("registry record for %s missing: %v", id, err)
		}
		if rec.Reason != "compromised device" {
			t.Errorf("reason for %s: got %q", id, rec.Reason)
		}
	}
	if rec, _ := registry.GetRecord(ctx, "s3"); rec != nil {
		t.Error("another subject's session must not be revoked")
	}
	if s, _ := repo.GetByID(ctx, "s3"); s.RevokedAt != nil {
		t.Error("another subject's session record must stay live")
	}
}

func TestRevokeAllInvalidCredential(t *testing.T) {
	m, _, _, _ := newTestManager(t, 10)
	if _, err := m.RevokeAll(context.Background(), "not-a-credential", "d1", "x"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRevocationRecordLookup(t *testing.T) {
	m, provider, _, _ := newTestManager(t, 10)
	credential, payload := loginCredential(t, provider)
	ctx := context.Background()

	if rec, err := m.RevocationRecord(ctx, payload.SessionID); err != nil || rec != nil {
		t.Fatalf("before revoke: rec = %v, err = %v, want nil, nil", rec, err)
	}
	if err := m.Revoke(ctx, credential, "d1", "patient request"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	rec, err := m.RevocationRecord(ctx, payload.SessionID)
	if err != nil || rec == nil {
		t.Fatalf("after revoke: rec = %v, err = %v", rec, err)
	}
	if rec.Reason != "patient request" || rec.Subject != "u1" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRefreshRegistryUnavailable(t *testing.T) {
	m, provider, registry, _ := newTestManager(t, 10)
	credential, _ := loginCredential(t, provider)

	registry.failNext = errors.New("connection refused")
	_, _, err := m.Refresh(context.Background(), credential, "d1", false)
	if !errors.Is(err, security.ErrDependencyUnavailable) {
		t.Errorf("got %v, want ErrDependencyUnavailable", err)
	}
}

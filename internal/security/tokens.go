package security

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Payload is the identity and authorization snapshot carried inside a signed
// credential. Subject, Contact, and at least one role are required at
// issuance; Fingerprint, AuditID, and the timestamps are stamped by Issue.
type Payload struct {
	Subject     string
	Contact     string
	Roles       []string
	Permissions []string
	SessionID   string
	DeviceID    string
	IPAddress   string
	Fingerprint string
	AuditID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	LastAccess  time.Time
}

// SessionClaims is the wire form of Payload inside the JWT.
type SessionClaims struct {
	jwt.RegisteredClaims
	Contact     string           `json:"contact"`
	Roles       []string         `json:"roles"`
	Permissions []string         `json:"permissions,omitempty"`
	SessionID   string           `json:"session_id"`
	DeviceID    string           `json:"device_id"`
	IPAddress   string           `json:"ip_address,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	AuditID     string           `json:"audit_id"`
	LastAccess  *jwt.NumericDate `json:"last_access"`
}

// IssueOptions overrides per-call issuance parameters. Zero values fall back
// to the provider's configuration.
type IssueOptions struct {
	// ExpiresIn overrides the credential lifetime when > 0.
	ExpiresIn time.Duration
	// Issuer overrides the iss claim when non-empty.
	Issuer string
	// Audience overrides the aud claim when non-empty.
	Audience string
}

// RevocationChecker is the registry lookup the verifier needs. Exists must
// be safe to call from concurrent request handlers.
type RevocationChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// TokenProvider issues and verifies signed session credentials using an
// asymmetric key pair (RS256 or ES256). The private key is only needed on
// issuing nodes; verifiers hold the public key plus a revocation checker.
type TokenProvider struct {
	signingKey     crypto.Signer
	verifyKey      crypto.PublicKey
	issuer         string
	audience       string
	accessTTL      time.Duration
	sessionTimeout time.Duration
	enforceBinding bool
	revocations    RevocationChecker
	now            func() time.Time
}

// NewTokenProvider returns a TokenProvider. signingKey may be nil for
// verify-only nodes; revocations may be nil when revocation checks are
// handled elsewhere (e.g. tests). sessionTimeout bounds the time since a
// credential's last recorded access; zero disables the inactivity check.
func NewTokenProvider(signingKey crypto.Signer, verifyKey crypto.PublicKey, issuer, audience string, accessTTL, sessionTimeout time.Duration, revocations RevocationChecker) *TokenProvider {
	return &TokenProvider{
		signingKey:     signingKey,
		verifyKey:      verifyKey,
		issuer:         issuer,
		audience:       audience,
		accessTTL:      accessTTL,
		sessionTimeout: sessionTimeout,
		enforceBinding: true,
		revocations:    revocations,
		now:            time.Now,
	}
}

// WithSessionTimeout returns a copy of the provider with a different
// inactivity ceiling. Zero disables the inactivity check.
func (p *TokenProvider) WithSessionTimeout(d time.Duration) *TokenProvider {
	cp := *p
	cp.sessionTimeout = d
	return &cp
}

// WithBindingEnforcement returns a copy of the provider with the binding
// recomputation check toggled. Disabling it trusts the token's embedded
// fingerprint without tying verification to the request's device context.
func (p *TokenProvider) WithBindingEnforcement(enabled bool) *TokenProvider {
	cp := *p
	cp.enforceBinding = enabled
	return &cp
}

// SetRevocationChecker replaces the registry lookup used by Verify. Wiring
// calls it when the registry is constructed after the provider.
func (p *TokenProvider) SetRevocationChecker(rc RevocationChecker) {
	p.revocations = rc
}

// Issue signs a credential for the given payload. The binding fingerprint is
// derived from the payload's session, device, and network address; a fresh
// 128-bit audit id correlates the credential to its audit trail. The
// enriched payload (fingerprint, audit id, timestamps) is returned alongside
// the compact credential string.
func (p *TokenProvider) Issue(payload Payload, opts IssueOptions) (string, *Payload, error) {
	if payload.Subject == "" || payload.Contact == "" || len(payload.Roles) == 0 {
		return "", nil, fmt.Errorf("%w: subject, contact, and at least one role are required", ErrInvalidPayload)
	}
	if opts.ExpiresIn < 0 {
		return "", nil, fmt.Errorf("%w: expiry override must be positive", ErrInvalidPayload)
	}
	if p.signingKey == nil {
		return "", nil, fmt.Errorf("%w: no signing key configured", ErrSigningFailure)
	}

	auditID, err := generateAuditID()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}

	now := p.now().UTC()
	ttl := p.accessTTL
	if opts.ExpiresIn != 0 {
		ttl = opts.ExpiresIn
	}
	issuer := p.issuer
	if opts.Issuer != "" {
		issuer = opts.Issuer
	}
	audience := p.audience
	if opts.Audience != "" {
		audience = opts.Audience
	}

	payload.Fingerprint = Fingerprint(payload.SessionID, payload.DeviceID, payload.IPAddress)
	payload.AuditID = auditID
	payload.IssuedAt = now
	payload.ExpiresAt = now.Add(ttl)
	payload.LastAccess = now

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        auditID,
			Subject:   payload.Subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(payload.ExpiresAt),
		},
		Contact:     payload.Contact,
		Roles:       payload.Roles,
		Permissions: payload.Permissions,
		SessionID:   payload.SessionID,
		DeviceID:    payload.DeviceID,
		IPAddress:   payload.IPAddress,
		Fingerprint: payload.Fingerprint,
		AuditID:     auditID,
		LastAccess:  jwt.NewNumericDate(now),
	}

	method, err := p.signingMethod()
	if err != nil {
		return "", nil, err
	}
	credential, err := jwt.NewWithClaims(method, claims).SignedString(p.signingKey)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	return credential, &payload, nil
}

func (p *TokenProvider) signingMethod() (jwt.SigningMethod, error) {
	switch p.signingKey.Public().(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type", ErrSigningFailure)
	}
}

// Verify validates the credential end to end: signature, issuer, audience,
// expiry, device binding, revocation, and inactivity. deviceID is the device
// identifier the current request claims; the binding is recomputed from it
// together with the token's own session id and network address, so a stolen
// credential replayed from another device fails before it expires.
//
// The returned payload carries LastAccess refreshed to the current time.
// That refresh is ephemeral; persisting it is the session manager's job.
func (p *TokenProvider) Verify(ctx context.Context, credential, deviceID string) (*Payload, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(credential, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.verifyKey, nil
		default:
			return nil, ErrUnauthorized
		}
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.Issuer != p.issuer || !audienceMatches(claims.Audience, p.audience) {
		return nil, ErrUnauthorized
	}

	if p.enforceBinding {
		expected := Fingerprint(claims.SessionID, deviceID, claims.IPAddress)
		if !FingerprintEqual(expected, claims.Fingerprint) {
			return nil, fmt.Errorf("%w: binding mismatch", ErrUnauthorized)
		}
	}

	if p.revocations != nil {
		revoked, err := p.revocations.Exists(ctx, claims.SessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}

	now := p.now().UTC()
	lastAccess := now
	if claims.LastAccess != nil {
		lastAccess = claims.LastAccess.Time
	}
	if p.sessionTimeout > 0 && now.Sub(lastAccess) > p.sessionTimeout {
		return nil, fmt.Errorf("%w: session inactive", ErrTokenExpired)
	}

	payload := &Payload{
		Subject:     claims.Subject,
		Contact:     claims.Contact,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		DeviceID:    claims.DeviceID,
		IPAddress:   claims.IPAddress,
		Fingerprint: claims.Fingerprint,
		AuditID:     claims.AuditID,
		LastAccess:  now,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, nil
}

func audienceMatches(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func generateAuditID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

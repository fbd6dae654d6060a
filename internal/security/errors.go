package security

import (
	"errors"
	"fmt"
)

// Sentinel errors for the token lifecycle. The access gate and the session
// manager branch on these with errors.Is and map them to transport codes.
var (
	// ErrInvalidPayload is returned at issuance when required identity
	// fields are missing. Caller bug; never retried.
	ErrInvalidPayload = errors.New("invalid token payload")
	// ErrSigningFailure is returned when the private key is unavailable or
	// the signing operation fails.
	ErrSigningFailure = errors.New("token signing failed")
	// ErrUnauthorized covers malformed credentials, signature failures,
	// binding mismatches, and revoked sessions.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired covers both hard expiry and inactivity timeout. Kept
	// distinct from ErrUnauthorized so clients know to refresh rather than
	// re-authenticate.
	ErrTokenExpired = errors.New("token expired")
	// ErrRevoked marks the revoked case of ErrUnauthorized. The session
	// manager needs to tell it apart so that revoking an already-revoked
	// session stays idempotent.
	ErrRevoked = fmt.Errorf("%w: session revoked", ErrUnauthorized)
	// ErrDependencyUnavailable is returned when the revocation registry
	// cannot be reached. Never conflated with ErrUnauthorized: a store
	// outage must not read as a forged credential.
	ErrDependencyUnavailable = errors.New("revocation registry unavailable")
)

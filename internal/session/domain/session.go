package domain

import "time"

// Session is the server-side continuity record for one login, tied to a
// device. The id is rotated on every refresh; RefreshCount tracks the length
// of the rotation chain from the original login.
type Session struct {
	ID           string
	Subject      string
	DeviceID     string
	IPAddress    string
	RefreshCount int
	ExpiresAt    time.Time
	RevokedAt    *time.Time // nil when not revoked
	LastSeenAt   *time.Time
	CreatedAt    time.Time
}

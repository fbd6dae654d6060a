package domain

import "time"

// Outcome classifies an authentication event.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Actions recorded by the core.
const (
	ActionVerify    = "token.verify"
	ActionRefresh   = "session.refresh"
	ActionRevoke    = "session.revoke"
	ActionRevokeAll = "session.revoke_all"
)

// Entry is an immutable record of one authentication event. Entries are
// created by the access gate and the session manager, written once, and
// never updated.
type Entry struct {
	ID          string
	Actor       string
	Action      string
	Outcome     string
	Reason      string
	SessionID   string
	CredAuditID string
	DeviceID    string
	IPAddress   string
	CreatedAt   time.Time
}

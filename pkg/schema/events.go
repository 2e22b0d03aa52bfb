package schema

import (
	"time"

	"github.com/google/uuid"
)

// Audit outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeInfo     = "info"
)

// AuditEvent is a standardized log entry for one operation outcome
// against an account record. Rejected requests are recorded too; the
// retrigger-resets-the-clock behavior of the escape machine is only
// observable through this trail.
type AuditEvent struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Account string    `json:"account"`
	Op      string    `json:"op"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// NewAuditEvent stamps a fresh event with a UUID and the current time.
func NewAuditEvent(account, op, outcome, detail string) AuditEvent {
	return AuditEvent{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Account: account,
		Op:      op,
		Outcome: outcome,
		Detail:  detail,
	}
}

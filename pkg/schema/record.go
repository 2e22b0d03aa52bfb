package schema

import "fmt"

// EscapeType tags the active recovery direction of an account record.
// At most one direction is active at a time.
type EscapeType uint8

const (
	// EscapeNone means no recovery is in flight.
	EscapeNone EscapeType = iota
	// EscapeGuardian means the owner is replacing the guardian.
	EscapeGuardian
	// EscapeOwner means the guardian is replacing the owner.
	EscapeOwner
)

func (t EscapeType) String() string {
	switch t {
	case EscapeNone:
		return "none"
	case EscapeGuardian:
		return "guardian"
	case EscapeOwner:
		return "owner"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the three defined escape tags.
func (t EscapeType) Valid() bool {
	return t <= EscapeOwner
}

// DefaultSecurityPeriod is the waiting period, in seconds, between
// triggering and completing an escape when none is given at creation.
// Seven days.
const DefaultSecurityPeriod int64 = 604800

// MaxPendingTxSize caps the staged payload of a pending transaction.
const MaxPendingTxSize = 1 << 20 // 1 MiB

// PendingTx is a staged payload recorded once both credentials have
// jointly approved an execute request. Custodia records it but never
// dispatches it; execution belongs to an external layer.
type PendingTx struct {
	Data             []byte `json:"data"`
	OwnerApproved    bool   `json:"owner_approved"`
	GuardianApproved bool   `json:"guardian_approved"`
}

// AccountRecord is the durable state of one custody account: two
// controlling credentials, an optional backup guardian, the escape state
// machine fields, and the staged pending transaction.
type AccountRecord struct {
	Owner             Identity   `json:"owner"`
	Guardian          Identity   `json:"guardian"`
	GuardianBackup    *Identity  `json:"guardian_backup,omitempty"`
	EscapeType        EscapeType `json:"escape_type"`
	EscapeInitiatedAt int64      `json:"escape_initiated_at"`
	SecurityPeriod    int64      `json:"security_period"`
	PendingTx         *PendingTx `json:"pending_tx,omitempty"`
}

// Clone returns a deep copy of the record. Mutating the copy never
// affects the original.
func (r *AccountRecord) Clone() *AccountRecord {
	out := *r
	if r.GuardianBackup != nil {
		backup := *r.GuardianBackup
		out.GuardianBackup = &backup
	}
	if r.PendingTx != nil {
		tx := *r.PendingTx
		tx.Data = append([]byte(nil), r.PendingTx.Data...)
		out.PendingTx = &tx
	}
	return &out
}

// CheckInvariant verifies the escape-field coupling: the escape tag is
// none exactly when the initiation timestamp is zero. A record violating
// this is corrupt.
func (r *AccountRecord) CheckInvariant() error {
	if !r.EscapeType.Valid() {
		return fmt.Errorf("%w: tag %d", ErrBadEscapeTag, uint8(r.EscapeType))
	}
	if (r.EscapeType == EscapeNone) != (r.EscapeInitiatedAt == 0) {
		return fmt.Errorf("%w: escape_type=%s escape_initiated_at=%d",
			ErrInvariantViolated, r.EscapeType, r.EscapeInitiatedAt)
	}
	return nil
}

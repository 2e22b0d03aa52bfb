package custody

import "errors"

// Terminal request errors. A rejected request performs no writes; callers
// resubmit with corrected signers or timing.
var (
	// ErrNotEnoughApprovals is returned when a required co-signer is missing.
	ErrNotEnoughApprovals = errors.New("not enough approvals")
	// ErrInvalidSignature is returned when the new-owner proof-of-possession
	// check fails.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrEscapeGuardianInProgress blocks a guardian from starting an owner
	// escape while the owner is already replacing the guardian.
	ErrEscapeGuardianInProgress = errors.New("guardian escape in progress")
	// ErrInvalidEscapeType is returned when a completion targets the wrong
	// or absent escape direction.
	ErrInvalidEscapeType = errors.New("invalid escape type")
	// ErrSecurityPeriodNotElapsed is returned when the time lock has not yet
	// been satisfied.
	ErrSecurityPeriodNotElapsed = errors.New("security period not elapsed")
	// ErrNoEscapeInProgress is returned when cancel finds nothing active.
	ErrNoEscapeInProgress = errors.New("no escape in progress")
)

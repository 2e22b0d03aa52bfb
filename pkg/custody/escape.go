package custody

import "github.com/custodia-dev/custodia/pkg/schema"

// Transition guards for the escape state machine, one per trigger and
// variant pair. Variant checks are deliberately separate from the time
// arithmetic so the override asymmetry stays auditable on its own:
// the owner's guardian-escape trigger always proceeds and silently
// overrides an in-flight owner escape, while the guardian's owner-escape
// trigger is blocked outright once a guardian escape is in flight. The
// owner is the higher-trust credential.

// guardTriggerGuardian decides whether the owner may arm a guardian
// escape from the current state. Always permitted; overrides reports
// whether an in-flight owner escape is being abandoned.
func guardTriggerGuardian(current schema.EscapeType) (overrides bool, err error) {
	return current == schema.EscapeOwner, nil
}

// guardTriggerOwner decides whether the guardian may arm an owner escape
// from the current state.
func guardTriggerOwner(current schema.EscapeType) error {
	if current == schema.EscapeGuardian {
		return ErrEscapeGuardianInProgress
	}
	return nil
}

// guardComplete decides whether a completion for direction want is
// addressed at the active escape.
func guardComplete(current, want schema.EscapeType) error {
	if current != want {
		return ErrInvalidEscapeType
	}
	return nil
}

// guardCancel decides whether there is an escape to cancel.
func guardCancel(current schema.EscapeType) error {
	if current == schema.EscapeNone {
		return ErrNoEscapeInProgress
	}
	return nil
}

// checkPeriodElapsed enforces the time lock. The boundary is inclusive:
// completion succeeds at exactly initiatedAt + period.
func checkPeriodElapsed(now, initiatedAt, period int64) error {
	if now-initiatedAt < period {
		return ErrSecurityPeriodNotElapsed
	}
	return nil
}

// armEscape arms (or re-arms) an escape direction. Retriggering the same
// direction restarts the timer.
func armEscape(rec *schema.AccountRecord, direction schema.EscapeType, now int64) {
	rec.EscapeType = direction
	rec.EscapeInitiatedAt = now
}

// resetEscape clears the escape fields together, preserving the
// tag/timestamp invariant.
func resetEscape(rec *schema.AccountRecord) {
	rec.EscapeType = schema.EscapeNone
	rec.EscapeInitiatedAt = 0
}

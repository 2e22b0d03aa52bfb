// Package custody implements the authorization core of a custody account:
// the dual-signature contract over record mutations, the time-locked
// escape state machine, and the gate in front of program upgrades.
//
// The controller is pure state-machine logic. Signature verification,
// storage, and the clock are injected collaborators; every operation is
// a single atomic step against one AccountRecord, and a rejected request
// leaves the record untouched because nothing is written before the last
// guard has passed.
package custody

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/custodia-dev/custodia/pkg/schema"
)

// Controller applies authorization-gated operations to account records.
type Controller struct {
	clock    Clock
	upgrader Upgrader
	log      zerolog.Logger
}

// NewController wires a controller with its collaborators. A nil clock
// falls back to the system clock; a nil upgrader to a logging stub.
func NewController(clock Clock, upgrader Upgrader, log zerolog.Logger) *Controller {
	if clock == nil {
		clock = SystemClock{}
	}
	if upgrader == nil {
		upgrader = LogUpgrader{Log: log}
	}
	return &Controller{clock: clock, upgrader: upgrader, log: log}
}

// ChangeOwner replaces the owner credential. Requires both signers plus a
// non-zero signature by the incoming owner.
//
// The non-zero check is a placeholder proof-of-possession, not
// cryptographic proof: real verification of newOwnerSig over a binding
// message is delegated to the external signature layer, and a deployment
// that skips it gets only the weaker "not obviously forgotten" guarantee.
func (c *Controller) ChangeOwner(rec *schema.AccountRecord, signers SignerSet, newOwner schema.Identity, newOwnerSig [schema.SignatureSize]byte) error {
	if err := requireBoth(signers); err != nil {
		return err
	}
	if newOwnerSig == [schema.SignatureSize]byte{} {
		return ErrInvalidSignature
	}
	rec.Owner = newOwner
	c.confirm("change_owner").Str("new_owner", newOwner.String()).Send()
	return nil
}

// ChangeGuardian replaces the guardian credential. Requires both signers.
// Backup and escape state are left as they are.
func (c *Controller) ChangeGuardian(rec *schema.AccountRecord, signers SignerSet, newGuardian schema.Identity) error {
	if err := requireBoth(signers); err != nil {
		return err
	}
	rec.Guardian = newGuardian
	c.confirm("change_guardian").Str("new_guardian", newGuardian.String()).Send()
	return nil
}

// ChangeGuardianBackup sets or clears the backup guardian. Requires both
// signers. The backup is bookkeeping only; it carries no approval
// semantics of its own.
func (c *Controller) ChangeGuardianBackup(rec *schema.AccountRecord, signers SignerSet, newBackup *schema.Identity) error {
	if err := requireBoth(signers); err != nil {
		return err
	}
	if newBackup == nil {
		rec.GuardianBackup = nil
	} else {
		backup := *newBackup
		rec.GuardianBackup = &backup
	}
	c.confirm("change_guardian_backup").Send()
	return nil
}

// Execute stages a jointly approved payload on the record. This is a
// staging write, not an invocation: dispatch of staged payloads lives
// outside the core, and each call overwrites the previous staging.
func (c *Controller) Execute(rec *schema.AccountRecord, signers SignerSet, data []byte) error {
	if err := requireBoth(signers); err != nil {
		return err
	}
	if len(data) > schema.MaxPendingTxSize {
		return fmt.Errorf("%w: %d bytes", schema.ErrPayloadTooLarge, len(data))
	}
	rec.PendingTx = &schema.PendingTx{
		Data:             append([]byte(nil), data...),
		OwnerApproved:    true,
		GuardianApproved: true,
	}
	c.confirm("execute").Int("payload_bytes", len(data)).Send()
	return nil
}

// TriggerEscapeGuardian arms (or re-arms) the guardian escape. Owner
// signature required; always permitted. When an owner escape was in
// flight it is silently abandoned — overrode reports that so callers can
// surface an informational signal.
func (c *Controller) TriggerEscapeGuardian(rec *schema.AccountRecord, signers SignerSet) (overrode bool, err error) {
	if err := requireOwner(signers); err != nil {
		return false, err
	}
	overrode, err = guardTriggerGuardian(rec.EscapeType)
	if err != nil {
		return false, err
	}
	armEscape(rec, schema.EscapeGuardian, c.clock.Now())
	ev := c.confirm("trigger_escape_guardian").Int64("initiated_at", rec.EscapeInitiatedAt)
	if overrode {
		ev = ev.Bool("overrode_owner_escape", true)
	}
	ev.Send()
	return overrode, nil
}

// TriggerEscapeOwner arms (or re-arms) the owner escape. Guardian
// signature required; blocked while a guardian escape is in flight.
func (c *Controller) TriggerEscapeOwner(rec *schema.AccountRecord, signers SignerSet) error {
	if err := requireGuardian(signers); err != nil {
		return err
	}
	if err := guardTriggerOwner(rec.EscapeType); err != nil {
		return err
	}
	armEscape(rec, schema.EscapeOwner, c.clock.Now())
	c.confirm("trigger_escape_owner").Int64("initiated_at", rec.EscapeInitiatedAt).Send()
	return nil
}

// EscapeGuardian completes a guardian escape once the security period has
// elapsed, installing newGuardian and clearing the escape state.
func (c *Controller) EscapeGuardian(rec *schema.AccountRecord, signers SignerSet, newGuardian schema.Identity) error {
	if err := requireOwner(signers); err != nil {
		return err
	}
	if err := guardComplete(rec.EscapeType, schema.EscapeGuardian); err != nil {
		return err
	}
	if err := checkPeriodElapsed(c.clock.Now(), rec.EscapeInitiatedAt, rec.SecurityPeriod); err != nil {
		return err
	}
	rec.Guardian = newGuardian
	resetEscape(rec)
	c.confirm("escape_guardian").Str("new_guardian", newGuardian.String()).Send()
	return nil
}

// EscapeOwner completes an owner escape once the security period has
// elapsed, installing newOwner and clearing the escape state.
func (c *Controller) EscapeOwner(rec *schema.AccountRecord, signers SignerSet, newOwner schema.Identity) error {
	if err := requireGuardian(signers); err != nil {
		return err
	}
	if err := guardComplete(rec.EscapeType, schema.EscapeOwner); err != nil {
		return err
	}
	if err := checkPeriodElapsed(c.clock.Now(), rec.EscapeInitiatedAt, rec.SecurityPeriod); err != nil {
		return err
	}
	rec.Owner = newOwner
	resetEscape(rec)
	c.confirm("escape_owner").Str("new_owner", newOwner.String()).Send()
	return nil
}

// CancelEscape aborts the active escape. Requires both signers: aborting
// early takes joint consent, unlike either unilateral trigger.
func (c *Controller) CancelEscape(rec *schema.AccountRecord, signers SignerSet) error {
	if err := requireBoth(signers); err != nil {
		return err
	}
	if err := guardCancel(rec.EscapeType); err != nil {
		return err
	}
	resetEscape(rec)
	c.confirm("cancel_escape").Send()
	return nil
}

// Upgrade passes the dual-signature gate and delegates to the external
// program-replacement facility, forwarding the account references and
// the upgrade opcode.
func (c *Controller) Upgrade(rec *schema.AccountRecord, signers SignerSet) error {
	if err := requireBoth(signers); err != nil {
		return err
	}
	return c.upgrader.Upgrade(UpgradeRequest{
		Owner:    rec.Owner,
		Guardian: rec.Guardian,
		Opcode:   OpcodeUpgrade,
	})
}

func (c *Controller) confirm(op string) *zerolog.Event {
	return c.log.Info().Str("op", op)
}

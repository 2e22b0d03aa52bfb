// Package engine owns the account records: an in-memory table with
// write-behind persistence, fronted by the custody controller. Every
// operation runs as a single atomic step against one record; the engine
// serializes writes per table, and a rejected request never replaces the
// stored record.
package engine

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/custodia-dev/custodia/pkg/custody"
	"github.com/custodia-dev/custodia/pkg/schema"
)

var (
	// ErrRecordExists is returned when a record for the owner+guardian pair
	// already exists. Creation is idempotent-reject, never merge.
	ErrRecordExists = errors.New("account record already exists")
	// ErrRecordNotFound is returned when no record exists for a key.
	ErrRecordNotFound = errors.New("account record not found")
	// ErrInvalidSecurityPeriod is returned for a negative security period.
	ErrInvalidSecurityPeriod = errors.New("invalid security period")
)

// maxAuditEvents bounds the in-memory audit trail; oldest entries are
// dropped first.
const maxAuditEvents = 4096

// Options configures the collaborators injected into the engine.
type Options struct {
	Clock    custody.Clock
	Upgrader custody.Upgrader
	Logger   zerolog.Logger
}

// Engine is the authoritative holder of account records.
type Engine struct {
	mu        sync.RWMutex
	records   map[schema.RecordKey]*schema.AccountRecord
	ctrl      *custody.Controller
	persister *Persistence
	wg        sync.WaitGroup
	log       zerolog.Logger

	auditMu sync.Mutex
	events  []schema.AuditEvent
}

// NewEngine initializes an engine over existing records (from LoadAll)
// and a persister. Both may be nil for a fresh in-memory engine.
func NewEngine(initial map[schema.RecordKey]*schema.AccountRecord, p *Persistence, opts Options) *Engine {
	if initial == nil {
		initial = make(map[schema.RecordKey]*schema.AccountRecord)
	}
	return &Engine{
		records:   initial,
		ctrl:      custody.NewController(opts.Clock, opts.Upgrader, opts.Logger),
		persister: p,
		log:       opts.Logger,
	}
}

// Wait blocks until all background persistence tasks have completed.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Create allocates the record for an owner+guardian pair. A zero
// securityPeriod takes the default; a record for the same pair may only
// be created once.
func (e *Engine) Create(owner, guardian schema.Identity, securityPeriod int64) (schema.RecordKey, error) {
	key := schema.DeriveRecordKey(owner, guardian)
	if securityPeriod < 0 {
		return key, ErrInvalidSecurityPeriod
	}
	if securityPeriod == 0 {
		securityPeriod = schema.DefaultSecurityPeriod
	}

	e.mu.Lock()
	if _, ok := e.records[key]; ok {
		e.mu.Unlock()
		e.recordEvent(key, "create", schema.OutcomeRejected, ErrRecordExists.Error())
		return key, ErrRecordExists
	}
	rec := &schema.AccountRecord{
		Owner:          owner,
		Guardian:       guardian,
		SecurityPeriod: securityPeriod,
	}
	e.records[key] = rec
	snapshot := rec.Clone()
	e.mu.Unlock()

	e.persistAsync(key, snapshot)
	e.recordEvent(key, "create", schema.OutcomeOK, "")
	return key, nil
}

// Account returns a copy of the record for key.
func (e *Engine) Account(key schema.RecordKey) (*schema.AccountRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Accounts lists the keys of all records.
func (e *Engine) Accounts() ([]schema.RecordKey, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]schema.RecordKey, 0, len(e.records))
	for key := range e.records {
		keys = append(keys, key)
	}
	return keys, nil
}

// ChangeOwner replaces the owner credential; both signers plus the new
// owner's signature are required.
func (e *Engine) ChangeOwner(key schema.RecordKey, newOwner schema.Identity, newOwnerSig []byte, signers []schema.Identity) error {
	return e.update(key, "change_owner", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		if len(newOwnerSig) != schema.SignatureSize {
			return "", custody.ErrInvalidSignature
		}
		var sig [schema.SignatureSize]byte
		copy(sig[:], newOwnerSig)
		return "", e.ctrl.ChangeOwner(rec, ss, newOwner, sig)
	})
}

// ChangeGuardian replaces the guardian credential; both signers required.
func (e *Engine) ChangeGuardian(key schema.RecordKey, newGuardian schema.Identity, signers []schema.Identity) error {
	return e.update(key, "change_guardian", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.ChangeGuardian(rec, ss, newGuardian)
	})
}

// ChangeGuardianBackup sets or clears the backup guardian; both signers
// required.
func (e *Engine) ChangeGuardianBackup(key schema.RecordKey, newBackup *schema.Identity, signers []schema.Identity) error {
	return e.update(key, "change_guardian_backup", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.ChangeGuardianBackup(rec, ss, newBackup)
	})
}

// Execute stages a jointly approved payload on the record.
func (e *Engine) Execute(key schema.RecordKey, data []byte, signers []schema.Identity) error {
	return e.update(key, "execute", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.Execute(rec, ss, data)
	})
}

// TriggerEscapeGuardian arms the guardian escape on behalf of the owner.
func (e *Engine) TriggerEscapeGuardian(key schema.RecordKey, signers []schema.Identity) error {
	return e.update(key, "trigger_escape_guardian", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		overrode, err := e.ctrl.TriggerEscapeGuardian(rec, ss)
		if overrode {
			return "overrode in-flight owner escape", nil
		}
		return "", err
	})
}

// TriggerEscapeOwner arms the owner escape on behalf of the guardian.
func (e *Engine) TriggerEscapeOwner(key schema.RecordKey, signers []schema.Identity) error {
	return e.update(key, "trigger_escape_owner", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.TriggerEscapeOwner(rec, ss)
	})
}

// EscapeGuardian completes the guardian escape after the security period.
func (e *Engine) EscapeGuardian(key schema.RecordKey, newGuardian schema.Identity, signers []schema.Identity) error {
	return e.update(key, "escape_guardian", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.EscapeGuardian(rec, ss, newGuardian)
	})
}

// EscapeOwner completes the owner escape after the security period.
func (e *Engine) EscapeOwner(key schema.RecordKey, newOwner schema.Identity, signers []schema.Identity) error {
	return e.update(key, "escape_owner", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.EscapeOwner(rec, ss, newOwner)
	})
}

// CancelEscape aborts the active escape; both signers required.
func (e *Engine) CancelEscape(key schema.RecordKey, signers []schema.Identity) error {
	return e.update(key, "cancel_escape", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.CancelEscape(rec, ss)
	})
}

// Upgrade passes the dual gate and delegates to the program-replacement
// facility.
func (e *Engine) Upgrade(key schema.RecordKey, signers []schema.Identity) error {
	return e.update(key, "upgrade", signers, func(rec *schema.AccountRecord, ss custody.SignerSet) (string, error) {
		return "", e.ctrl.Upgrade(rec, ss)
	})
}

// update applies one operation atomically: the controller works on a copy
// of the record, and the copy replaces the stored record only when the
// operation succeeds. The returned detail, if any, is surfaced as an
// informational audit event.
func (e *Engine) update(key schema.RecordKey, op string, signers []schema.Identity, fn func(*schema.AccountRecord, custody.SignerSet) (string, error)) error {
	e.mu.Lock()
	rec, ok := e.records[key]
	if !ok {
		e.mu.Unlock()
		e.recordEvent(key, op, schema.OutcomeRejected, ErrRecordNotFound.Error())
		return ErrRecordNotFound
	}

	work := rec.Clone()
	detail, err := fn(work, custody.CoSigners(work, signers))
	if err != nil {
		e.mu.Unlock()
		e.recordEvent(key, op, schema.OutcomeRejected, err.Error())
		return err
	}
	e.records[key] = work
	snapshot := work.Clone()
	e.mu.Unlock()

	e.persistAsync(key, snapshot)
	e.recordEvent(key, op, schema.OutcomeOK, "")
	if detail != "" {
		e.recordEvent(key, op, schema.OutcomeInfo, detail)
	}
	return nil
}

func (e *Engine) persistAsync(key schema.RecordKey, rec *schema.AccountRecord) {
	if e.persister == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.persister.SaveRecord(key, rec); err != nil {
			e.log.Error().Err(err).Str("account", key.String()).Msg("failed to persist record")
		}
	}()
}

// AuditTrail returns a copy of the recorded audit events, oldest first.
func (e *Engine) AuditTrail() ([]schema.AuditEvent, error) {
	e.auditMu.Lock()
	defer e.auditMu.Unlock()
	return append([]schema.AuditEvent(nil), e.events...), nil
}

func (e *Engine) recordEvent(key schema.RecordKey, op, outcome, detail string) {
	ev := schema.NewAuditEvent(key.String(), op, outcome, detail)
	e.auditMu.Lock()
	e.events = append(e.events, ev)
	if len(e.events) > maxAuditEvents {
		e.events = e.events[len(e.events)-maxAuditEvents:]
	}
	e.auditMu.Unlock()
}

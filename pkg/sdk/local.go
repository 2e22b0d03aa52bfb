package sdk

import (
	"github.com/custodia-dev/custodia/internal/engine"
	"github.com/custodia-dev/custodia/pkg/schema"
)

// Local drives an in-process engine. Credentials are reduced to their
// identities: the caller holds the private keys, so there is nothing for
// an embedded deployment to verify.
type Local struct {
	eng *engine.Engine
}

// NewLocal wraps an engine in the Custodian interface.
func NewLocal(eng *engine.Engine) *Local {
	return &Local{eng: eng}
}

func identities(creds []Credential) []schema.Identity {
	ids := make([]schema.Identity, 0, len(creds))
	for _, c := range creds {
		ids = append(ids, c.Identity())
	}
	return ids
}

func (l *Local) Create(owner, guardian schema.Identity, securityPeriod int64) (schema.RecordKey, error) {
	return l.eng.Create(owner, guardian, securityPeriod)
}

func (l *Local) Account(key schema.RecordKey) (*schema.AccountRecord, error) {
	return l.eng.Account(key)
}

func (l *Local) Accounts() ([]schema.RecordKey, error) {
	return l.eng.Accounts()
}

func (l *Local) ChangeOwner(key schema.RecordKey, newOwner schema.Identity, newOwnerSig []byte, creds ...Credential) error {
	return l.eng.ChangeOwner(key, newOwner, newOwnerSig, identities(creds))
}

func (l *Local) ChangeGuardian(key schema.RecordKey, newGuardian schema.Identity, creds ...Credential) error {
	return l.eng.ChangeGuardian(key, newGuardian, identities(creds))
}

func (l *Local) ChangeGuardianBackup(key schema.RecordKey, newBackup *schema.Identity, creds ...Credential) error {
	return l.eng.ChangeGuardianBackup(key, newBackup, identities(creds))
}

func (l *Local) Execute(key schema.RecordKey, data []byte, creds ...Credential) error {
	return l.eng.Execute(key, data, identities(creds))
}

func (l *Local) Upgrade(key schema.RecordKey, creds ...Credential) error {
	return l.eng.Upgrade(key, identities(creds))
}

func (l *Local) TriggerEscapeGuardian(key schema.RecordKey, creds ...Credential) error {
	return l.eng.TriggerEscapeGuardian(key, identities(creds))
}

func (l *Local) TriggerEscapeOwner(key schema.RecordKey, creds ...Credential) error {
	return l.eng.TriggerEscapeOwner(key, identities(creds))
}

func (l *Local) EscapeGuardian(key schema.RecordKey, newGuardian schema.Identity, creds ...Credential) error {
	return l.eng.EscapeGuardian(key, newGuardian, identities(creds))
}

func (l *Local) EscapeOwner(key schema.RecordKey, newOwner schema.Identity, creds ...Credential) error {
	return l.eng.EscapeOwner(key, newOwner, identities(creds))
}

func (l *Local) CancelEscape(key schema.RecordKey, creds ...Credential) error {
	return l.eng.CancelEscape(key, identities(creds))
}

func (l *Local) AuditTrail() ([]schema.AuditEvent, error) {
	return l.eng.AuditTrail()
}

// Close drains pending persistence writes.
func (l *Local) Close() error {
	l.eng.Wait()
	return nil
}

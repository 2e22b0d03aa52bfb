// Package sdk provides the client-side library for interacting with a
// Custodia controller. It supports both remote connections via TCP/TLS
// and local embedded mode.
package sdk

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/custodia-dev/custodia/pkg/schema"
)

// Operation names. They double as the wire commands (uppercased) and as
// the operation segment of the request signing digest; client and daemon
// must agree on them exactly.
const (
	OpCreate                = "create"
	OpChangeOwner           = "change_owner"
	OpChangeGuardian        = "change_guardian"
	OpChangeGuardianBackup  = "change_guardian_backup"
	OpExecute               = "execute"
	OpTriggerEscapeGuardian = "trigger_escape_guardian"
	OpTriggerEscapeOwner    = "trigger_escape_owner"
	OpEscapeGuardian        = "escape_guardian"
	OpEscapeOwner           = "escape_owner"
	OpCancelEscape          = "cancel_escape"
	OpUpgrade               = "upgrade"
)

// Request is the wire form of one operation submission. Params is the
// exact byte encoding the proofs were computed over; the daemon verifies
// against these bytes, never a re-marshaled copy.
type Request struct {
	Account schema.RecordKey  `json:"account"`
	Params  json.RawMessage   `json:"params,omitempty"`
	Signers []schema.Identity `json:"signers,omitempty"`
	Proofs  []schema.Proof    `json:"proofs,omitempty"`
}

// CreateParams create a record for an owner+guardian pair. A zero
// SecurityPeriod takes the server default.
type CreateParams struct {
	Owner          schema.Identity `json:"owner"`
	Guardian       schema.Identity `json:"guardian"`
	SecurityPeriod int64           `json:"security_period,omitempty"`
}

// ChangeOwnerParams carry the incoming owner and its proof-of-possession
// signature.
type ChangeOwnerParams struct {
	NewOwner          schema.Identity `json:"new_owner"`
	NewOwnerSignature []byte          `json:"new_owner_signature"`
}

type ChangeGuardianParams struct {
	NewGuardian schema.Identity `json:"new_guardian"`
}

// ChangeGuardianBackupParams set or, with a nil NewBackup, clear the
// backup guardian.
type ChangeGuardianBackupParams struct {
	NewBackup *schema.Identity `json:"new_backup,omitempty"`
}

type ExecuteParams struct {
	Data []byte `json:"data"`
}

type EscapeGuardianParams struct {
	NewGuardian schema.Identity `json:"new_guardian"`
}

type EscapeOwnerParams struct {
	NewOwner schema.Identity `json:"new_owner"`
}

// Credential wraps an Ed25519 private key used to co-sign requests.
type Credential struct {
	key ed25519.PrivateKey
}

// NewCredential validates and wraps a private key.
func NewCredential(priv ed25519.PrivateKey) (Credential, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Credential{}, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return Credential{key: priv}, nil
}

// Identity returns the public identity of the credential.
func (c Credential) Identity() schema.Identity {
	var id schema.Identity
	copy(id[:], c.key.Public().(ed25519.PublicKey))
	return id
}

// Custodian is the primary interface for driving a custody account.
// Both the embedded engine and the remote network client implement it.
type Custodian interface {
	// Create allocates the record addressed by the owner+guardian pair.
	// Fails if one already exists for that exact pair.
	Create(owner, guardian schema.Identity, securityPeriod int64) (schema.RecordKey, error)
	// Account returns the current state of one record.
	Account(key schema.RecordKey) (*schema.AccountRecord, error)
	// Accounts lists all record keys.
	Accounts() ([]schema.RecordKey, error)

	// Dual-signature-gated mutations.
	ChangeOwner(key schema.RecordKey, newOwner schema.Identity, newOwnerSig []byte, creds ...Credential) error
	ChangeGuardian(key schema.RecordKey, newGuardian schema.Identity, creds ...Credential) error
	ChangeGuardianBackup(key schema.RecordKey, newBackup *schema.Identity, creds ...Credential) error
	Execute(key schema.RecordKey, data []byte, creds ...Credential) error
	Upgrade(key schema.RecordKey, creds ...Credential) error

	// Escape state machine.
	TriggerEscapeGuardian(key schema.RecordKey, creds ...Credential) error
	TriggerEscapeOwner(key schema.RecordKey, creds ...Credential) error
	EscapeGuardian(key schema.RecordKey, newGuardian schema.Identity, creds ...Credential) error
	EscapeOwner(key schema.RecordKey, newOwner schema.Identity, creds ...Credential) error
	CancelEscape(key schema.RecordKey, creds ...Credential) error

	// AuditTrail returns the recorded operation outcomes, oldest first.
	AuditTrail() ([]schema.AuditEvent, error)

	Close() error
}

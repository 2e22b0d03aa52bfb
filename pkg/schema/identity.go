// Package schema defines universal data structures used across the Custodia platform.
package schema

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// IdentitySize is the byte length of a public-key identity.
const IdentitySize = 32

// SignatureSize is the byte length of a signature proof.
const SignatureSize = 64

// Identity is a 32-byte public-key value identifying a credential holder.
// The zero value is reserved and never denotes a real credential.
type Identity [IdentitySize]byte

// ParseIdentity decodes a 64-character hex string into an Identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	if len(raw) != IdentitySize {
		return id, fmt.Errorf("invalid identity %q: want %d bytes, got %d", s, IdentitySize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identity is the reserved all-zero value.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// RecordKey deterministically addresses one account record. It is derived
// from the owner and guardian identities fixed at creation time and does
// not change when either credential is later replaced.
type RecordKey [32]byte

// recordKeyTag domain-separates record addressing from other blake3 uses.
const recordKeyTag = "custodia/account/v1"

// DeriveRecordKey computes the address of the record created for the given
// owner+guardian pair. The derivation is order-sensitive: (a, b) and (b, a)
// address different records.
func DeriveRecordKey(owner, guardian Identity) RecordKey {
	h := blake3.New()
	h.Write([]byte(recordKeyTag))
	h.Write(owner[:])
	h.Write(guardian[:])
	var key RecordKey
	copy(key[:], h.Sum(nil))
	return key
}

// ParseRecordKey decodes a 64-character hex string into a RecordKey.
func ParseRecordKey(s string) (RecordKey, error) {
	var key RecordKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("invalid record key %q: %w", s, err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("invalid record key %q: want %d bytes, got %d", s, len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func (k RecordKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k RecordKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *RecordKey) UnmarshalText(text []byte) error {
	parsed, err := ParseRecordKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Proof asserts that the holder of Signer co-signed a request. The
// signature is an Ed25519 signature over the request's signing digest,
// checked by the verification layer before the core ever sees the signer.
type Proof struct {
	Signer    Identity `json:"signer"`
	Signature []byte   `json:"signature"`
}

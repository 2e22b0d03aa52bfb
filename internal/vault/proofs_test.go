package vault

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/custodia-dev/custodia/pkg/schema"
)

func testKey(t *testing.T) (schema.Identity, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	var id schema.Identity
	copy(id[:], pub)
	return id, priv
}

func TestSigningDigestBindsRequest(t *testing.T) {
	var account, other schema.RecordKey
	other[0] = 1
	params := []byte(`{"new_guardian":"aa"}`)

	digest := SigningDigest(account, "change_guardian", params)
	if !bytes.Equal(digest, SigningDigest(account, "change_guardian", params)) {
		t.Error("Digest is not deterministic")
	}
	if bytes.Equal(digest, SigningDigest(other, "change_guardian", params)) {
		t.Error("Digest does not bind the account")
	}
	if bytes.Equal(digest, SigningDigest(account, "change_owner", params)) {
		t.Error("Digest does not bind the operation")
	}
	if bytes.Equal(digest, SigningDigest(account, "change_guardian", []byte(`{}`))) {
		t.Error("Digest does not bind the parameters")
	}
}

func TestVerifyProofs(t *testing.T) {
	ownerID, ownerKey := testKey(t)
	guardianID, guardianKey := testKey(t)

	var account schema.RecordKey
	digest := SigningDigest(account, "cancel_escape", []byte(`{}`))

	proofs := []schema.Proof{
		SignDigest(digest, ownerKey),
		SignDigest(digest, guardianKey),
	}
	verified := VerifyProofs(digest, proofs)
	if len(verified) != 2 || verified[0] != ownerID || verified[1] != guardianID {
		t.Fatalf("Expected both signers verified, got %v", verified)
	}

	// A signature over a different digest does not count.
	wrong := SignDigest(SigningDigest(account, "upgrade", []byte(`{}`)), guardianKey)
	verified = VerifyProofs(digest, []schema.Proof{SignDigest(digest, ownerKey), wrong})
	if len(verified) != 1 || verified[0] != ownerID {
		t.Errorf("Expected only the owner verified, got %v", verified)
	}

	// Claiming someone else's identity fails verification.
	forged := SignDigest(digest, ownerKey)
	forged.Signer = guardianID
	if got := VerifyProofs(digest, []schema.Proof{forged}); len(got) != 0 {
		t.Errorf("Forged signer verified: %v", got)
	}

	if got := VerifyProofs(digest, []schema.Proof{{Signer: ownerID, Signature: []byte{1}}}); len(got) != 0 {
		t.Errorf("Malformed signature verified: %v", got)
	}
}

func TestSignerResolver(t *testing.T) {
	ownerID, ownerKey := testKey(t)
	asserted := []schema.Identity{ownerID}

	var account schema.RecordKey
	params := []byte(`{}`)

	// Unauthenticated assertions only count in trusted mode.
	strict := SignerResolver{}
	if got := strict.Resolve(account, "upgrade", params, asserted, nil); got != nil {
		t.Errorf("Strict resolver accepted asserted signers: %v", got)
	}
	trusted := SignerResolver{Trusted: true}
	if got := trusted.Resolve(account, "upgrade", params, asserted, nil); len(got) != 1 || got[0] != ownerID {
		t.Errorf("Trusted resolver rejected asserted signers: %v", got)
	}

	// Proofs take precedence in both modes.
	digest := SigningDigest(account, "upgrade", params)
	proofs := []schema.Proof{SignDigest(digest, ownerKey)}
	if got := strict.Resolve(account, "upgrade", params, nil, proofs); len(got) != 1 || got[0] != ownerID {
		t.Errorf("Strict resolver rejected a valid proof: %v", got)
	}
	if got := trusted.Resolve(account, "upgrade", params, asserted, []schema.Proof{{Signer: ownerID, Signature: make([]byte, 64)}}); len(got) != 0 {
		t.Errorf("Invalid proof fell back to asserted signers: %v", got)
	}
}

package vault

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/custodia-dev/custodia/pkg/schema"
)

// SigningDigest binds a request to one account, one operation, and one
// parameter encoding. Segments are length-prefixed so no two distinct
// requests share a digest. Clients sign this digest; the daemon
// recomputes it from the received request before verifying proofs.
func SigningDigest(account schema.RecordKey, op string, params []byte) []byte {
	h := blake3.New()
	writeSegment(h, account[:])
	writeSegment(h, []byte(op))
	writeSegment(h, params)
	return h.Sum(nil)
}

func writeSegment(h *blake3.Hasher, seg []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seg)))
	h.Write(lenBuf[:])
	h.Write(seg)
}

// VerifyProofs returns the identities whose Ed25519 signature over the
// digest checks out. Entries that fail to verify are dropped rather than
// fatal: a stranger co-signing simply does not count toward either
// credential, and the core decides whether the surviving set is enough.
func VerifyProofs(digest []byte, proofs []schema.Proof) []schema.Identity {
	var verified []schema.Identity
	for _, p := range proofs {
		if len(p.Signature) != ed25519.SignatureSize {
			continue
		}
		if ed25519.Verify(ed25519.PublicKey(p.Signer[:]), digest, p.Signature) {
			verified = append(verified, p.Signer)
		}
	}
	return verified
}

// SignDigest produces a proof for the digest with the given private key.
func SignDigest(digest []byte, priv ed25519.PrivateKey) schema.Proof {
	var signer schema.Identity
	copy(signer[:], priv.Public().(ed25519.PublicKey))
	return schema.Proof{
		Signer:    signer,
		Signature: ed25519.Sign(priv, digest),
	}
}

// SignerResolver turns a request's authentication material into the
// verified identity set handed to the core. In normal operation only
// proof-backed identities count; Trusted mode accepts asserted signers
// without proofs and belongs in dev and test deployments only.
type SignerResolver struct {
	Trusted bool
}

func (r SignerResolver) Resolve(account schema.RecordKey, op string, params []byte, asserted []schema.Identity, proofs []schema.Proof) []schema.Identity {
	if len(proofs) > 0 {
		return VerifyProofs(SigningDigest(account, op, params), proofs)
	}
	if r.Trusted {
		return asserted
	}
	return nil
}

package custody

import "github.com/custodia-dev/custodia/pkg/schema"

// SignerSet reports which of the record's two credentials co-signed a
// request.
type SignerSet struct {
	OwnerSigned    bool
	GuardianSigned bool
}

// Both reports whether owner and guardian both co-signed.
func (s SignerSet) Both() bool {
	return s.OwnerSigned && s.GuardianSigned
}

// CoSigners compares a verified identity set against the record's current
// owner and guardian. Identities matching neither credential do not count
// toward either flag; a third party attempting to co-sign is simply
// ignored here. No side effects.
func CoSigners(rec *schema.AccountRecord, signers []schema.Identity) SignerSet {
	var set SignerSet
	for _, id := range signers {
		if id == rec.Owner {
			set.OwnerSigned = true
		}
		if id == rec.Guardian {
			set.GuardianSigned = true
		}
	}
	return set
}

func requireBoth(s SignerSet) error {
	if !s.Both() {
		return ErrNotEnoughApprovals
	}
	return nil
}

func requireOwner(s SignerSet) error {
	if !s.OwnerSigned {
		return ErrNotEnoughApprovals
	}
	return nil
}

func requireGuardian(s SignerSet) error {
	if !s.GuardianSigned {
		return ErrNotEnoughApprovals
	}
	return nil
}

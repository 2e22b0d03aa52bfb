package custody

import (
	"github.com/rs/zerolog"

	"github.com/custodia-dev/custodia/pkg/schema"
)

// OpcodeUpgrade selects the "upgrade" operation on the external
// program-replacement facility.
const OpcodeUpgrade uint8 = 3

// UpgradeRequest carries the fixed account references and opcode that
// the controller forwards to the facility once the dual-signature gate
// has passed.
type UpgradeRequest struct {
	Owner    schema.Identity
	Guardian schema.Identity
	Opcode   uint8
}

// Upgrader is the external program-replacement facility. The controller
// owns only the authorization gate in front of it; bytecode swap and the
// facility's own authority checks are entirely its concern.
type Upgrader interface {
	Upgrade(req UpgradeRequest) error
}

// LogUpgrader records the delegated call and does nothing else. It is
// the default facility for deployments where replacement is handled
// out of band.
type LogUpgrader struct {
	Log zerolog.Logger
}

func (u LogUpgrader) Upgrade(req UpgradeRequest) error {
	u.Log.Info().
		Str("owner", req.Owner.String()).
		Str("guardian", req.Guardian.String()).
		Uint8("opcode", req.Opcode).
		Msg("upgrade delegated to program-replacement facility")
	return nil
}

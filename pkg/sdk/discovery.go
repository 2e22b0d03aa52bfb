package sdk

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/custodia-dev/custodia/internal/engine"
)

// New initializes a Custodian based on the environment. With
// CUSTODIA_ADDR set it connects to a remote daemon; otherwise it opens
// an embedded engine over the given data directory, so the app doesn't
// care whether custody is local or remote.
func New(dataDir string) (Custodian, error) {
	remoteAddr := os.Getenv("CUSTODIA_ADDR")

	if remoteAddr != "" {
		client, err := Connect(remoteAddr)
		if err == nil {
			return client, nil
		}
		log.Warn().Str("addr", remoteAddr).Err(err).Msg("remote custodia unreachable, falling back to embedded mode")
	}

	p, err := engine.NewPersistence(dataDir, nil)
	if err != nil {
		return nil, err
	}

	records, err := p.LoadAll()
	if err != nil {
		return nil, err
	}

	return NewLocal(engine.NewEngine(records, p, engine.Options{Logger: log.Logger})), nil
}

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/custodia-dev/custodia/internal/vault"
	"github.com/custodia-dev/custodia/pkg/schema"
)

const recordExt = ".rec"

// Persistence handles the disk I/O for the engine: one file per account
// record, named by the record key, containing the binary record layout.
// With a master key set, record files are encrypted at rest.
type Persistence struct {
	DataDir   string
	masterKey []byte
	mu        sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler. masterKey may be nil
// for plaintext record files, or a 32-byte AES key.
func NewPersistence(dir string, masterKey []byte) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir, masterKey: masterKey}, nil
}

// SaveRecord writes one record to disk atomically: serialize, optionally
// encrypt, write to a temp file, rename over the target.
func (p *Persistence) SaveRecord(key schema.RecordKey, rec *schema.AccountRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serialize record %s: %w", key, err)
	}
	if p.masterKey != nil {
		data, err = vault.Encrypt(data, p.masterKey)
		if err != nil {
			return fmt.Errorf("encrypt record %s: %w", key, err)
		}
	}

	filePath := filepath.Join(p.DataDir, key.String()+recordExt)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	// Atomic rename: a crash leaves either the old file or the new one,
	// never a torn record.
	return os.Rename(tempPath, filePath)
}

// LoadAll returns all records found in the data directory, keyed by the
// record key recovered from each filename. Unreadable or corrupt files
// are skipped with a warning.
func (p *Persistence) LoadAll() (map[schema.RecordKey]*schema.AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	records := make(map[schema.RecordKey]*schema.AccountRecord)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		name := file.Name()
		if filepath.Ext(name) != recordExt {
			continue
		}
		key, err := schema.ParseRecordKey(strings.TrimSuffix(name, recordExt))
		if err != nil {
			log.Warn().Str("file", name).Err(err).Msg("skipping record file with bad name")
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.DataDir, name))
		if err != nil {
			log.Warn().Str("file", name).Err(err).Msg("could not read record file")
			continue
		}
		if p.masterKey != nil {
			data, err = vault.Decrypt(data, p.masterKey)
			if err != nil {
				log.Warn().Str("file", name).Err(err).Msg("could not decrypt record file")
				continue
			}
		}

		var rec schema.AccountRecord
		if err := rec.UnmarshalBinary(data); err != nil {
			log.Warn().Str("file", name).Err(err).Msg("could not decode record file")
			continue
		}
		records[key] = &rec
	}
	return records, nil
}

// Package config loads daemon configuration from a TOML file with
// environment overrides.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment overrides. Each takes precedence over the config file.
const (
	EnvDataDir       = "CUSTODIA_DATA_DIR"
	EnvPort          = "CUSTODIA_PORT"
	EnvHTTPPort      = "CUSTODIA_HTTP_PORT"
	EnvDisableTLS    = "CUSTODIA_DISABLE_TLS"
	EnvTrustAsserted = "CUSTODIA_TRUST_ASSERTED"
	EnvMasterKey     = "CUSTODIA_MASTER_KEY"
)

// Config is the custodiad daemon configuration.
type Config struct {
	// DataDir holds the persisted record files.
	DataDir string `toml:"data_dir"`
	// Port is the TCP wire-protocol listener port.
	Port string `toml:"port"`
	// HTTPPort is the management API listener port.
	HTTPPort string `toml:"http_port"`
	// DisableTLS turns off TLS on the TCP listener.
	DisableTLS bool `toml:"disable_tls"`
	// TrustAsserted accepts asserted signer identities without signature
	// proofs. Development and test deployments only.
	TrustAsserted bool `toml:"trust_asserted"`
	// MasterKey is a hex-encoded 32-byte AES key for record files at
	// rest. Empty means plaintext files.
	MasterKey string `toml:"master_key"`
}

// Load reads the config file at path (if it exists), applies environment
// overrides, then defaults. A missing file is not an error; a malformed
// one is.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env and defaults
		case err != nil:
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Port == "" {
		cfg.Port = "7101"
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "7102"
	}

	if _, err := cfg.MasterKeyBytes(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		cfg.HTTPPort = v
	}
	if os.Getenv(EnvDisableTLS) == "true" {
		cfg.DisableTLS = true
	}
	if os.Getenv(EnvTrustAsserted) == "true" {
		cfg.TrustAsserted = true
	}
	if v := os.Getenv(EnvMasterKey); v != "" {
		cfg.MasterKey = v
	}
}

// MasterKeyBytes decodes the configured master key. Returns nil for an
// unset key.
func (c Config) MasterKeyBytes() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

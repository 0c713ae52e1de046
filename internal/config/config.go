// Package config handles configuration loading and validation for saferasectl.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the CLI and library configuration.
type Config struct {
	// TrustedKeysDir is the directory of PEM-encoded public keys trusted
	// for certificate verification.
	TrustedKeysDir string `toml:"trusted_keys_dir"`

	// DefaultAlgorithm names the wipe algorithm used when none is given
	// on the command line, by its constant identifier (e.g. "NIST80088")
	// or its String() form, both of which algorithms.Parse accepts.
	DefaultAlgorithm string `toml:"default_algorithm"`

	// BlockSize is the read/write chunk size in bytes used by the wipe
	// engine when streaming passes to a device.
	BlockSize int `toml:"block_size"`

	// ProgressIntervalMs is how often, in milliseconds, the wipe engine
	// emits a Progress update.
	ProgressIntervalMs int `toml:"progress_interval_ms"`

	// SigningKeyPath is the path to the RSA private key used to sign
	// certificates.
	SigningKeyPath string `toml:"signing_key_path"`

	// LedgerPath is the path to the SQLite ledger database.
	LedgerPath string `toml:"ledger_path"`

	// LogPath is the path to the CLI log file.
	LogPath string `toml:"log_path"`

	// LogFormat selects the CLI log encoding: "text" or "json".
	LogFormat string `toml:"log_format"`

	// AuditLogPath is the path to the append-only JSON-lines audit log.
	AuditLogPath string `toml:"audit_log_path"`

	// TPMSealing controls whether keygen also writes a TPM/Secure-Enclave
	// sealed escrow copy of the signing key alongside the plaintext one.
	TPMSealing bool `toml:"tpm_sealing"`

	// TrustWatchIntervalSec is how long a changed trusted-key file must
	// sit stable before `trust watch` reloads it.
	TrustWatchIntervalSec int `toml:"trust_watch_interval_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dir := filepath.Join(homeDir, ".saferase")

	return &Config{
		TrustedKeysDir:        filepath.Join(dir, "trusted_keys"),
		DefaultAlgorithm:      "NIST80088",
		BlockSize:             4 * 1024 * 1024,
		ProgressIntervalMs:    500,
		SigningKeyPath:        filepath.Join(dir, "signing_key.pem"),
		LedgerPath:            filepath.Join(dir, "ledger.db"),
		LogPath:               filepath.Join(dir, "saferase.log"),
		LogFormat:             "text",
		AuditLogPath:          filepath.Join(dir, "audit.log"),
		TPMSealing:            true,
		TrustWatchIntervalSec: 2,
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".saferase", "config.toml")
}

// Load reads configuration from path. If the file doesn't exist, it
// returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.BlockSize < 4096 {
		return errors.New("config: block_size must be at least 4096 bytes")
	}
	if c.ProgressIntervalMs < 1 {
		return errors.New("config: progress_interval_ms must be at least 1")
	}
	if c.SigningKeyPath == "" {
		return errors.New("config: signing_key_path is required")
	}
	if c.LedgerPath == "" {
		return errors.New("config: ledger_path is required")
	}
	return nil
}

// EnsureDirectories creates all necessary directories for the CLI.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.TrustedKeysDir,
		filepath.Dir(c.SigningKeyPath),
		filepath.Dir(c.LedgerPath),
		filepath.Dir(c.LogPath),
		filepath.Dir(c.AuditLogPath),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	return nil
}

// BaseDir returns the base saferase configuration directory.
func BaseDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".saferase")
}

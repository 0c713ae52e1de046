package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultAlgorithm != "NIST80088" {
		t.Errorf("expected default algorithm NIST80088, got %s", cfg.DefaultAlgorithm)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
block_size = 8192
default_algorithm = "ZeroFill"
signing_key_path = "/tmp/key.pem"
ledger_path = "/tmp/ledger.db"
`
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BlockSize != 8192 {
		t.Errorf("expected block_size 8192, got %d", cfg.BlockSize)
	}
	if cfg.DefaultAlgorithm != "ZeroFill" {
		t.Errorf("expected default_algorithm ZeroFill, got %s", cfg.DefaultAlgorithm)
	}
}

func TestValidateRejectsTinyBlockSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockSize = 512
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a block_size below the minimum")
	}
}

func TestValidateRejectsMissingSigningKeyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SigningKeyPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a missing signing_key_path")
	}
}

func TestLoadOrCreateWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected LoadOrCreate to report a newly created file")
	}
	if cfg.DefaultAlgorithm != "NIST80088" {
		t.Errorf("expected default algorithm NIST80088, got %s", cfg.DefaultAlgorithm)
	}

	_, createdAgain, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if createdAgain {
		t.Fatal("expected second LoadOrCreate call not to recreate the file")
	}
}

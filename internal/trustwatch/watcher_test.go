package trustwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"saferase/internal/certverify"
	"saferase/internal/signer"
)

func writeTestKey(t *testing.T, dir, name string) {
	t.Helper()
	key, err := signer.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBytes, err := signer.MarshalPublicKeyPEM(signer.GetPublicKey(key))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), pemBytes, 0644); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
}

func TestWatcherCreation(t *testing.T) {
	tmpDir := t.TempDir()
	verifier := certverify.New()

	w, err := New(tmpDir, verifier, 1)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if w.TrackedFiles() != 0 {
		t.Errorf("expected 0 tracked files before start, got %d", w.TrackedFiles())
	}
}

func TestWatcherLoadsExistingKeysOnStart(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestKey(t, tmpDir, "initial.pem")

	verifier := certverify.New()
	w, err := New(tmpDir, verifier, 1)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if len(verifier.TrustedKeyIDs()) != 1 {
		t.Errorf("expected 1 trusted key after start, got %d", len(verifier.TrustedKeyIDs()))
	}
}

func TestWatcherAddsKeyOnCreate(t *testing.T) {
	tmpDir := t.TempDir()
	verifier := certverify.New()

	w, err := New(tmpDir, verifier, 1)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	writeTestKey(t, tmpDir, "added.pem")

	select {
	case event := <-w.Events():
		if event.KeyID == "" {
			t.Error("expected a populated key_id in the reload event")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reload event")
	}

	if len(verifier.TrustedKeyIDs()) != 1 {
		t.Errorf("expected 1 trusted key after reload, got %d", len(verifier.TrustedKeyIDs()))
	}
}

func TestWatcherIgnoresNonPEMFiles(t *testing.T) {
	tmpDir := t.TempDir()
	verifier := certverify.New()

	w, err := New(tmpDir, verifier, 1)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case event := <-w.Events():
		t.Fatalf("expected no reload event for a non-pem file, got %+v", event)
	case <-time.After(2 * time.Second):
	}
}

// Package certverify verifies signed wipe certificates against a trust
// store of known signer public keys.
package certverify

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"saferase/internal/certificate"
	"saferase/internal/errs"
	"saferase/internal/signer"
)

// Verifier holds the set of signer public keys a caller trusts, keyed by
// key_id. It is safe for concurrent use; trustwatch reloads the store
// in place as trusted keys are added or removed on disk.
type Verifier struct {
	mu      sync.RWMutex
	trusted map[string]*rsa.PublicKey
}

// New returns an empty Verifier. Callers add trusted keys with AddKey or
// LoadDir before verifying anything.
func New() *Verifier {
	return &Verifier{trusted: make(map[string]*rsa.PublicKey)}
}

// AddKey registers pub as trusted, deriving its key_id.
func (v *Verifier) AddKey(pub *rsa.PublicKey) (string, error) {
	keyID, err := signer.KeyID(pub)
	if err != nil {
		return "", errs.Crypto("certverify.AddKey", err)
	}
	v.mu.Lock()
	v.trusted[keyID] = pub
	v.mu.Unlock()
	return keyID, nil
}

// RemoveKey drops a trusted key by key_id.
func (v *Verifier) RemoveKey(keyID string) {
	v.mu.Lock()
	delete(v.trusted, keyID)
	v.mu.Unlock()
}

// TrustedKeyIDs returns every key_id currently trusted.
func (v *Verifier) TrustedKeyIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.trusted))
	for id := range v.trusted {
		ids = append(ids, id)
	}
	return ids
}

// LoadDir walks dir for *.pem files and adds each as a trusted key. A key
// that fails to parse is skipped rather than aborting the whole load, so
// one malformed file in the trust directory cannot take down every other
// trusted signer.
func (v *Verifier) LoadDir(dir string) ([]string, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{errs.IOFS("certverify.LoadDir", err)}
	}

	var loaded []string
	var loadErrs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		pub, err := signer.LoadPublicKey(path)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		keyID, err := v.AddKey(pub)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		loaded = append(loaded, keyID)
	}
	return loaded, loadErrs
}

// VerifyCertificate re-validates signed's structural invariants, confirms
// its key_id is trusted, recomputes the canonical-JSON SHA-256 hash and
// checks it against the stored certificate_hash, then verifies the RSA
// signature itself. All four checks must pass for the certificate to be
// considered genuine.
func (v *Verifier) VerifyCertificate(signed certificate.Signed) error {
	if err := signed.Validate(); err != nil {
		return err
	}
	switch alg := signed.SignatureInfo.Algorithm; alg {
	case certificate.RSA2048SHA256, certificate.RSA4096SHA256:
	default:
		return errs.Certificate("certverify.VerifyCertificate", fmt.Errorf("%w: signature algorithm %s", errs.ErrUnsupported, alg))
	}

	v.mu.RLock()
	pub, ok := v.trusted[signed.SignatureInfo.KeyID]
	v.mu.RUnlock()
	if !ok {
		return errs.Certificate("certverify.VerifyCertificate", errs.ErrUntrustedSigner)
	}

	canonical, err := certificate.Canonical(signed.Certificate)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(canonical)
	computedHash := hex.EncodeToString(hash[:])
	if computedHash != signed.SignatureInfo.CertificateHash {
		return errs.Certificate("certverify.VerifyCertificate", fmt.Errorf("certificate hash mismatch: certificate was modified after signing"))
	}

	sig, err := base64.StdEncoding.DecodeString(signed.SignatureInfo.Signature)
	if err != nil {
		return errs.Certificate("certverify.VerifyCertificate", fmt.Errorf("invalid signature encoding: %w", err))
	}

	if !signer.VerifyDigest(pub, hash, sig) {
		return errs.Certificate("certverify.VerifyCertificate", errs.ErrSignatureInvalid)
	}

	return nil
}

// VerifyCertificateFile reads a signed certificate as JSON from path and
// verifies it.
func (v *Verifier) VerifyCertificateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.IOFS("certverify.VerifyCertificateFile", err)
	}
	var signed certificate.Signed
	if err := json.Unmarshal(data, &signed); err != nil {
		return errs.Serialization("certverify.VerifyCertificateFile", err)
	}
	return v.VerifyCertificate(signed)
}

// Package signer handles RSA-2048 signing and verification of wipe
// certificates.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// KeyBits is the RSA modulus size SafeErase generates and requires for
// certificate signing keys.
const KeyBits = 2048

var (
	ErrInvalidKeyFormat = errors.New("signer: invalid key format")
	ErrUnsupportedKey   = errors.New("signer: unsupported key type (expected RSA)")
	ErrWeakKey          = errors.New("signer: RSA key smaller than 2048 bits")
)

// GenerateKey creates a new RSA-2048 signing key.
func GenerateKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return key, nil
}

// LoadPrivateKey reads a PKCS#8 PEM-encoded RSA private key from path.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read key: %w", err)
	}
	return parsePrivateKeyPEM(keyData)
}

func parsePrivateKeyPEM(keyData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, ErrInvalidKeyFormat
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, key)
		}
		return validateKeySize(rsaKey)
	}

	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return validateKeySize(rsaKey)
	}

	return nil, ErrInvalidKeyFormat
}

func validateKeySize(key *rsa.PrivateKey) (*rsa.PrivateKey, error) {
	if key.N.BitLen() < KeyBits {
		return nil, ErrWeakKey
	}
	return key, nil
}

// LoadPublicKey reads a PEM-encoded RSA public key from path.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read key: %w", err)
	}
	return parsePublicKeyPEM(keyData)
}

// LoadPublicKeyFromPEM parses a PEM-encoded RSA public key already held
// in memory, for callers that hold key material without a backing file
// (a freshly generated signer's own public key, for instance).
func LoadPublicKeyFromPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	return parsePublicKeyPEM(pemBytes)
}

func parsePublicKeyPEM(keyData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, ErrInvalidKeyFormat
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signer: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, pub)
	}
	return rsaPub, nil
}

// MarshalPrivateKeyPEM encodes key as a PKCS#8 PEM block.
func MarshalPrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes pub as a PKIX PEM block.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// SignDigest signs a pre-computed SHA-256 digest with RSASSA-PKCS1-v1_5,
// the scheme the certificate subsystem signs wipe records with.
func SignDigest(key *rsa.PrivateKey, digest [32]byte) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signer: sign digest: %w", err)
	}
	return sig, nil
}

// VerifyDigest verifies an RSASSA-PKCS1-v1_5 signature over a SHA-256 digest.
func VerifyDigest(pub *rsa.PublicKey, digest [32]byte, signature []byte) bool {
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil
}

// Sign hashes payload with SHA-256 and signs the resulting digest.
func Sign(key *rsa.PrivateKey, payload []byte) ([]byte, error) {
	return SignDigest(key, sha256.Sum256(payload))
}

// Verify hashes payload with SHA-256 and verifies signature against it.
func Verify(pub *rsa.PublicKey, payload, signature []byte) bool {
	return VerifyDigest(pub, sha256.Sum256(payload), signature)
}

// GetPublicKey extracts the public half of an RSA private key.
func GetPublicKey(key *rsa.PrivateKey) *rsa.PublicKey {
	return &key.PublicKey
}

// publicKeyDER returns the DER-encoded SubjectPublicKeyInfo for pub, the
// canonical bytes KeyID and Fingerprint are derived from.
func publicKeyDER(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal public key: %w", err)
	}
	return der, nil
}

// KeyID returns the first 8 bytes (16 hex characters) of SHA-256(DER
// SubjectPublicKeyInfo), a short identifier certificates reference to
// name which key signed them without embedding the full fingerprint.
func KeyID(pub *rsa.PublicKey) (string, error) {
	der, err := publicKeyDER(pub)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(der)
	return hex.EncodeToString(h[:8]), nil
}

// Fingerprint returns the full uppercase, colon-separated hex SHA-256
// digest of pub's DER SubjectPublicKeyInfo.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := publicKeyDER(pub)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(der)
	return formatFingerprint(h[:]), nil
}

func formatFingerprint(digest []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(digest)*3-1)
	for i, b := range digest {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return string(out)
}

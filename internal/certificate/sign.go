package certificate

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"saferase/internal/errs"
	"saferase/internal/signer"
)

// SignatureAlgorithm names the signing scheme a SignatureInfo was produced
// with. Only the RSA variants are implemented; the ECDSA constants are
// reserved so certificates naming them fail with a clear "unsupported"
// error rather than silently mis-verifying.
type SignatureAlgorithm int

const (
	RSA2048SHA256 SignatureAlgorithm = iota
	RSA4096SHA256
	ECDSAP256SHA256
	ECDSAP384SHA384
)

func (a SignatureAlgorithm) String() string {
	switch a {
	case RSA2048SHA256:
		return "RSA-2048-SHA256"
	case RSA4096SHA256:
		return "RSA-4096-SHA256"
	case ECDSAP256SHA256:
		return "ECDSA-P256-SHA256"
	case ECDSAP384SHA384:
		return "ECDSA-P384-SHA384"
	default:
		return "Unknown"
	}
}

// SignatureVersion is the signature envelope format this package produces.
const SignatureVersion = 1

// SignatureInfo is the cryptographic envelope attached to a signed
// certificate: the signature itself, the key that produced it, and a hash
// of the exact bytes it covers.
type SignatureInfo struct {
	Signature         string              `json:"signature"`
	Algorithm         SignatureAlgorithm  `json:"algorithm"`
	KeyID             string              `json:"key_id"`
	Timestamp         time.Time           `json:"timestamp"`
	CertificateHash   string              `json:"certificate_hash"`
	SignatureVersion  int                 `json:"signature_version"`
}

// Signed pairs a certificate with the signature attesting to it.
type Signed struct {
	Certificate   Certificate   `json:"certificate"`
	SignatureInfo SignatureInfo `json:"signature_info"`
	SignedAt      time.Time     `json:"signed_at"`
}

// Validate checks the wrapped certificate's own invariants, then the
// envelope invariant that a certificate cannot be signed before it was
// generated.
func (s Signed) Validate() error {
	if err := s.Certificate.Validate(); err != nil {
		return err
	}
	if s.SignedAt.Before(s.Certificate.Data.GeneratedAt) {
		return errs.Certificate("Signed.Validate", fmt.Errorf("signed_at cannot precede generated_at"))
	}
	return nil
}

// KeyPairInfo describes a signing key without exposing key material,
// suitable for display or audit logging.
type KeyPairInfo struct {
	KeyID       string              `json:"key_id"`
	Algorithm   SignatureAlgorithm  `json:"algorithm"`
	CreatedAt   time.Time           `json:"created_at"`
	PublicKeyPEM string             `json:"public_key_pem"`
	Fingerprint string              `json:"fingerprint"`
}

// Signer signs certificates with an RSA-2048 key and reports the key
// metadata that goes into every SignatureInfo it produces.
type Signer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
}

// NewSigner generates a fresh RSA-2048 signing key.
func NewSigner() (*Signer, error) {
	key, err := signer.GenerateKey()
	if err != nil {
		return nil, errs.Crypto("certificate.NewSigner", err)
	}
	return newSignerFromKey(key)
}

// SignerFromFiles loads an RSA signing key from a PEM private key file.
// The public key is derived from it; a separately stored public key file
// is not required.
func SignerFromFiles(privateKeyPath string) (*Signer, error) {
	key, err := signer.LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, errs.Crypto("certificate.SignerFromFiles", err)
	}
	return newSignerFromKey(key)
}

func newSignerFromKey(key *rsa.PrivateKey) (*Signer, error) {
	pub := signer.GetPublicKey(key)
	keyID, err := signer.KeyID(pub)
	if err != nil {
		return nil, errs.Crypto("certificate.newSignerFromKey", err)
	}
	return &Signer{privateKey: key, publicKey: pub, keyID: keyID}, nil
}

// KeyID returns the identifier of the key this Signer signs with.
func (s *Signer) KeyID() string { return s.keyID }

// Info describes this signer's key without exposing the private key.
func (s *Signer) Info(createdAt time.Time) (KeyPairInfo, error) {
	pemBytes, err := signer.MarshalPublicKeyPEM(s.publicKey)
	if err != nil {
		return KeyPairInfo{}, errs.Crypto("certificate.Signer.Info", err)
	}
	fp, err := signer.Fingerprint(s.publicKey)
	if err != nil {
		return KeyPairInfo{}, errs.Crypto("certificate.Signer.Info", err)
	}
	return KeyPairInfo{
		KeyID:        s.keyID,
		Algorithm:    RSA2048SHA256,
		CreatedAt:    createdAt,
		PublicKeyPEM: string(pemBytes),
		Fingerprint:  fp,
	}, nil
}

// SignCertificate validates cert, computes a SHA-256 hash over its
// canonical JSON encoding, signs that hash, and returns the resulting
// Signed record. The certificate_hash is taken over the exact bytes a
// verifier will recompute, so any later mutation is detectable even
// though the signature itself only covers the hash.
func (s *Signer) SignCertificate(cert Certificate, signedAt time.Time) (*Signed, error) {
	if err := cert.Validate(); err != nil {
		return nil, err
	}

	canonical, err := Canonical(cert)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(canonical)
	sig, err := signer.SignDigest(s.privateKey, hash)
	if err != nil {
		return nil, errs.Crypto("certificate.Signer.SignCertificate", err)
	}

	signed := &Signed{
		Certificate: cert,
		SignatureInfo: SignatureInfo{
			Signature:        base64.StdEncoding.EncodeToString(sig),
			Algorithm:        RSA2048SHA256,
			KeyID:            s.keyID,
			Timestamp:        signedAt,
			CertificateHash:  hex.EncodeToString(hash[:]),
			SignatureVersion: SignatureVersion,
		},
		SignedAt: signedAt,
	}

	if err := signed.Validate(); err != nil {
		return nil, err
	}
	return signed, nil
}

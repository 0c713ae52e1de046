package certverify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"saferase/internal/algorithms"
	"saferase/internal/certificate"
	"saferase/internal/signer"
)

func sampleCertificate() certificate.Certificate {
	start := time.Now().Add(-time.Minute)
	end := time.Now()
	return certificate.New(certificate.Data{
		CertificateID: uuid.New().String(),
		GeneratedAt:   end,
		DeviceInfo: certificate.DeviceInfo{
			Path:   "/dev/sim0",
			Serial: "SN-99",
			Model:  "SimDisk 1TB",
			Size:   1 << 30,
		},
		WipeInfo: certificate.WipeInfo{
			Algorithm:       algorithms.ZeroFill,
			StartedAt:       start,
			CompletedAt:     &end,
			PassesCompleted: 1,
		},
	}, "1.0.0")
}

func TestVerifyCertificateAcceptsTrustedSigner(t *testing.T) {
	s, err := certificate.NewSigner()
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	signed, err := s.SignCertificate(sampleCertificate(), time.Now())
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	v := New()
	info, err := s.Info(time.Now())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	pub, err := signer.LoadPublicKeyFromPEM([]byte(info.PublicKeyPEM))
	if err != nil {
		t.Fatalf("failed to parse signer public key: %v", err)
	}
	if _, err := v.AddKey(pub); err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}

	if err := v.VerifyCertificate(*signed); err != nil {
		t.Fatalf("expected verification to succeed, got %v", err)
	}
}

func TestVerifyCertificateRejectsUntrustedSigner(t *testing.T) {
	s, err := certificate.NewSigner()
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	signed, err := s.SignCertificate(sampleCertificate(), time.Now())
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	v := New()
	if err := v.VerifyCertificate(*signed); err == nil {
		t.Fatal("expected verification to fail for an untrusted signer")
	}
}

func TestVerifyCertificateRejectsTamperedCertificate(t *testing.T) {
	s, err := certificate.NewSigner()
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	signed, err := s.SignCertificate(sampleCertificate(), time.Now())
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	v := New()
	info, err := s.Info(time.Now())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	pub, err := signer.LoadPublicKeyFromPEM([]byte(info.PublicKeyPEM))
	if err != nil {
		t.Fatalf("failed to parse signer public key: %v", err)
	}
	if _, err := v.AddKey(pub); err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}

	signed.Certificate.Data.DeviceInfo.Serial = "TAMPERED-SERIAL"
	if err := v.VerifyCertificate(*signed); err == nil {
		t.Fatal("expected verification to fail after tampering with certificate data")
	}
}

func TestLoadDirLoadsTrustedKeys(t *testing.T) {
	dir := t.TempDir()

	key, err := signer.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBytes, err := signer.MarshalPublicKeyPEM(signer.GetPublicKey(key))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "trusted.pem"), pemBytes, 0644); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatalf("failed to write non-pem file: %v", err)
	}

	v := New()
	loaded, errs := v.LoadDir(dir)
	if len(errs) != 0 {
		t.Fatalf("unexpected load errors: %v", errs)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected exactly one loaded key, got %d", len(loaded))
	}
	if ids := v.TrustedKeyIDs(); len(ids) != 1 {
		t.Fatalf("expected one trusted key id, got %v", ids)
	}
}

package certschema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"saferase/internal/algorithms"
	"saferase/internal/certificate"
)

func signedFixture(t *testing.T) certificate.Signed {
	t.Helper()
	s, err := certificate.NewSigner()
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	start := time.Now().Add(-time.Minute)
	end := time.Now()
	cert := certificate.New(certificate.Data{
		CertificateID: uuid.New().String(),
		GeneratedAt:   end,
		DeviceInfo: certificate.DeviceInfo{
			Path:   "/dev/sim0",
			Serial: "SN-1",
			Model:  "SimDisk",
			Size:   1024,
		},
		WipeInfo: certificate.WipeInfo{
			Algorithm:       algorithms.ZeroFill,
			StartedAt:       start,
			CompletedAt:     &end,
			PassesCompleted: 1,
		},
	}, "1.0.0")
	signed, err := s.SignCertificate(cert, time.Now())
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return *signed
}

func TestValidateAcceptsWellFormedCertificate(t *testing.T) {
	signed := signedFixture(t)
	data, err := json.Marshal(signed)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := Validate(data); err != nil {
		t.Fatalf("expected valid certificate JSON, got %v", err)
	}
}

func TestValidateRejectsMissingSignatureInfo(t *testing.T) {
	signed := signedFixture(t)
	data, err := json.Marshal(signed)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	delete(generic, "signature_info")
	mutated, err := json.Marshal(generic)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := Validate(mutated); err == nil {
		t.Fatal("expected validation to fail for missing signature_info")
	}
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	if err := Validate([]byte("{not json")); err == nil {
		t.Fatal("expected validation to fail for malformed JSON")
	}
}

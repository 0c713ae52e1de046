package qrcode

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"saferase/internal/algorithms"
	"saferase/internal/certificate"
)

func TestBuildPayloadMatchesCertificate(t *testing.T) {
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

	payload := BuildPayload(*signed)
	if payload.CertificateID != cert.Data.CertificateID {
		t.Errorf("expected certificate id %s, got %s", cert.Data.CertificateID, payload.CertificateID)
	}
	if payload.Signature != signed.SignatureInfo.Signature {
		t.Error("expected payload signature to match the certificate's signature")
	}
	if !strings.HasSuffix(payload.VerificationURL, cert.Data.CertificateID) {
		t.Errorf("expected verification url to end with the certificate id, got %s", payload.VerificationURL)
	}
}

func TestEncodeProducesValidJSON(t *testing.T) {
	payload := Payload{CertificateID: "abc", Signature: "sig", VerificationURL: "https://example.com/abc"}
	encoded, err := Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(encoded, "abc") {
		t.Errorf("expected encoded payload to contain the certificate id, got %s", encoded)
	}
}

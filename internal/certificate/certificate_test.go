package certificate

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"saferase/internal/algorithms"
)

func validData() Data {
	start := time.Now().Add(-time.Minute)
	end := time.Now()
	return Data{
		CertificateID: uuid.New().String(),
		GeneratedAt:   end,
		DeviceInfo: DeviceInfo{
			Path:   "/dev/sim0",
			Serial: "SN-12345",
			Model:  "SimDisk 500",
			Size:   1 << 30,
		},
		WipeInfo: WipeInfo{
			Algorithm:       algorithms.NIST80088,
			StartedAt:       start,
			CompletedAt:     &end,
			PassesCompleted: 1,
		},
	}
}

func TestValidateAcceptsWellFormedCertificate(t *testing.T) {
	cert := New(validData(), "1.0.0")
	if err := cert.Validate(); err != nil {
		t.Fatalf("expected valid certificate, got %v", err)
	}
}

func TestValidateRejectsMissingCertificateID(t *testing.T) {
	data := validData()
	data.CertificateID = ""
	cert := New(data, "1.0.0")
	if err := cert.Validate(); err == nil {
		t.Fatal("expected error for missing certificate id")
	}
}

func TestValidateRejectsEmptyDeviceSerial(t *testing.T) {
	data := validData()
	data.DeviceInfo.Serial = ""
	cert := New(data, "1.0.0")
	if err := cert.Validate(); err == nil {
		t.Fatal("expected error for empty device serial")
	}
}

func TestValidateRejectsCompletionBeforeStart(t *testing.T) {
	data := validData()
	bad := data.WipeInfo.StartedAt.Add(-time.Hour)
	data.WipeInfo.CompletedAt = &bad
	cert := New(data, "1.0.0")
	if err := cert.Validate(); err == nil {
		t.Fatal("expected error for completion before start")
	}
}

func TestValidateRejectsInconsistentSuccessRate(t *testing.T) {
	data := validData()
	data.VerificationInfo = &VerificationInfo{
		SamplesTested: 100,
		SamplesPassed: 50,
		SuccessRate:   0.99,
	}
	cert := New(data, "1.0.0")
	if err := cert.Validate(); err == nil {
		t.Fatal("expected error for success rate mismatch")
	}
}

func TestValidateRejectsSamplesPassedExceedingTested(t *testing.T) {
	data := validData()
	data.VerificationInfo = &VerificationInfo{
		SamplesTested: 10,
		SamplesPassed: 20,
		SuccessRate:   1.0,
	}
	cert := New(data, "1.0.0")
	if err := cert.Validate(); err == nil {
		t.Fatal("expected error for samples passed exceeding samples tested")
	}
}

func TestValidateAcceptsConsistentVerificationInfo(t *testing.T) {
	data := validData()
	data.VerificationInfo = &VerificationInfo{
		SamplesTested: 100,
		SamplesPassed: 98,
		SuccessRate:   0.98,
	}
	cert := New(data, "1.0.0")
	if err := cert.Validate(); err != nil {
		t.Fatalf("expected valid certificate, got %v", err)
	}
}

func TestFromAlgorithmMapsKnownStandards(t *testing.T) {
	info := FromAlgorithm(algorithms.NIST80088)
	if len(info.StandardsMet) == 0 {
		t.Fatal("expected at least one mapped compliance standard")
	}
	if !info.IsFullyCompliant() {
		t.Errorf("expected NIST 800-88 to map to fully compliant standards")
	}
	if info.CertificationBody != "SafeErase Certification Authority" {
		t.Errorf("unexpected certification body: %s", info.CertificationBody)
	}
}

func TestFromAlgorithmMapsHardwareStandards(t *testing.T) {
	info := FromAlgorithm(algorithms.ATASecureErase)
	found := false
	for _, s := range info.StandardsMet {
		if s.Name == "ATA/ATAPI Command Set" {
			found = true
		}
	}
	if !found {
		t.Error("expected ATA Secure Erase to map to the ATA/ATAPI Command Set standard")
	}
}

func TestCanonicalIsDeterministic(t *testing.T) {
	cert := New(validData(), "1.0.0")
	a, err := Canonical(cert)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	b, err := Canonical(cert)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	if string(a) != string(b) {
		t.Error("expected canonical serialization to be deterministic")
	}
}

func TestSummarizeReflectsCertificate(t *testing.T) {
	cert := New(validData(), "1.0.0")
	summary := cert.Summarize()
	if summary.CertificateID != cert.Data.CertificateID {
		t.Errorf("expected summary id %s, got %s", cert.Data.CertificateID, summary.CertificateID)
	}
	if summary.DeviceSerial != cert.Data.DeviceInfo.Serial {
		t.Errorf("expected summary serial %s, got %s", cert.Data.DeviceInfo.Serial, summary.DeviceSerial)
	}
}

func TestDurationRoundTripsThroughJSON(t *testing.T) {
	d := Duration(90 * time.Second)
	marshaled, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Duration
	if err := decoded.UnmarshalJSON(marshaled); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != d {
		t.Errorf("expected round-tripped duration %v, got %v", d, decoded)
	}
}

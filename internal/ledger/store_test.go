package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleWipeRecord(opID string) WipeRecord {
	completed := time.Now()
	passed := true
	return WipeRecord{
		OperationID:        opID,
		DevicePath:         "/dev/sim0",
		DeviceSerial:       "SN-1",
		DeviceModel:        "SimDisk",
		Algorithm:          "ZeroFill",
		Status:             "Completed",
		StartedAt:          completed.Add(-time.Minute),
		CompletedAt:        &completed,
		BytesWiped:         4096,
		PassesCompleted:    1,
		VerificationPassed: &passed,
	}
}

func TestInsertAndGetWipeRecord(t *testing.T) {
	s := openTestStore(t)
	r := sampleWipeRecord("op-1")

	if _, err := s.InsertWipeRecord(&r); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.GetWipeRecord("op-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record, got nil")
	}
	if got.DeviceSerial != r.DeviceSerial || got.Algorithm != r.Algorithm {
		t.Errorf("unexpected record contents: %+v", got)
	}
	if got.VerificationPassed == nil || !*got.VerificationPassed {
		t.Error("expected verification_passed to round-trip as true")
	}
}

func TestGetWipeRecordMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetWipeRecord("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing record, got %+v", got)
	}
}

func TestListWipeRecordsBySerial(t *testing.T) {
	s := openTestStore(t)
	r1 := sampleWipeRecord("op-1")
	r2 := sampleWipeRecord("op-2")
	r2.DeviceSerial = "SN-OTHER"
	r1.RecordHash[0] = 1
	r2.RecordHash[0] = 2

	if _, err := s.InsertWipeRecord(&r1); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := s.InsertWipeRecord(&r2); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	records, err := s.ListWipeRecordsBySerial("SN-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record for SN-1, got %d", len(records))
	}
}

func TestInsertAndGetCertificateRecord(t *testing.T) {
	s := openTestStore(t)
	r := sampleWipeRecord("op-1")
	if _, err := s.InsertWipeRecord(&r); err != nil {
		t.Fatalf("insert wipe record failed: %v", err)
	}

	cert := CertificateRecord{
		CertificateID:   "cert-1",
		OperationID:     "op-1",
		KeyID:           "abcd1234abcd1234",
		CertificateHash: "deadbeef",
		IssuedAt:        time.Now(),
		CertificateJSON: `{"certificate_id":"cert-1"}`,
	}
	if _, err := s.InsertCertificateRecord(&cert); err != nil {
		t.Fatalf("insert certificate failed: %v", err)
	}

	got, err := s.GetCertificateRecord("cert-1")
	if err != nil {
		t.Fatalf("get certificate failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a certificate record, got nil")
	}
	if got.OperationID != "op-1" {
		t.Errorf("expected operation_id op-1, got %s", got.OperationID)
	}
}

func TestSecureStoreAppendChainsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.db")
	s, err := OpenSecure(path, []byte("test-hmac-key-at-least-16-bytes"))
	if err != nil {
		t.Fatalf("failed to open secure store: %v", err)
	}
	defer s.Close()

	if _, err := s.AppendWipeRecord(sampleWipeRecord("op-1")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := s.AppendWipeRecord(sampleWipeRecord("op-2")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	first, err := s.GetWipeRecord("op-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	second, err := s.GetWipeRecord("op-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if second.PreviousHash != first.RecordHash {
		t.Error("expected second record's previous_hash to equal the first record's hash")
	}

	broken, err := s.VerifyChain()
	if err != nil {
		t.Fatalf("verify chain failed: %v", err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected an intact chain, got broken records: %v", broken)
	}
}

func TestSecureStoreRejectsEmptyKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.db")
	if _, err := OpenSecure(path, nil); err == nil {
		t.Fatal("expected an error opening a secure store with an empty hmac key")
	}
}

func TestMigrateDBIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("first migration run failed: %v", err)
	}
	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("second migration run should be a no-op, got: %v", err)
	}
	if err := ValidateSchema(s.db); err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}
}

func TestGetMigrationStatusReportsAppliedVersions(t *testing.T) {
	s := openTestStore(t)
	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	status, err := GetMigrationStatus(s.db)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if status.CurrentVersion != len(migrations) {
		t.Errorf("expected current version %d, got %d", len(migrations), status.CurrentVersion)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %v", status.Pending)
	}
}

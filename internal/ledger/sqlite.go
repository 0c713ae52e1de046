package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schema is the ledger's base table layout: an append-only log of wipe
// operations, hash-chained for tamper evidence (see secure.go), plus the
// certificates issued against them.
const schema = `
CREATE TABLE IF NOT EXISTS wipe_operations (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id        TEXT NOT NULL UNIQUE,
    device_path         TEXT NOT NULL,
    device_serial       TEXT NOT NULL,
    device_model        TEXT NOT NULL,
    algorithm           TEXT NOT NULL,
    status              TEXT NOT NULL,
    started_at          INTEGER NOT NULL,
    completed_at        INTEGER,
    bytes_wiped         INTEGER NOT NULL DEFAULT 0,
    passes_completed    INTEGER NOT NULL DEFAULT 0,
    verification_passed INTEGER,
    error_message       TEXT,
    previous_hash       BLOB NOT NULL,
    record_hash         BLOB NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_wipe_operations_serial ON wipe_operations(device_serial);
CREATE INDEX IF NOT EXISTS idx_wipe_operations_started ON wipe_operations(started_at);

CREATE TABLE IF NOT EXISTS certificates (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    certificate_id      TEXT NOT NULL UNIQUE,
    operation_id        TEXT NOT NULL REFERENCES wipe_operations(operation_id),
    key_id              TEXT NOT NULL,
    certificate_hash    TEXT NOT NULL,
    issued_at           INTEGER NOT NULL,
    certificate_json    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_certificates_operation ON certificates(operation_id);
`

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path and applies its schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertWipeRecord appends a wipe operation record and returns its row ID.
// PreviousHash and RecordHash must already be set by the caller (see
// secure.go's AppendWipeRecord, which chains and signs records before
// calling this).
func (s *Store) InsertWipeRecord(r *WipeRecord) (int64, error) {
	var completedAt sql.NullInt64
	if r.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: r.CompletedAt.UnixNano(), Valid: true}
	}
	var verificationPassed sql.NullBool
	if r.VerificationPassed != nil {
		verificationPassed = sql.NullBool{Bool: *r.VerificationPassed, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO wipe_operations
			(operation_id, device_path, device_serial, device_model, algorithm, status,
			 started_at, completed_at, bytes_wiped, passes_completed, verification_passed,
			 error_message, previous_hash, record_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OperationID, r.DevicePath, r.DeviceSerial, r.DeviceModel, r.Algorithm, r.Status,
		r.StartedAt.UnixNano(), completedAt, r.BytesWiped, r.PassesCompleted, verificationPassed,
		r.ErrorMessage, r.PreviousHash[:], r.RecordHash[:],
	)
	if err != nil {
		return 0, fmt.Errorf("insert wipe record: %w", err)
	}
	return result.LastInsertId()
}

// GetWipeRecord retrieves a wipe record by operation id.
func (s *Store) GetWipeRecord(operationID string) (*WipeRecord, error) {
	var r WipeRecord
	var startedAtNs int64
	var completedAt sql.NullInt64
	var verificationPassed sql.NullBool
	var previousHash, recordHash []byte

	err := s.db.QueryRow(`
		SELECT id, operation_id, device_path, device_serial, device_model, algorithm, status,
		       started_at, completed_at, bytes_wiped, passes_completed, verification_passed,
		       error_message, previous_hash, record_hash
		FROM wipe_operations WHERE operation_id = ?`, operationID,
	).Scan(&r.ID, &r.OperationID, &r.DevicePath, &r.DeviceSerial, &r.DeviceModel, &r.Algorithm, &r.Status,
		&startedAtNs, &completedAt, &r.BytesWiped, &r.PassesCompleted, &verificationPassed,
		&r.ErrorMessage, &previousHash, &recordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wipe record: %w", err)
	}

	r.StartedAt = time.Unix(0, startedAtNs).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		r.CompletedAt = &t
	}
	if verificationPassed.Valid {
		v := verificationPassed.Bool
		r.VerificationPassed = &v
	}
	copy(r.PreviousHash[:], previousHash)
	copy(r.RecordHash[:], recordHash)
	return &r, nil
}

// ListWipeRecordsBySerial returns every wipe record for a device serial,
// oldest first.
func (s *Store) ListWipeRecordsBySerial(serial string) ([]WipeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_id, device_path, device_serial, device_model, algorithm, status,
		       started_at, completed_at, bytes_wiped, passes_completed, verification_passed,
		       error_message, previous_hash, record_hash
		FROM wipe_operations WHERE device_serial = ? ORDER BY started_at ASC`, serial)
	if err != nil {
		return nil, fmt.Errorf("query wipe records by serial: %w", err)
	}
	defer rows.Close()
	return scanWipeRecords(rows)
}

// LatestWipeRecord returns the most recently inserted wipe record, or
// nil if the ledger is empty. Used to find the previous_hash a new
// record should chain from.
func (s *Store) LatestWipeRecord() (*WipeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_id, device_path, device_serial, device_model, algorithm, status,
		       started_at, completed_at, bytes_wiped, passes_completed, verification_passed,
		       error_message, previous_hash, record_hash
		FROM wipe_operations ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("query latest wipe record: %w", err)
	}
	defer rows.Close()

	records, err := scanWipeRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func scanWipeRecords(rows *sql.Rows) ([]WipeRecord, error) {
	var out []WipeRecord
	for rows.Next() {
		var r WipeRecord
		var startedAtNs int64
		var completedAt sql.NullInt64
		var verificationPassed sql.NullBool
		var previousHash, recordHash []byte

		if err := rows.Scan(&r.ID, &r.OperationID, &r.DevicePath, &r.DeviceSerial, &r.DeviceModel, &r.Algorithm, &r.Status,
			&startedAtNs, &completedAt, &r.BytesWiped, &r.PassesCompleted, &verificationPassed,
			&r.ErrorMessage, &previousHash, &recordHash); err != nil {
			return nil, fmt.Errorf("scan wipe record: %w", err)
		}
		r.StartedAt = time.Unix(0, startedAtNs).UTC()
		if completedAt.Valid {
			t := time.Unix(0, completedAt.Int64).UTC()
			r.CompletedAt = &t
		}
		if verificationPassed.Valid {
			v := verificationPassed.Bool
			r.VerificationPassed = &v
		}
		copy(r.PreviousHash[:], previousHash)
		copy(r.RecordHash[:], recordHash)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wipe records: %w", err)
	}
	return out, nil
}

// InsertCertificateRecord records an issued certificate against its
// wipe operation.
func (s *Store) InsertCertificateRecord(r *CertificateRecord) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO certificates (certificate_id, operation_id, key_id, certificate_hash, issued_at, certificate_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.CertificateID, r.OperationID, r.KeyID, r.CertificateHash, r.IssuedAt.UnixNano(), r.CertificateJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert certificate record: %w", err)
	}
	return result.LastInsertId()
}

// CountWipeRecords returns the total number of wipe records in the ledger.
func (s *Store) CountWipeRecords() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM wipe_operations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count wipe records: %w", err)
	}
	return n, nil
}

// GetCertificateRecord retrieves a certificate record by certificate id.
func (s *Store) GetCertificateRecord(certificateID string) (*CertificateRecord, error) {
	var r CertificateRecord
	var issuedAtNs int64
	err := s.db.QueryRow(`
		SELECT id, certificate_id, operation_id, key_id, certificate_hash, issued_at, certificate_json
		FROM certificates WHERE certificate_id = ?`, certificateID,
	).Scan(&r.ID, &r.CertificateID, &r.OperationID, &r.KeyID, &r.CertificateHash, &issuedAtNs, &r.CertificateJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get certificate record: %w", err)
	}
	r.IssuedAt = time.Unix(0, issuedAtNs).UTC()
	return &r, nil
}

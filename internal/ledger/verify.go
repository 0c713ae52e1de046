package ledger

import "fmt"

// VerifyChain walks every wipe record in insertion order and confirms
// each one's hash chains correctly from the previous record and
// HMAC-verifies against the ledger's key. It returns the operation ids
// of every record that fails either check.
func (s *SecureStore) VerifyChain() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_id, device_path, device_serial, device_model, algorithm, status,
		       started_at, completed_at, bytes_wiped, passes_completed, verification_passed,
		       error_message, previous_hash, record_hash
		FROM wipe_operations ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query wipe operations for chain verification: %w", err)
	}
	defer rows.Close()

	records, err := scanWipeRecords(rows)
	if err != nil {
		return nil, err
	}

	var broken []string
	var expectedPrevious [32]byte
	for _, r := range records {
		if r.PreviousHash != expectedPrevious {
			broken = append(broken, r.OperationID)
		} else if recomputed := s.recomputeRecordHash(r, r.PreviousHash); recomputed != r.RecordHash {
			broken = append(broken, r.OperationID)
		}
		expectedPrevious = r.RecordHash
	}

	return broken, nil
}

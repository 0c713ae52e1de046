// Security model for the wipe ledger:
//  1. Append-only: records are never updated or deleted after insertion.
//  2. Chain linking: each record's hash covers the previous record's
//     hash, so removing or reordering a record breaks every record
//     after it.
//  3. Integrity: each record's hash is an HMAC-SHA256 keyed by a secret
//     the ledger operator controls, so a party without that key cannot
//     forge a record that re-validates.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// SecureStore wraps Store with hash-chain integrity over wipe records.
type SecureStore struct {
	*Store
	hmacKey []byte
	mu      sync.Mutex
}

// OpenSecure opens the ledger at path and wraps it with chain integrity
// keyed by hmacKey. hmacKey should be at least 32 bytes of real entropy;
// the wipe engine's signing key material is a reasonable source since
// both are already protected at the same trust level.
func OpenSecure(path string, hmacKey []byte) (*SecureStore, error) {
	if len(hmacKey) == 0 {
		return nil, fmt.Errorf("ledger: hmac key must not be empty")
	}
	store, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &SecureStore{Store: store, hmacKey: hmacKey}, nil
}

// AppendWipeRecord chains r onto the latest record in the ledger and
// inserts it. Callers should not set PreviousHash or RecordHash; they
// are computed here under the store's lock so concurrent appends never
// race on the chain tip.
func (s *SecureStore) AppendWipeRecord(r WipeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.LatestWipeRecord()
	if err != nil {
		return 0, err
	}
	var previousHash [32]byte
	if latest != nil {
		previousHash = latest.RecordHash
	}

	r.PreviousHash = previousHash
	r.RecordHash = s.computeRecordHash(&r)
	return s.InsertWipeRecord(&r)
}

func (s *SecureStore) computeRecordHash(r *WipeRecord) [32]byte {
	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write(r.PreviousHash[:])
	mac.Write([]byte(r.OperationID))
	mac.Write([]byte(r.DeviceSerial))
	mac.Write([]byte(r.Algorithm))
	mac.Write([]byte(r.Status))

	var startedBuf [8]byte
	binary.BigEndian.PutUint64(startedBuf[:], uint64(r.StartedAt.UnixNano()))
	mac.Write(startedBuf[:])

	var bytesWipedBuf [8]byte
	binary.BigEndian.PutUint64(bytesWipedBuf[:], r.BytesWiped)
	mac.Write(bytesWipedBuf[:])

	var sum [32]byte
	copy(sum[:], mac.Sum(nil))
	return sum
}

// recomputeRecordHash recomputes the hash a record should have had at
// insertion time, for use by VerifyChain.
func (s *SecureStore) recomputeRecordHash(r WipeRecord, previousHash [32]byte) [32]byte {
	r.PreviousHash = previousHash
	return s.computeRecordHash(&r)
}

// Package ledger provides SQLite-based durable storage for wipe
// operations and the certificates issued for them.
package ledger

import "time"

// WipeRecord is a durable record of one wipe operation, independent of
// the signed certificate that may or may not have been issued for it.
type WipeRecord struct {
	ID                 int64
	OperationID        string
	DevicePath         string
	DeviceSerial       string
	DeviceModel        string
	Algorithm          string
	Status             string
	StartedAt          time.Time
	CompletedAt        *time.Time
	BytesWiped         uint64
	PassesCompleted    int
	VerificationPassed *bool
	ErrorMessage       string
	PreviousHash       [32]byte
	RecordHash         [32]byte
}

// CertificateRecord is a durable record of an issued certificate,
// cross-referenced to the wipe operation it attests to.
type CertificateRecord struct {
	ID            int64
	CertificateID string
	OperationID   string
	KeyID         string
	CertificateHash string
	IssuedAt      time.Time
	CertificateJSON string
}

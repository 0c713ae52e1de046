// Package tpm seals the certificate signing key and attests completed
// wipe operations using TPM 2.0 hardware where available.
//
// TPM (Trusted Platform Module) provides hardware-backed security:
// - Monotonic counter: Cannot be rolled back
// - Secure clock: Hardware time attestation
// - Platform attestation: Proves execution environment
//
// This file defines the interfaces, a no-op fallback for systems without a
// TPM, and a software simulator. The platform providers live in the
// tpm_*.go and secureenclave_*.go files (go-tpm on Linux and Windows).
package tpm

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Attestation contains hardware attestation data.
type Attestation struct {
	// TPM identity
	DeviceID  []byte `json:"device_id"`
	PublicKey []byte `json:"public_key"`

	// Counters and time
	MonotonicCounter uint64    `json:"monotonic_counter"`
	FirmwareVersion  string    `json:"firmware_version,omitempty"`
	ClockInfo        ClockInfo `json:"clock_info"`

	// The attestation
	Data      []byte `json:"data"`      // What was attested
	Signature []byte `json:"signature"` // TPM signature
	Quote     []byte `json:"quote"`     // TPM quote structure

	// PCR values covered by the quote, keyed by PCR index. Nil when the
	// provider doesn't support PCR measurement (e.g. macOS Secure Enclave).
	PCRValues map[int][]byte `json:"pcr_values,omitempty"`

	// SHA-256 over PCRValues in selection order. Nil when PCR measurement
	// is not supported.
	PCRDigest []byte `json:"pcr_digest,omitempty"`

	// Metadata
	CreatedAt time.Time `json:"created_at"`
}

// HashAlg identifies the hash bank a PCR is read from.
type HashAlg int

const (
	HashSHA256 HashAlg = iota
	HashSHA1
)

// PCRSelection selects which platform configuration registers to measure
// or seal against.
type PCRSelection struct {
	Hash HashAlg
	PCRs []int
}

// DefaultPCRSelection is the PCR set the signing key is sealed against:
// firmware (0), secure boot state (7), and boot loader/kernel (11).
func DefaultPCRSelection() PCRSelection {
	return PCRSelection{Hash: HashSHA256, PCRs: []int{0, 7, 11}}
}

// ErrTPMNotOpen is returned by hardware providers when an operation is
// attempted before Open succeeds.
var ErrTPMNotOpen = errors.New("tpm: device not open")

// ErrPCRMismatch is returned by hardware providers' UnsealKey when the TPM
// refuses to unseal.
var ErrPCRMismatch = errors.New("tpm: PCR policy mismatch")

// Sealer seals and unseals arbitrary secret material to the platform's
// current state. Implemented by HardwareProvider, SecureEnclaveProvider,
// and SoftwareProvider; NoOpProvider does not implement it.
type Sealer interface {
	SealKey(data []byte, pcrs PCRSelection) ([]byte, error)
	UnsealKey(sealed []byte) ([]byte, error)
}

// ClockInfo contains TPM clock attestation.
type ClockInfo struct {
	// Clock value in milliseconds since TPM boot
	Clock uint64 `json:"clock"`

	// Reset count (number of TPM resets)
	ResetCount uint32 `json:"reset_count"`

	// Restart count (number of TPM restarts without reset)
	RestartCount uint32 `json:"restart_count"`

	// Safe flag (true if clock is reliable)
	Safe bool `json:"safe"`
}

// Binding represents a TPM binding to a completed wipe operation, keyed
// by the operation's ledger record hash.
type Binding struct {
	// The wipe record this binds to
	RecordHash [32]byte `json:"record_hash"`

	// Attestation from TPM
	Attestation Attestation `json:"attestation"`

	// Previous binding (for chain verification)
	PreviousCounter uint64 `json:"previous_counter,omitempty"`
}

// Provider abstracts TPM operations.
type Provider interface {
	// Available returns true if TPM is available.
	Available() bool

	// DeviceID returns the TPM's unique identifier.
	DeviceID() ([]byte, error)

	// PublicKey returns the TPM's attestation public key.
	PublicKey() (crypto.PublicKey, error)

	// IncrementCounter atomically increments and returns the monotonic counter.
	IncrementCounter() (uint64, error)

	// GetCounter returns the current counter value without incrementing.
	GetCounter() (uint64, error)

	// GetClock returns the current TPM clock info.
	GetClock() (*ClockInfo, error)

	// Quote creates a TPM quote over the given data.
	Quote(data []byte) (*Attestation, error)

	// Manufacturer identifies the TPM/Secure Enclave vendor.
	Manufacturer() string

	// FirmwareVersion identifies the TPM/Secure Enclave firmware revision.
	FirmwareVersion() string

	// Close releases TPM resources.
	Close() error
}

// Binder creates TPM bindings for completed wipe operations.
type Binder struct {
	provider Provider
	lastCounter uint64
}

// NewBinder creates a new TPM binder.
func NewBinder(provider Provider) *Binder {
	return &Binder{
		provider: provider,
	}
}

// Available returns true if TPM binding is available.
func (b *Binder) Available() bool {
	return b.provider != nil && b.provider.Available()
}

// Bind creates a TPM binding for a wipe record, identified by its ledger
// record hash.
func (b *Binder) Bind(recordHash [32]byte) (*Binding, error) {
	if !b.Available() {
		return nil, ErrTPMNotAvailable
	}

	// Get attestation
	attestation, err := b.provider.Quote(recordHash[:])
	if err != nil {
		return nil, err
	}

	binding := &Binding{
		RecordHash:      recordHash,
		Attestation:     *attestation,
		PreviousCounter: b.lastCounter,
	}

	b.lastCounter = attestation.MonotonicCounter
	return binding, nil
}

// Sentinel errors returned by VerifyBinding and VerifyBindingChain.
var (
	ErrCounterRollback  = errors.New("tpm: monotonic counter not strictly increasing")
	ErrUnsafeClock      = errors.New("tpm: clock is not in safe state")
	ErrInvalidSignature = errors.New("tpm: missing or invalid signature")
	ErrDataTooShort     = errors.New("tpm: attestation data too short")
	ErrRecordMismatch   = errors.New("tpm: attestation does not match wipe record")
)

// VerifyBinding checks a TPM binding.
func VerifyBinding(binding *Binding, trustedKeys [][]byte) error {
	// Verify counter is strictly increasing
	if binding.Attestation.MonotonicCounter <= binding.PreviousCounter {
		return ErrCounterRollback
	}

	// Verify clock is safe
	if !binding.Attestation.ClockInfo.Safe {
		return ErrUnsafeClock
	}

	// Verify signature against trusted keys
	// (This would verify the TPM quote signature in a real implementation)
	if len(binding.Attestation.Signature) == 0 {
		return ErrInvalidSignature
	}

	// Verify the attestation covers the wipe record hash
	if len(binding.Attestation.Data) < 32 {
		return ErrDataTooShort
	}

	var attestedHash [32]byte
	copy(attestedHash[:], binding.Attestation.Data[:32])
	if attestedHash != binding.RecordHash {
		return ErrRecordMismatch
	}

	return nil
}

// VerifyBindingChain verifies a sequence of bindings in order, checking
// each binding individually and that each one's PreviousCounter matches
// the counter recorded by the binding before it.
func VerifyBindingChain(bindings []Binding, trustedKeys [][]byte) error {
	for i := range bindings {
		if err := VerifyBinding(&bindings[i], trustedKeys); err != nil {
			return fmt.Errorf("binding %d: %w", i, err)
		}
		if i > 0 && bindings[i].PreviousCounter != bindings[i-1].Attestation.MonotonicCounter {
			return fmt.Errorf("binding %d: %w", i, ErrCounterRollback)
		}
	}
	return nil
}

// ErrTPMNotAvailable is returned by NoOpProvider's operations and by
// Binder.Bind when no TPM is available.
var ErrTPMNotAvailable = errors.New("tpm: not available")

// ErrTPMAlreadyOpen is returned by Open when a provider is already open.
var ErrTPMAlreadyOpen = errors.New("tpm: already open")

// NoOpProvider is a fallback when no TPM is available.
type NoOpProvider struct{}

func (NoOpProvider) Open() error                          { return ErrTPMNotAvailable }
func (NoOpProvider) Available() bool                      { return false }
func (NoOpProvider) DeviceID() ([]byte, error)             { return nil, ErrTPMNotAvailable }
func (NoOpProvider) PublicKey() (crypto.PublicKey, error) { return nil, ErrTPMNotAvailable }
func (NoOpProvider) IncrementCounter() (uint64, error)    { return 0, ErrTPMNotAvailable }
func (NoOpProvider) GetCounter() (uint64, error)          { return 0, ErrTPMNotAvailable }
func (NoOpProvider) GetClock() (*ClockInfo, error)        { return nil, ErrTPMNotAvailable }
func (NoOpProvider) Quote([]byte) (*Attestation, error)   { return nil, ErrTPMNotAvailable }
func (NoOpProvider) Manufacturer() string                 { return "none" }
func (NoOpProvider) FirmwareVersion() string               { return "none" }
func (NoOpProvider) Close() error                          { return nil }

// SoftwareProvider simulates TPM for testing/development.
// WARNING: Provides no actual security guarantees.
type SoftwareProvider struct {
	deviceID   []byte
	counter    uint64
	startTime  time.Time
	resetCount uint32
	isOpen     bool
}

// NewSoftwareProvider creates a simulated TPM.
func NewSoftwareProvider() *SoftwareProvider {
	id := sha256.Sum256([]byte(time.Now().String()))
	return &SoftwareProvider{
		deviceID:  id[:16],
		counter:   0,
		startTime: time.Now(),
	}
}

// Open marks the provider as in use. The software provider needs no
// real handle, but tracks open state the way hardware providers do.
func (s *SoftwareProvider) Open() error {
	if s.isOpen {
		return ErrTPMAlreadyOpen
	}
	s.isOpen = true
	return nil
}

// Manufacturer reports a fixed identity for the simulated TPM.
func (s *SoftwareProvider) Manufacturer() string { return "Software Simulator" }

// FirmwareVersion reports a fixed version for the simulated TPM.
func (s *SoftwareProvider) FirmwareVersion() string { return "1.0.0-sim" }

func (s *SoftwareProvider) Available() bool { return true }

func (s *SoftwareProvider) DeviceID() ([]byte, error) {
	return s.deviceID, nil
}

func (s *SoftwareProvider) PublicKey() (crypto.PublicKey, error) {
	// Return a dummy public key for simulation
	return nil, nil
}

func (s *SoftwareProvider) IncrementCounter() (uint64, error) {
	return atomic.AddUint64(&s.counter, 1), nil
}

func (s *SoftwareProvider) GetCounter() (uint64, error) {
	return atomic.LoadUint64(&s.counter), nil
}

func (s *SoftwareProvider) GetClock() (*ClockInfo, error) {
	elapsed := time.Since(s.startTime)
	return &ClockInfo{
		Clock:        uint64(elapsed.Milliseconds()),
		ResetCount:   s.resetCount,
		RestartCount: 0,
		Safe:         true,
	}, nil
}

func (s *SoftwareProvider) Quote(data []byte) (*Attestation, error) {
	counter, _ := s.IncrementCounter()
	clockInfo, _ := s.GetClock()

	// Create attestation data
	h := sha256.New()
	h.Write(data)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	h.Write(buf[:])
	sig := h.Sum(nil)

	quoteStruct := sha256.Sum256(append([]byte("saferase-sw-quote"), sig...))
	pcrValues, _ := s.ReadPCRs(DefaultPCRSelection())

	return &Attestation{
		DeviceID:         s.deviceID,
		PublicKey:        nil,
		MonotonicCounter: counter,
		ClockInfo:        *clockInfo,
		Data:             data,
		Signature:        sig, // Simulated "signature"
		Quote:            quoteStruct[:],
		PCRValues:        pcrValues,
		CreatedAt:        time.Now(),
	}, nil
}

// QuoteWithPCRs behaves like Quote but also reports simulated PCR values
// for the requested indices.
func (s *SoftwareProvider) QuoteWithPCRs(data []byte, pcrs PCRSelection) (*Attestation, error) {
	att, err := s.Quote(data)
	if err != nil {
		return nil, err
	}
	att.PCRValues, _ = s.ReadPCRs(pcrs)
	return att, nil
}

// ReadPCRs returns simulated, deterministic PCR values derived from the
// provider's device ID. WARNING: provides no actual security guarantees.
func (s *SoftwareProvider) ReadPCRs(pcrs PCRSelection) (map[int][]byte, error) {
	values := make(map[int][]byte, len(pcrs.PCRs))
	for _, idx := range pcrs.PCRs {
		h := sha256.Sum256(append([]byte{byte(idx)}, s.deviceID...))
		values[idx] = h[:]
	}
	return values, nil
}

// SealKey seals data with AES-GCM under a key derived from the
// provider's device ID and PCR selection. WARNING: the software
// provider has no hardware-protected key store, so this provides no
// real security guarantees; it exists for development and for
// platforms without a TPM or Secure Enclave.
func (s *SoftwareProvider) SealKey(data []byte, pcrs PCRSelection) ([]byte, error) {
	key := softwareSealKey(s.deviceID, pcrs)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tpm: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tpm: create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("tpm: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, data, nil)
	sealed := make([]byte, len(nonce)+len(ciphertext))
	copy(sealed, nonce)
	copy(sealed[len(nonce):], ciphertext)
	return sealed, nil
}

// UnsealKey reverses SealKey. The software provider has no platform
// state to bind to, so it re-derives the same key used to seal under
// the default PCR selection.
func (s *SoftwareProvider) UnsealKey(sealed []byte) ([]byte, error) {
	key := softwareSealKey(s.deviceID, DefaultPCRSelection())
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tpm: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tpm: create gcm: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("tpm: sealed data too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func softwareSealKey(deviceID []byte, pcrs PCRSelection) []byte {
	h := sha256.New()
	h.Write(deviceID)
	h.Write([]byte{byte(pcrs.Hash), byte(len(pcrs.PCRs))})
	return h.Sum(nil)
}

func (s *SoftwareProvider) Close() error {
	s.isOpen = false
	return nil
}

// DetectTPM attempts to detect and open a platform TPM (or, on macOS, a
// Secure Enclave). It falls back to NoOpProvider when no hardware is
// present or openable.
func DetectTPM() Provider {
	if hw := detectHardwareTPM(); hw != nil {
		return hw
	}
	return NoOpProvider{}
}

// Encode serializes a binding to JSON.
func (b *Binding) Encode() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// DecodeBinding deserializes a binding from JSON.
func DecodeBinding(data []byte) (*Binding, error) {
	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

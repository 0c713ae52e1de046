package deviceport

import (
	"context"
	"sync"

	"saferase/internal/errs"
)

// Simulated is an in-memory Port backed by a byte slice, used by tests,
// dry runs, and demonstration CLI invocations where touching real block
// devices would be destructive or unavailable.
type Simulated struct {
	mu           sync.Mutex
	desc         Descriptor
	caps         Capabilities
	data         []byte
	hpaPresent   bool
	dcoPresent   bool
	closed       bool
}

// NewSimulated builds a Simulated device of the given size, pre-filled
// with data (or zeros if data is nil/shorter than size).
func NewSimulated(desc Descriptor, caps Capabilities, data []byte) *Simulated {
	buf := make([]byte, desc.Size)
	copy(buf, data)
	return &Simulated{desc: desc, caps: caps, data: buf}
}

// WithHPA marks the simulated device as reporting a Host Protected Area.
func (s *Simulated) WithHPA(present bool) *Simulated {
	s.hpaPresent = present
	return s
}

// WithDCO marks the simulated device as reporting a Device Configuration
// Overlay.
func (s *Simulated) WithDCO(present bool) *Simulated {
	s.dcoPresent = present
	return s
}

func (s *Simulated) Descriptor(ctx context.Context) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc, nil
}

func (s *Simulated) Capabilities(ctx context.Context) (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps, nil
}

func (s *Simulated) WriteAt(ctx context.Context, offset int64, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errs.Device("simulated.WriteAt", errs.ErrDeviceBusy)
	}
	if offset < 0 || offset >= int64(len(s.data)) {
		return 0, errs.IOFS("simulated.WriteAt", errs.ErrUnsupported)
	}
	n := copy(s.data[offset:], data)
	return n, nil
}

func (s *Simulated) ReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errs.Device("simulated.ReadAt", errs.ErrDeviceBusy)
	}
	if offset < 0 || offset >= int64(len(s.data)) {
		return 0, errs.IOFS("simulated.ReadAt", errs.ErrUnsupported)
	}
	n := copy(buf, s.data[offset:])
	return n, nil
}

func (s *Simulated) Flush(ctx context.Context) error { return nil }

// ATASecureErase simulates a hardware erase by zeroing the backing buffer.
func (s *Simulated) ATASecureErase(ctx context.Context, enhanced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.caps.SupportsATASecureErase {
		return errs.Device("simulated.ATASecureErase", errs.ErrUnsupported)
	}
	for i := range s.data {
		s.data[i] = 0
	}
	return nil
}

// NVMeFormat simulates a hardware format by zeroing the backing buffer.
func (s *Simulated) NVMeFormat(ctx context.Context, secureErase bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.caps.SupportsNVMeFormat {
		return errs.Device("simulated.NVMeFormat", errs.ErrUnsupported)
	}
	for i := range s.data {
		s.data[i] = 0
	}
	return nil
}

func (s *Simulated) DetectAndClearHPA(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := s.hpaPresent
	s.hpaPresent = false
	return found, nil
}

func (s *Simulated) DetectAndClearDCO(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := s.dcoPresent
	s.dcoPresent = false
	return found, nil
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Snapshot returns a copy of the simulated device's current contents, for
// assertions in tests that exercise the wipe and verification engines
// end-to-end against a Simulated backend.
func (s *Simulated) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

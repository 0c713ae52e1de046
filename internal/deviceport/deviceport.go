// Package deviceport defines the storage-device contract SafeErase wipes
// against, plus an in-memory Simulated backend used by tests and dry runs.
// Real backends (see linux.go) implement the same Port interface.
package deviceport

import (
	"context"
	"fmt"
)

// DeviceType classifies the physical medium behind a device.
type DeviceType int

const (
	TypeHDD DeviceType = iota
	TypeSSD
	TypeNVMe
	TypeEMMC
	TypeSD
	TypeUSB
	TypeUnknown
)

func (t DeviceType) String() string {
	switch t {
	case TypeHDD:
		return "Hard Disk Drive"
	case TypeSSD:
		return "Solid State Drive"
	case TypeNVMe:
		return "NVMe SSD"
	case TypeEMMC:
		return "eMMC Storage"
	case TypeSD:
		return "SD Card"
	case TypeUSB:
		return "USB Storage"
	default:
		return "Unknown"
	}
}

// Interface identifies the storage bus a device is attached through.
type Interface int

const (
	InterfaceSATA Interface = iota
	InterfaceNVMe
	InterfaceUSB
	InterfaceSCSI
	InterfaceIDE
	InterfaceMMC
	InterfaceUnknown
)

func (i Interface) String() string {
	switch i {
	case InterfaceSATA:
		return "SATA"
	case InterfaceNVMe:
		return "NVMe"
	case InterfaceUSB:
		return "USB"
	case InterfaceSCSI:
		return "SCSI"
	case InterfaceIDE:
		return "IDE"
	case InterfaceMMC:
		return "MMC"
	default:
		return "Unknown"
	}
}

// HealthStatus summarizes SMART-derived device health.
type HealthStatus int

const (
	HealthGood HealthStatus = iota
	HealthWarning
	HealthCritical
	HealthUnknown
)

func (h HealthStatus) String() string {
	switch h {
	case HealthGood:
		return "Good"
	case HealthWarning:
		return "Warning"
	case HealthCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Descriptor is everything SafeErase knows about a device before opening it.
type Descriptor struct {
	Path                string
	Name                string
	Model               string
	Serial              string
	Size                uint64
	DeviceType          DeviceType
	Interface           Interface
	IsRemovable         bool
	IsSystemDisk        bool
	SupportsSecureErase bool
	SupportsHPADCO      bool
	FirmwareVersion     string
	Temperature         *int
	Health              HealthStatus
}

// SmartInfo is the SMART subset SafeErase records in device descriptors.
type SmartInfo struct {
	Temperature        *int
	Health             HealthStatus
	PowerOnHours       *uint64
	PowerCycleCount    *uint64
	ReallocatedSectors *uint64
	PendingSectors     *uint64
}

// Capabilities describes which wipe operations a device supports.
type Capabilities struct {
	SupportsATASecureErase bool
	SupportsNVMeFormat     bool
	SupportsTrim           bool
	SupportsWriteSame      bool
	SupportsHPADetection   bool
	SupportsDCODetection   bool
	MaxLBA                 uint64
	LogicalSectorSize      uint32
	PhysicalSectorSize     uint32
}

// Port is the contract every SafeErase storage backend implements: raw
// sector I/O, hardware erase commands, and HPA/DCO management. Backends
// that can't support a given operation return errs.ErrUnsupported rather
// than faking success.
type Port interface {
	// Descriptor returns the device's static and SMART-derived metadata.
	Descriptor(ctx context.Context) (Descriptor, error)
	// Capabilities returns which wipe operations this device supports.
	Capabilities(ctx context.Context) (Capabilities, error)
	// WriteAt writes data at the given logical byte offset.
	WriteAt(ctx context.Context, offset int64, data []byte) (int, error)
	// ReadAt reads into buf starting at the given logical byte offset.
	ReadAt(ctx context.Context, offset int64, buf []byte) (int, error)
	// Flush forces any buffered writes to stable storage.
	Flush(ctx context.Context) error
	// ATASecureErase issues an ATA Secure Erase command.
	ATASecureErase(ctx context.Context, enhanced bool) error
	// NVMeFormat issues an NVMe Format command with crypto erase.
	NVMeFormat(ctx context.Context, secureErase bool) error
	// DetectAndClearHPA detects and removes a Host Protected Area,
	// reporting whether one was found and cleared.
	DetectAndClearHPA(ctx context.Context) (bool, error)
	// DetectAndClearDCO detects and removes a Device Configuration
	// Overlay, reporting whether one was found and cleared.
	DetectAndClearDCO(ctx context.Context) (bool, error)
	// Close releases the underlying device handle.
	Close() error
}

// Filter narrows a Descriptor list down to devices safe and eligible for
// wiping, mirroring the inclusion rules SafeErase enforces before any
// destructive operation is allowed to proceed.
type Filter struct {
	IncludeSystem    bool
	IncludeRemovable bool
	MinSize          uint64
}

// FilterDevices applies f to devices, in place order.
func FilterDevices(devices []Descriptor, f Filter) []Descriptor {
	out := make([]Descriptor, 0, len(devices))
	for _, d := range devices {
		if !f.IncludeSystem && d.IsSystemDisk {
			continue
		}
		if !f.IncludeRemovable && d.IsRemovable {
			continue
		}
		if f.MinSize > 0 && d.Size < f.MinSize {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Enumerator discovers the devices available to wipe on the host.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]string, error)
	Open(ctx context.Context, path string) (Port, error)
}

// EnumerateDescriptors discovers every device an Enumerator reports and
// opens each in turn to read its descriptor, skipping (and reporting via
// onSkip, if non-nil) any device that fails to open rather than aborting
// the whole discovery pass.
func EnumerateDescriptors(ctx context.Context, e Enumerator, onSkip func(path string, err error)) ([]Descriptor, error) {
	paths, err := e.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("deviceport: enumerate devices: %w", err)
	}
	descriptors := make([]Descriptor, 0, len(paths))
	for _, path := range paths {
		port, err := e.Open(ctx, path)
		if err != nil {
			if onSkip != nil {
				onSkip(path, err)
			}
			continue
		}
		desc, err := port.Descriptor(ctx)
		closeErr := port.Close()
		if err != nil {
			if onSkip != nil {
				onSkip(path, err)
			}
			continue
		}
		if closeErr != nil && onSkip != nil {
			onSkip(path, closeErr)
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

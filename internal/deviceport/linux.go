//go:build linux

package deviceport

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/disk"
	"golang.org/x/sys/unix"

	"saferase/internal/errs"
)

// LinuxFile opens a raw block device node (/dev/sdX, /dev/nvmeXnY) via
// O_DIRECT-free os.File and queries it through Linux block-device ioctls.
// Hardware secure-erase and HPA/DCO management need vendor-specific ATA/NVMe
// passthrough commands this backend does not implement; those operations
// return errs.ErrUnsupported rather than silently no-opping, so a hardware
// erase dispatched to this backend ends the wipe as Failed.
type LinuxFile struct {
	path string
	f    *os.File
}

// OpenLinuxFile opens path for raw read/write access. The caller must hold
// sufficient privileges (CAP_SYS_ADMIN-equivalent) to open block devices.
func OpenLinuxFile(path string) (*LinuxFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errs.Device("deviceport.OpenLinuxFile", errs.ErrDeviceAccessDenied)
		}
		if os.IsNotExist(err) {
			return nil, errs.Device("deviceport.OpenLinuxFile", errs.ErrDeviceNotFound)
		}
		return nil, errs.IOFS("deviceport.OpenLinuxFile", err)
	}
	return &LinuxFile{path: path, f: f}, nil
}

func (l *LinuxFile) Descriptor(ctx context.Context) (Descriptor, error) {
	size, err := l.blockSize()
	if err != nil {
		return Descriptor{}, err
	}
	systemDisk, err := isSystemDisk(l.path)
	if err != nil {
		systemDisk = true // fail closed: unknown means treat as system disk
	}
	return Descriptor{
		Path:         l.path,
		Name:         filepath.Base(l.path),
		DeviceType:   classifyPath(l.path),
		Interface:    InterfaceUnknown,
		Size:         size,
		IsRemovable:  isRemovable(l.path),
		IsSystemDisk: systemDisk,
		Health:       HealthUnknown,
	}, nil
}

func (l *LinuxFile) Capabilities(ctx context.Context) (Capabilities, error) {
	logical, physical, err := l.sectorSizes()
	if err != nil {
		return Capabilities{}, err
	}
	size, err := l.blockSize()
	if err != nil {
		return Capabilities{}, err
	}
	maxLBA := uint64(0)
	if logical > 0 {
		maxLBA = size / uint64(logical)
	}
	return Capabilities{
		LogicalSectorSize:  logical,
		PhysicalSectorSize: physical,
		MaxLBA:             maxLBA,
	}, nil
}

func (l *LinuxFile) WriteAt(ctx context.Context, offset int64, data []byte) (int, error) {
	n, err := l.f.WriteAt(data, offset)
	if err != nil {
		return n, errs.IOFS("deviceport.LinuxFile.WriteAt", err)
	}
	return n, nil
}

func (l *LinuxFile) ReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	n, err := l.f.ReadAt(buf, offset)
	if err != nil {
		return n, errs.IOFS("deviceport.LinuxFile.ReadAt", err)
	}
	return n, nil
}

func (l *LinuxFile) Flush(ctx context.Context) error {
	if err := l.f.Sync(); err != nil {
		return errs.IOFS("deviceport.LinuxFile.Flush", err)
	}
	return nil
}

func (l *LinuxFile) ATASecureErase(ctx context.Context, enhanced bool) error {
	return errs.Device("deviceport.LinuxFile.ATASecureErase", errs.ErrUnsupported)
}

func (l *LinuxFile) NVMeFormat(ctx context.Context, secureErase bool) error {
	return errs.Device("deviceport.LinuxFile.NVMeFormat", errs.ErrUnsupported)
}

func (l *LinuxFile) DetectAndClearHPA(ctx context.Context) (bool, error) {
	return false, errs.Device("deviceport.LinuxFile.DetectAndClearHPA", errs.ErrUnsupported)
}

func (l *LinuxFile) DetectAndClearDCO(ctx context.Context) (bool, error) {
	return false, errs.Device("deviceport.LinuxFile.DetectAndClearDCO", errs.ErrUnsupported)
}

func (l *LinuxFile) Close() error {
	if err := l.f.Close(); err != nil {
		return errs.IOFS("deviceport.LinuxFile.Close", err)
	}
	return nil
}

func (l *LinuxFile) blockSize() (uint64, error) {
	size, err := unix.IoctlGetUint64(int(l.f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, errs.IOFS("deviceport.LinuxFile.blockSize", fmt.Errorf("BLKGETSIZE64: %w", err))
	}
	return size, nil
}

func (l *LinuxFile) sectorSizes() (logical, physical uint32, err error) {
	logical32, lerr := unix.IoctlGetInt(int(l.f.Fd()), unix.BLKSSZGET)
	if lerr != nil {
		return 0, 0, errs.IOFS("deviceport.LinuxFile.sectorSizes", fmt.Errorf("BLKSSZGET: %w", lerr))
	}
	physical32, perr := unix.IoctlGetUint32(int(l.f.Fd()), unix.BLKPBSZGET)
	if perr != nil {
		// Not every kernel/device exposes physical sector size; fall
		// back to the logical size rather than failing the whole call.
		physical32 = uint32(logical32)
	}
	return uint32(logical32), physical32, nil
}

func classifyPath(path string) DeviceType {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "nvme"):
		return TypeNVMe
	case strings.HasPrefix(base, "mmcblk"):
		return TypeEMMC
	case strings.HasPrefix(base, "sd"):
		return TypeSSD
	default:
		return TypeUnknown
	}
}

func isRemovable(path string) bool {
	base := filepath.Base(path)
	removableFile := fmt.Sprintf("/sys/block/%s/removable", strings.TrimRight(base, "0123456789"))
	data, err := os.ReadFile(removableFile)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// isSystemDisk reports whether path backs the root filesystem, consulting
// gopsutil's mount-point enumeration rather than hand-parsing /proc/mounts.
func isSystemDisk(path string) (bool, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return false, errs.System("deviceport.isSystemDisk", err)
	}
	base := filepath.Base(path)
	for _, p := range partitions {
		if p.Mountpoint != "/" {
			continue
		}
		if strings.HasPrefix(filepath.Base(p.Device), base) {
			return true, nil
		}
	}
	return false, nil
}

// LinuxEnumerator discovers and opens block devices on the local host.
type LinuxEnumerator struct{}

func (LinuxEnumerator) Enumerate(ctx context.Context) ([]string, error) {
	return EnumerateBlockDevices()
}

func (LinuxEnumerator) Open(ctx context.Context, path string) (Port, error) {
	return OpenLinuxFile(path)
}

// EnumerateBlockDevices lists /sys/block entries that look like whole-disk
// device nodes (excluding loop, ram and dm- pseudo-devices).
func EnumerateBlockDevices() ([]string, error) {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return nil, errs.System("deviceport.EnumerateBlockDevices", err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") || strings.HasPrefix(name, "dm-") {
			continue
		}
		paths = append(paths, filepath.Join("/dev", name))
	}
	return paths, nil
}

// readSysAttr reads a single-line /sys attribute file, trimming whitespace.
func readSysAttr(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", scanner.Err()
}

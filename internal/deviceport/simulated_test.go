package deviceport

import (
	"context"
	"testing"
)

func TestSimulatedWriteReadRoundtrip(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(Descriptor{Path: "/dev/sim0", Size: 16}, Capabilities{}, nil)

	if _, err := sim.WriteAt(ctx, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := sim.ReadAt(ctx, 0, buf); err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("roundtrip mismatch at %d: got %v want %v", i, buf, want)
		}
	}
}

func TestSimulatedHPADCODetection(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(Descriptor{Path: "/dev/sim0", Size: 16}, Capabilities{}, nil).WithHPA(true).WithDCO(true)

	found, err := sim.DetectAndClearHPA(ctx)
	if err != nil || !found {
		t.Fatalf("expected HPA detected, got found=%v err=%v", found, err)
	}
	found, err = sim.DetectAndClearHPA(ctx)
	if err != nil || found {
		t.Fatalf("expected HPA cleared on second call, got found=%v err=%v", found, err)
	}

	found, err = sim.DetectAndClearDCO(ctx)
	if err != nil || !found {
		t.Fatalf("expected DCO detected, got found=%v err=%v", found, err)
	}
}

func TestFilterDevicesExcludesSystemDisk(t *testing.T) {
	devices := []Descriptor{
		{Path: "/dev/sda", IsSystemDisk: true, Size: 1_000_000_000},
		{Path: "/dev/sdb", IsSystemDisk: false, Size: 1_000_000_000},
	}
	filtered := FilterDevices(devices, Filter{IncludeSystem: false, IncludeRemovable: true})
	if len(filtered) != 1 || filtered[0].Path != "/dev/sdb" {
		t.Fatalf("expected system disk filtered out, got %+v", filtered)
	}

	filtered = FilterDevices(devices, Filter{IncludeSystem: true, IncludeRemovable: true})
	if len(filtered) != 2 {
		t.Fatalf("expected both devices included, got %+v", filtered)
	}
}

func TestDeviceTypeDisplay(t *testing.T) {
	if TypeSSD.String() != "Solid State Drive" {
		t.Errorf("unexpected SSD display: %s", TypeSSD.String())
	}
	if TypeHDD.String() != "Hard Disk Drive" {
		t.Errorf("unexpected HDD display: %s", TypeHDD.String())
	}
}

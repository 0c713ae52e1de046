package wipe

import (
	"context"
	"testing"
	"time"

	"saferase/internal/algorithms"
	"saferase/internal/deviceport"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.VerificationSamples = 20
	opts.BlockSize = 4096
	opts.OperationTimeout = 0
	return opts
}

func TestWipeDeviceZeroFillCompletes(t *testing.T) {
	ctx := context.Background()
	size := uint64(4096 * 200)
	data := make([]byte, size)
	for i := range data {
		data[i] = 0x42
	}
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sim0", Size: size}, deviceport.Capabilities{LogicalSectorSize: 512}, data)

	engine := NewEngine(nil)
	result, err := engine.WipeDevice(ctx, sim, algorithms.ZeroFill, testOptions())
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %v (error: %s)", result.Status, result.ErrorMessage)
	}
	// P1: passes_completed must equal the algorithm's pass count.
	if result.PassesCompleted != 1 {
		t.Errorf("expected 1 pass for ZeroFill, got %d", result.PassesCompleted)
	}
	if result.BytesWiped != size {
		t.Errorf("expected %d bytes wiped, got %d", size, result.BytesWiped)
	}

	// P2: completed_at must not precede started_at, and duration must be
	// consistent with the two timestamps.
	if result.CompletedAt == nil || result.CompletedAt.Before(result.StartedAt) {
		t.Fatalf("completed_at must not precede started_at")
	}
	if result.Duration == nil || *result.Duration < 0 {
		t.Fatalf("duration must be non-negative")
	}

	snapshot := sim.Snapshot()
	for i, b := range snapshot {
		if b != 0 {
			t.Fatalf("expected device zeroed after ZeroFill, found non-zero byte at %d", i)
		}
	}

	if result.VerificationPassed == nil || !*result.VerificationPassed {
		t.Fatalf("expected verification to pass for a true zero-fill")
	}
}

func TestWipeDeviceDoDThreePasses(t *testing.T) {
	ctx := context.Background()
	size := uint64(4096 * 300)
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sim1", Size: size}, deviceport.Capabilities{LogicalSectorSize: 512}, nil)

	engine := NewEngine(nil)
	opts := testOptions()
	opts.VerifyWipe = false
	result, err := engine.WipeDevice(ctx, sim, algorithms.DoD522022M, opts)
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %v (error: %s)", result.Status, result.ErrorMessage)
	}
	if result.PassesCompleted != 3 {
		t.Errorf("expected 3 passes for DoD 5220.22-M, got %d", result.PassesCompleted)
	}
}

func TestWipeDeviceRefusesSystemDisk(t *testing.T) {
	ctx := context.Background()
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sda", Size: 4096 * 10, IsSystemDisk: true}, deviceport.Capabilities{}, nil)

	engine := NewEngine(nil)
	_, err := engine.WipeDevice(ctx, sim, algorithms.ZeroFill, testOptions())
	if err == nil {
		t.Fatal("expected an error refusing to wipe the system disk")
	}
}

func TestWipeDeviceClearsHPADCO(t *testing.T) {
	ctx := context.Background()
	size := uint64(4096 * 50)
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sim2", Size: size, SupportsHPADCO: true}, deviceport.Capabilities{}, nil).WithHPA(true).WithDCO(true)

	engine := NewEngine(nil)
	opts := testOptions()
	opts.VerifyWipe = false
	result, err := engine.WipeDevice(ctx, sim, algorithms.ZeroFill, opts)
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.HPADetected || !result.HPACleared {
		t.Errorf("expected HPA detected and cleared, got detected=%v cleared=%v", result.HPADetected, result.HPACleared)
	}
	if !result.DCODetected || !result.DCOCleared {
		t.Errorf("expected DCO detected and cleared, got detected=%v cleared=%v", result.DCODetected, result.DCOCleared)
	}
}

// TestWipeDeviceCancellationStopsPromptly covers P9: cancelling mid-wipe
// must stop the engine within a small, bounded number of block writes
// rather than running the operation to completion.
func TestWipeDeviceCancellationStopsPromptly(t *testing.T) {
	size := uint64(4096 * 5000)
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sim3", Size: size}, deviceport.Capabilities{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(nil)
	opts := testOptions()
	opts.VerifyWipe = false
	opts.BlockSize = 4096

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	result, err := engine.WipeDevice(ctx, sim, algorithms.ZeroFill, opts)
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("expected Cancelled, got %v", result.Status)
	}
	if result.BytesWiped >= size {
		t.Fatalf("expected the operation to stop before wiping the whole device, wiped %d of %d", result.BytesWiped, size)
	}
}

func TestActiveOperationsRegistry(t *testing.T) {
	engine := NewEngine(nil)
	if ids := engine.GetActiveOperations(); len(ids) != 0 {
		t.Fatalf("expected no active operations initially, got %v", ids)
	}
	if err := engine.CancelOperation("does-not-exist"); err == nil {
		t.Fatal("expected an error cancelling an unknown operation")
	}
}

func TestHardwareWipeDispatchesToATASecureErase(t *testing.T) {
	ctx := context.Background()
	size := uint64(4096 * 10)
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sim4", Size: size, SupportsSecureErase: true}, deviceport.Capabilities{SupportsATASecureErase: true}, nil)

	engine := NewEngine(nil)
	opts := testOptions()
	opts.VerifyWipe = false
	result, err := engine.WipeDevice(ctx, sim, algorithms.ATASecureErase, opts)
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %v (error: %s)", result.Status, result.ErrorMessage)
	}
	if result.PassesCompleted != 1 {
		t.Errorf("expected a single hardware-erase pass, got %d", result.PassesCompleted)
	}
}

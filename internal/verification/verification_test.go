package verification

import (
	"bytes"
	"context"
	"testing"

	"saferase/internal/algorithms"
	"saferase/internal/deviceport"
)

func TestEntropyOfAllZerosIsZero(t *testing.T) {
	data := make([]byte, 4096)
	if got := CalculateEntropy(data); got != 0.0 {
		t.Fatalf("expected entropy 0.0, got %v", got)
	}
}

func TestEntropyOfUniformByteDistributionIsEight(t *testing.T) {
	data := make([]byte, 0, 256*16)
	for b := 0; b < 256; b++ {
		for i := 0; i < 16; i++ {
			data = append(data, byte(b))
		}
	}
	got := CalculateEntropy(data)
	if diff := got - 8.0; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected entropy exactly 8.0, got %v", got)
	}
}

func TestEntropyOfRandomDataConvergesAboveThreshold(t *testing.T) {
	pattern, err := algorithms.RandomPattern().Generate(4096, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := CalculateEntropy(pattern)
	if got <= 7.5 {
		t.Fatalf("expected high entropy for random data, got %v", got)
	}
}

func TestPatternClassification(t *testing.T) {
	e := NewEngine()

	zeros := make([]byte, 100)
	if a := e.analyzeSector(zeros, 0); a.PatternType != PatternAllZeros {
		t.Errorf("expected AllZeros, got %v", a.PatternType)
	}

	ones := bytes.Repeat([]byte{0xFF}, 100)
	if a := e.analyzeSector(ones, 0); a.PatternType != PatternAllOnes {
		t.Errorf("expected AllOnes, got %v", a.PatternType)
	}

	repeating := bytes.Repeat([]byte{0xAA, 0xBB}, 50)
	if a := e.analyzeSector(repeating, 0); a.PatternType != PatternRepeating {
		t.Errorf("expected Repeating, got %v", a.PatternType)
	}
}

func TestVerifyZeroFillPasses(t *testing.T) {
	ctx := context.Background()
	size := uint64(4096 * 200)
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sim0", Size: size}, deviceport.Capabilities{LogicalSectorSize: 512}, nil)

	e := NewEngine()
	vt := TypeCustom
	result, err := e.Verify(ctx, sim, algorithms.ZeroFill, Options{Type: &vt, SampleCount: 50})
	if err != nil {
		t.Fatal(err)
	}
	if result.SamplesTested != 50 {
		t.Fatalf("expected 50 samples tested, got %d", result.SamplesTested)
	}
	if result.SamplesPassed > result.SamplesTested {
		t.Fatalf("samples_passed %d must not exceed samples_tested %d", result.SamplesPassed, result.SamplesTested)
	}
	if result.Verdict != StatusPassed {
		t.Fatalf("expected Passed verdict for an all-zero device after ZeroFill, got %v", result.Verdict)
	}
}

func TestSuccessRateInvariant(t *testing.T) {
	ctx := context.Background()
	size := uint64(4096 * 500)
	data := make([]byte, size)
	sim := deviceport.NewSimulated(deviceport.Descriptor{Path: "/dev/sim0", Size: size}, deviceport.Capabilities{LogicalSectorSize: 512}, data)

	e := NewEngine()
	result, err := e.Verify(ctx, sim, algorithms.ZeroFill, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.SamplesPassed > result.SamplesTested {
		t.Fatalf("P8 violated: samples_passed %d > samples_tested %d", result.SamplesPassed, result.SamplesTested)
	}
	computed := float64(result.SamplesPassed) / float64(result.SamplesTested)
	diff := computed - result.SuccessRate
	if diff < 0 {
		diff = -diff
	}
	if diff > 0.01 {
		t.Fatalf("P8 violated: |computed - stored| = %v > 0.01", diff)
	}
}

func TestDetermineVerificationType(t *testing.T) {
	e := NewEngine()
	const gib = 1024 * 1024 * 1024
	if got := e.DetermineType(50*gib, algorithms.ZeroFill); got != TypeComprehensive {
		t.Errorf("expected Comprehensive for small device, got %v", got)
	}
	if got := e.DetermineType(200*gib, algorithms.Gutmann); got != TypeStandard {
		t.Errorf("expected Standard for high-security large device, got %v", got)
	}
	if got := e.DetermineType(200*gib, algorithms.ZeroFill); got != TypeQuick {
		t.Errorf("expected Quick for basic large device, got %v", got)
	}
}

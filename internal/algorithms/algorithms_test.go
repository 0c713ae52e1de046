package algorithms

import "testing"

func TestAlgorithmInfo(t *testing.T) {
	info := NIST80088.Info(nil)
	if info.Name != "NIST 800-88" {
		t.Errorf("expected name NIST 800-88, got %s", info.Name)
	}
	if info.Passes != 1 {
		t.Errorf("expected 1 pass, got %d", info.Passes)
	}
	if info.SecurityLevel != SecurityStandard {
		t.Errorf("expected Standard security level, got %v", info.SecurityLevel)
	}
}

func TestDoDPatterns(t *testing.T) {
	patterns := DoD522022M.Patterns(nil)
	if len(patterns) != 3 {
		t.Fatalf("expected 3 passes, got %d", len(patterns))
	}
	if patterns[0].Kind != PatternZeros || patterns[1].Kind != PatternOnes || patterns[2].Kind != PatternRandom {
		t.Errorf("unexpected DoD pass order: %+v", patterns)
	}
}

func TestGutmannHas35Passes(t *testing.T) {
	patterns := Gutmann.Patterns(nil)
	if len(patterns) != 35 {
		t.Fatalf("expected 35 passes, got %d", len(patterns))
	}
	if patterns[0].Kind != PatternRandom || patterns[34].Kind != PatternRandom {
		t.Errorf("expected leading and trailing random passes")
	}
	if patterns[9].Kind != PatternZeros {
		t.Errorf("expected zeros pass at index 9, got %+v", patterns[9])
	}
	if patterns[24].Kind != PatternOnes {
		t.Errorf("expected ones pass at index 24, got %+v", patterns[24])
	}
}

func TestPatternGeneration(t *testing.T) {
	data, err := Zeros().Generate(10, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range data {
		if b != 0 {
			t.Fatalf("expected all zero bytes, got %v", data)
		}
	}

	data, err = Ones().Generate(5, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range data {
		if b != 0xFF {
			t.Fatalf("expected all 0xFF bytes, got %v", data)
		}
	}

	data, err = FixedByte(0xAA).Generate(3, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range data {
		if b != 0xAA {
			t.Fatalf("expected all 0xAA bytes, got %v", data)
		}
	}
}

func TestComplementPattern(t *testing.T) {
	original := []byte{0x00, 0xFF, 0xAA, 0x55}
	data, err := Complement().Generate(4, original)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xFF, 0x00, 0x55, 0xAA}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("complement mismatch at %d: got %x want %x", i, data[i], want[i])
		}
	}
}

func TestComplementWithNoPreviousDefaultsToOnes(t *testing.T) {
	data, err := Complement().Generate(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range data {
		if b != 0xFF {
			t.Fatalf("expected default-to-ones complement, got %x", data)
		}
	}
}

func TestRepeatingPattern(t *testing.T) {
	data, err := Repeating([]byte{0x12, 0x34}).Generate(6, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x12, 0x34, 0x12, 0x34, 0x12, 0x34}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("repeating pattern mismatch at %d", i)
		}
	}
}

func TestHardwareBasedDetection(t *testing.T) {
	if !ATASecureErase.IsHardwareBased() {
		t.Error("expected ATASecureErase to be hardware based")
	}
	if !NVMeFormat.IsHardwareBased() {
		t.Error("expected NVMeFormat to be hardware based")
	}
	if NIST80088.IsHardwareBased() || DoD522022M.IsHardwareBased() {
		t.Error("expected software algorithms to not be hardware based")
	}
}

func TestPseudoRandomIsDeterministic(t *testing.T) {
	a, err := PseudoRandom(42).Generate(64, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := PseudoRandom(42).Generate(64, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical output for the same seed, diverged at byte %d", i)
		}
	}
}

func TestPatternHashIsStable(t *testing.T) {
	if Zeros().Hash() != Zeros().Hash() {
		t.Error("expected stable hash for the same pattern")
	}
	if Zeros().Hash() == Ones().Hash() {
		t.Error("expected different hashes for different patterns")
	}
}

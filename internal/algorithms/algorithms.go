// Package algorithms defines the wipe algorithms and per-pass patterns
// SafeErase can execute, along with their compliance metadata.
package algorithms

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Algorithm identifies a named wipe algorithm.
type Algorithm int

const (
	NIST80088 Algorithm = iota
	DoD522022M
	Gutmann
	Random
	ZeroFill
	OneFill
	ATASecureErase
	NVMeFormat
	Custom
)

// SecurityLevel classifies how resistant an algorithm is to data recovery.
type SecurityLevel int

const (
	SecurityBasic SecurityLevel = iota
	SecurityStandard
	SecurityHigh
	SecurityMaximum
)

func (s SecurityLevel) String() string {
	switch s {
	case SecurityBasic:
		return "Basic"
	case SecurityStandard:
		return "Standard"
	case SecurityHigh:
		return "High"
	case SecurityMaximum:
		return "Maximum"
	default:
		return "Unknown"
	}
}

// Info describes an algorithm's compliance and performance characteristics.
type Info struct {
	Name                 string
	Description          string
	Passes               int
	SecurityLevel        SecurityLevel
	ComplianceStandards  []string
	EstimatedTimeFactor  float64 // relative to a single pass over the device
}

// PatternKind identifies the shape of data a Pattern writes for one pass.
type PatternKind int

const (
	PatternZeros PatternKind = iota
	PatternOnes
	PatternFixed
	PatternRandom
	PatternPseudoRandom
	PatternComplement
	PatternRepeating
)

// Pattern is a single overwrite pass. Exactly one of the kind-specific
// fields is meaningful for a given Kind.
type Pattern struct {
	Kind    PatternKind
	Fixed   byte   // PatternFixed
	Seed    uint64 // PatternPseudoRandom
	Bytes   []byte // PatternRepeating
}

func Zeros() Pattern                { return Pattern{Kind: PatternZeros} }
func Ones() Pattern                 { return Pattern{Kind: PatternOnes} }
func FixedByte(b byte) Pattern      { return Pattern{Kind: PatternFixed, Fixed: b} }
func RandomPattern() Pattern        { return Pattern{Kind: PatternRandom} }
func PseudoRandom(seed uint64) Pattern { return Pattern{Kind: PatternPseudoRandom, Seed: seed} }
func Complement() Pattern           { return Pattern{Kind: PatternComplement} }
func Repeating(b []byte) Pattern    { return Pattern{Kind: PatternRepeating, Bytes: append([]byte(nil), b...)} }

// Info returns compliance metadata for a, given its pattern count for
// Custom algorithms (patterns is ignored for every built-in algorithm).
func (a Algorithm) Info(patterns []Pattern) Info {
	switch a {
	case NIST80088:
		return Info{"NIST 800-88", "NIST Special Publication 800-88 - Single pass with verification", 1, SecurityStandard, []string{"NIST 800-88"}, 1.0}
	case DoD522022M:
		return Info{"DoD 5220.22-M", "US Department of Defense - Three-pass overwrite", 3, SecurityHigh, []string{"DoD 5220.22-M"}, 3.0}
	case Gutmann:
		return Info{"Gutmann", "Peter Gutmann's 35-pass algorithm for maximum security", 35, SecurityMaximum, []string{"Academic Research"}, 35.0}
	case Random:
		return Info{"Random", "Single pass with cryptographically secure random data", 1, SecurityStandard, []string{"General Purpose"}, 1.0}
	case ZeroFill:
		return Info{"Zero Fill", "Single pass overwrite with zeros", 1, SecurityBasic, []string{"Basic Sanitization"}, 0.8}
	case OneFill:
		return Info{"One Fill", "Single pass overwrite with ones (0xFF)", 1, SecurityBasic, []string{"Basic Sanitization"}, 0.8}
	case ATASecureErase:
		return Info{"ATA Secure Erase", "Hardware-level secure erase using ATA commands", 1, SecurityHigh, []string{"ATA Standard"}, 0.5}
	case NVMeFormat:
		return Info{"NVMe Format", "NVMe secure format with cryptographic erase", 1, SecurityHigh, []string{"NVMe Standard"}, 0.3}
	case Custom:
		return Info{"Custom", "User-defined wipe pattern", len(patterns), SecurityStandard, []string{"Custom"}, float64(len(patterns))}
	default:
		return Info{}
	}
}

// Patterns returns the ordered per-pass patterns for a. Custom algorithms
// pass their own pattern slice straight through.
func (a Algorithm) Patterns(custom []Pattern) []Pattern {
	switch a {
	case NIST80088, Random:
		return []Pattern{RandomPattern()}
	case DoD522022M:
		return []Pattern{Zeros(), Ones(), RandomPattern()}
	case Gutmann:
		return gutmannPatterns()
	case ZeroFill:
		return []Pattern{Zeros()}
	case OneFill:
		return []Pattern{Ones()}
	case ATASecureErase, NVMeFormat:
		return nil // hardware command, no software passes
	case Custom:
		return custom
	default:
		return nil
	}
}

// IsHardwareBased reports whether a is executed via a firmware command
// rather than software overwrite passes.
func (a Algorithm) IsHardwareBased() bool {
	return a == ATASecureErase || a == NVMeFormat
}

func (a Algorithm) String() string { return a.Info(nil).Name }

// Parse resolves an algorithm by its constant identifier (NIST80088,
// DoD522022M, Gutmann, Random, ZeroFill, OneFill, ATASecureErase,
// NVMeFormat, Custom) or by its display name as returned by String(),
// the two forms accepted in configuration files, on the command line,
// and when round-tripping an algorithm through ledger storage.
func Parse(name string) (Algorithm, error) {
	switch name {
	case "NIST80088", "NIST 800-88":
		return NIST80088, nil
	case "DoD522022M", "DoD 5220.22-M":
		return DoD522022M, nil
	case "Gutmann":
		return Gutmann, nil
	case "Random":
		return Random, nil
	case "ZeroFill", "Zero Fill":
		return ZeroFill, nil
	case "OneFill", "One Fill":
		return OneFill, nil
	case "ATASecureErase", "ATA Secure Erase":
		return ATASecureErase, nil
	case "NVMeFormat", "NVMe Format":
		return NVMeFormat, nil
	case "Custom":
		return Custom, nil
	default:
		return 0, fmt.Errorf("algorithms: unknown algorithm %q", name)
	}
}

// RecommendedForSSD, RecommendedForHDD and RecommendedForNVMe list
// algorithms in priority order for each device class.
func RecommendedForSSD() []Algorithm  { return []Algorithm{ATASecureErase, NIST80088, Random} }
func RecommendedForHDD() []Algorithm  { return []Algorithm{DoD522022M, NIST80088, Gutmann} }
func RecommendedForNVMe() []Algorithm { return []Algorithm{NVMeFormat, NIST80088, Random} }

// gutmannPatterns reproduces Peter Gutmann's 35-pass sequence exactly: four
// leading random passes, 27 passes cycling through the encoding-scheme
// patterns the algorithm targets, and four trailing random passes.
func gutmannPatterns() []Pattern {
	p := []Pattern{RandomPattern(), RandomPattern(), RandomPattern(), RandomPattern()}
	fixed := [][]byte{
		{0x55, 0x55, 0x55},
		{0xAA, 0xAA, 0xAA},
		{0x92, 0x49, 0x24},
		{0x49, 0x24, 0x92},
		{0x24, 0x92, 0x49},
	}
	for _, f := range fixed {
		p = append(p, Repeating(f))
	}
	p = append(p, Zeros())
	for b := byte(0x11); b <= 0xEE; b += 0x11 {
		p = append(p, Repeating([]byte{b, b, b}))
	}
	p = append(p, Ones())
	trailing := [][]byte{
		{0x92, 0x49, 0x24},
		{0x49, 0x24, 0x92},
		{0x24, 0x92, 0x49},
		{0x6D, 0xB6, 0xDB},
		{0xB6, 0xDB, 0x6D},
		{0xDB, 0x6D, 0xB6},
	}
	for _, f := range trailing {
		p = append(p, Repeating(f))
	}
	p = append(p, RandomPattern(), RandomPattern(), RandomPattern(), RandomPattern())
	return p
}

// Generate produces size bytes of pass data for p. previous is the data
// written by the prior pass, consulted only by PatternComplement, which
// returns len(previous) bytes when previous is non-empty.
func (p Pattern) Generate(size int, previous []byte) ([]byte, error) {
	switch p.Kind {
	case PatternZeros:
		return make([]byte, size), nil
	case PatternOnes:
		return fillByte(size, 0xFF), nil
	case PatternFixed:
		return fillByte(size, p.Fixed), nil
	case PatternRandom:
		return randomBytes(size)
	case PatternPseudoRandom:
		return pseudoRandomBytes(size, p.Seed)
	case PatternComplement:
		if len(previous) == 0 {
			return fillByte(size, 0xFF), nil
		}
		out := make([]byte, len(previous))
		for i, b := range previous {
			out[i] = ^b
		}
		return out, nil
	case PatternRepeating:
		if len(p.Bytes) == 0 {
			return nil, fmt.Errorf("algorithms: repeating pattern has no bytes")
		}
		out := make([]byte, size)
		for i := range out {
			out[i] = p.Bytes[i%len(p.Bytes)]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("algorithms: unknown pattern kind %d", p.Kind)
	}
}

func fillByte(size int, b byte) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = b
	}
	return out
}

// randomBytes draws cryptographically secure random data via a ChaCha20
// stream keyed from the OS entropy pool.
func randomBytes(size int) ([]byte, error) {
	key := make([]byte, chacha20.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("algorithms: seed random pattern: %w", err)
	}
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("algorithms: seed random pattern: %w", err)
	}
	return streamBytes(key, nonce, size)
}

// pseudoRandomBytes draws deterministic data from a ChaCha20 stream keyed
// by seed, so the same seed always reproduces the same pass.
func pseudoRandomBytes(size int, seed uint64) ([]byte, error) {
	key := make([]byte, chacha20.KeySize)
	binary.LittleEndian.PutUint64(key, seed)
	nonce := make([]byte, chacha20.NonceSize)
	return streamBytes(key, nonce, size)
}

func streamBytes(key, nonce []byte, size int) ([]byte, error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("algorithms: init chacha20 stream: %w", err)
	}
	out := make([]byte, size)
	cipher.XORKeyStream(out, out)
	return out, nil
}

// Description returns human-readable text for p, used in logs and
// certificate pass summaries.
func (p Pattern) Description() string {
	switch p.Kind {
	case PatternZeros:
		return "Fill with zeros (0x00)"
	case PatternOnes:
		return "Fill with ones (0xFF)"
	case PatternFixed:
		return fmt.Sprintf("Fill with fixed byte (0x%02X)", p.Fixed)
	case PatternRandom:
		return "Fill with cryptographically secure random data"
	case PatternPseudoRandom:
		return fmt.Sprintf("Fill with pseudorandom data (seed: %d)", p.Seed)
	case PatternComplement:
		return "Fill with complement of previous pass"
	case PatternRepeating:
		return fmt.Sprintf("Fill with repeating pattern: % X", p.Bytes)
	default:
		return "unknown pattern"
	}
}

// Hash returns a SHA-256 digest identifying p's tag and payload, used by
// the certificate subsystem to record which pattern a pass used without
// storing the (potentially device-sized) pass data itself.
func (p Pattern) Hash() string {
	h := sha256.New()
	switch p.Kind {
	case PatternZeros:
		h.Write([]byte("zeros"))
	case PatternOnes:
		h.Write([]byte("ones"))
	case PatternFixed:
		h.Write([]byte("fixed"))
		h.Write([]byte{p.Fixed})
	case PatternRandom:
		h.Write([]byte("random"))
	case PatternPseudoRandom:
		h.Write([]byte("pseudorandom"))
		seed := make([]byte, 8)
		binary.LittleEndian.PutUint64(seed, p.Seed)
		h.Write(seed)
	case PatternComplement:
		h.Write([]byte("complement"))
	case PatternRepeating:
		h.Write([]byte("pattern"))
		h.Write(p.Bytes)
	}
	return hex.EncodeToString(h.Sum(nil))
}

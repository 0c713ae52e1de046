// Package verification implements SafeErase's post-wipe statistical
// verification: entropy analysis, pattern classification, and verdict
// determination from sampled device reads.
package verification

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"saferase/internal/algorithms"
	"saferase/internal/deviceport"
	"saferase/internal/errs"
)

const (
	sampleSize              = 4096
	entropyThreshold        = 7.5
	patternDetectionMinSize = 16
)

// Type selects how thoroughly a device is sampled.
type Type int

const (
	TypeQuick Type = iota
	TypeStandard
	TypeComprehensive
	TypeCustom
)

func (t Type) String() string {
	switch t {
	case TypeQuick:
		return "Quick"
	case TypeStandard:
		return "Standard"
	case TypeComprehensive:
		return "Comprehensive"
	case TypeCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Status is the overall verdict of a verification pass.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	StatusWarning
	StatusInconclusive
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "Passed"
	case StatusFailed:
		return "Failed"
	case StatusWarning:
		return "Warning"
	case StatusInconclusive:
		return "Inconclusive"
	default:
		return "Unknown"
	}
}

// PatternType classifies what kind of data a sample looks like.
type PatternType int

const (
	PatternAllZeros PatternType = iota
	PatternAllOnes
	PatternRepeating
	PatternRandom
	PatternSuspicious
	PatternStructured
)

func (p PatternType) String() string {
	switch p {
	case PatternAllZeros:
		return "All Zeros"
	case PatternAllOnes:
		return "All Ones"
	case PatternRepeating:
		return "Repeating"
	case PatternRandom:
		return "Random"
	case PatternSuspicious:
		return "Suspicious"
	case PatternStructured:
		return "Structured"
	default:
		return "Unknown"
	}
}

// SectorAnalysis is the per-sample result of reading and classifying one
// offset on the device.
type SectorAnalysis struct {
	Offset      uint64
	Entropy     float64
	PatternType PatternType
	Confidence  float64
	DataHash    string
	Anomalies   []string
}

// EntropyAnalysis aggregates entropy statistics across every sample.
type EntropyAnalysis struct {
	AverageEntropy    float64
	MinEntropy        float64
	MaxEntropy        float64
	Distribution      map[string]int
	LowEntropySectors []uint64
}

// DetectedPattern summarizes how often a pattern class was observed.
type DetectedPattern struct {
	PatternType PatternType
	Frequency   int
	Confidence  float64
}

// PatternAnalysis aggregates pattern-classification statistics.
type PatternAnalysis struct {
	DetectedPatterns []DetectedPattern
	ZeroSectors      int
	OneSectors       int
	RandomSectors    int
	SuspiciousOffsets []uint64
}

// Result is the outcome of a full verification pass.
type Result struct {
	ID              string
	DevicePath      string
	Type            Type
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	SamplesTested   int
	SamplesPassed   int
	SuccessRate     float64
	Verdict         Status
	Entropy         EntropyAnalysis
	Patterns        PatternAnalysis
	Sectors         []SectorAnalysis
	Recommendations []string
}

// Options customizes a verification pass. A nil Type auto-selects based on
// device size and algorithm security level, matching spec behavior.
type Options struct {
	Type        *Type
	SampleCount int // only consulted when Type is TypeCustom
}

// Engine runs sampling, entropy, and pattern analysis against a device.
type Engine struct {
	entropyThreshold          float64
	patternDetectionThreshold int
}

// NewEngine builds a verification engine with the standard thresholds.
func NewEngine() *Engine {
	return &Engine{entropyThreshold: entropyThreshold, patternDetectionThreshold: patternDetectionMinSize}
}

// DetermineType selects a verification intensity for a device of the given
// size wiped with algo, absent an explicit override.
func (e *Engine) DetermineType(deviceSize uint64, algo algorithms.Algorithm) Type {
	const hundredGiB = 100 * 1024 * 1024 * 1024
	if deviceSize < hundredGiB {
		return TypeComprehensive
	}
	if algo.Info(nil).SecurityLevel >= algorithms.SecurityHigh {
		return TypeStandard
	}
	return TypeQuick
}

// Verify samples port and classifies each sample, producing a Result. algo
// is the wipe algorithm that was used, consulted for type selection and
// sample-acceptance rules.
func (e *Engine) Verify(ctx context.Context, port deviceport.Port, algo algorithms.Algorithm, opts Options) (*Result, error) {
	startedAt := time.Now().UTC()

	desc, err := port.Descriptor(ctx)
	if err != nil {
		return nil, errs.Device("verification.Verify", err)
	}

	vType := TypeQuick
	if opts.Type != nil {
		vType = *opts.Type
	} else {
		vType = e.DetermineType(desc.Size, algo)
	}

	sampleCount := e.sampleCount(vType, desc.Size, opts.SampleCount)
	locations, err := e.sampleLocations(desc.Size, sampleCount, sampleSize, vType)
	if err != nil {
		return nil, errs.Wipe("verification.Verify", errs.SeverityMedium, err)
	}

	sectors := make([]SectorAnalysis, 0, len(locations))
	entropyValues := make([]float64, 0, len(locations))
	patternCounts := make(map[PatternType]int)
	samplesPassed := 0

	buf := make([]byte, sampleSize)
	for _, offset := range locations {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wipe("verification.Verify", errs.SeverityLow, errs.ErrWipeCancelled)
		}
		n, err := port.ReadAt(ctx, int64(offset), buf)
		if err != nil {
			return nil, errs.Device("verification.Verify", err)
		}
		sample := buf[:n]

		analysis := e.analyzeSector(sample, offset)
		entropyValues = append(entropyValues, analysis.Entropy)
		patternCounts[analysis.PatternType]++
		if e.isSampleAcceptable(analysis, algo) {
			samplesPassed++
		}
		sectors = append(sectors, analysis)
	}

	entropyAnalysis := e.analyzeEntropy(entropyValues, sectors)
	patternAnalysis := e.analyzePatterns(patternCounts, sectors)

	successRate := 0.0
	if len(locations) > 0 {
		successRate = float64(samplesPassed) / float64(len(locations))
	}
	verdict := determineVerdict(successRate, patternAnalysis)
	recommendations := generateRecommendations(verdict, entropyAnalysis, patternAnalysis, e.entropyThreshold)

	completedAt := time.Now().UTC()
	return &Result{
		ID:              uuid.NewString(),
		DevicePath:      desc.Path,
		Type:            vType,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		Duration:        completedAt.Sub(startedAt),
		SamplesTested:   len(locations),
		SamplesPassed:   samplesPassed,
		SuccessRate:     successRate,
		Verdict:         verdict,
		Entropy:         entropyAnalysis,
		Patterns:        patternAnalysis,
		Sectors:         sectors,
		Recommendations: recommendations,
	}, nil
}

func (e *Engine) sampleCount(t Type, deviceSize uint64, override int) int {
	switch t {
	case TypeQuick:
		return clampInt(int(deviceSize/(1024*1024*1024)), 10, 100)
	case TypeStandard:
		return clampInt(int(deviceSize/(100*1024*1024)), 100, 1000)
	case TypeComprehensive:
		return clampInt(int(deviceSize/(10*1024*1024)), 1000, 10000)
	case TypeCustom:
		if override > 0 {
			return override
		}
		return 500
	default:
		return 100
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sampleLocations returns ascending byte offsets to read for verification.
func (e *Engine) sampleLocations(deviceSize uint64, sampleCount, size int, t Type) ([]uint64, error) {
	if deviceSize < uint64(size) {
		return nil, fmt.Errorf("verification: device size %d smaller than sample size %d", deviceSize, size)
	}
	maxOffset := deviceSize - uint64(size)
	locations := make([]uint64, 0, sampleCount)

	switch t {
	case TypeQuick, TypeStandard:
		for i := 0; i < sampleCount; i++ {
			off, err := randomOffset(maxOffset)
			if err != nil {
				return nil, err
			}
			locations = append(locations, off)
		}
	case TypeComprehensive:
		systematicCount := sampleCount * 3 / 4
		randomCount := sampleCount - systematicCount
		for i := 0; i < systematicCount; i++ {
			locations = append(locations, evenlySpaced(i, systematicCount, maxOffset))
		}
		for i := 0; i < randomCount; i++ {
			off, err := randomOffset(maxOffset)
			if err != nil {
				return nil, err
			}
			locations = append(locations, off)
		}
	default: // TypeCustom
		for i := 0; i < sampleCount; i++ {
			locations = append(locations, evenlySpaced(i, sampleCount, maxOffset))
		}
	}

	sort.Slice(locations, func(i, j int) bool { return locations[i] < locations[j] })
	return locations, nil
}

func evenlySpaced(i, count int, maxOffset uint64) uint64 {
	if count == 0 {
		return 0
	}
	return uint64(i) * maxOffset / uint64(count)
}

func randomOffset(maxOffset uint64) (uint64, error) {
	if maxOffset == 0 {
		return 0, nil
	}
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(maxOffset+1))
	if err != nil {
		return 0, fmt.Errorf("verification: draw random offset: %w", err)
	}
	return n.Uint64(), nil
}

func (e *Engine) analyzeSector(data []byte, offset uint64) SectorAnalysis {
	entropy := CalculateEntropy(data)
	patternType := e.detectPatternType(data, entropy)
	confidence := confidenceFor(patternType, entropy)

	h := sha256.Sum256(data)
	anomalies := detectAnomalies(data, patternType, entropy, e.entropyThreshold)

	return SectorAnalysis{
		Offset:      offset,
		Entropy:     entropy,
		PatternType: patternType,
		Confidence:  confidence,
		DataHash:    hex.EncodeToString(h[:]),
		Anomalies:   anomalies,
	}
}

// CalculateEntropy computes the Shannon entropy (bits per byte, range
// [0,8]) of data's byte-value histogram.
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	length := float64(len(data))
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

var structuredSignatures = [][]byte{
	[]byte("NTFS"),
	[]byte("FAT32"),
	[]byte("ext2"),
	[]byte("ext3"),
	[]byte("ext4"),
	[]byte("HFS+"),
	[]byte("APFS"),
	{0x55, 0xAA},
}

func (e *Engine) detectPatternType(data []byte, entropy float64) PatternType {
	if allBytesEqual(data, 0x00) {
		return PatternAllZeros
	}
	if allBytesEqual(data, 0xFF) {
		return PatternAllOnes
	}
	if e.hasRepeatingPattern(data) {
		return PatternRepeating
	}
	if entropy > e.entropyThreshold {
		return PatternRandom
	}
	if hasStructuredData(data) {
		return PatternSuspicious
	}
	return PatternStructured
}

func allBytesEqual(data []byte, b byte) bool {
	for _, v := range data {
		if v != b {
			return false
		}
	}
	return true
}

// hasRepeatingPattern checks chunk lengths 1..min(len/4, 64) for a chunk
// that recurs across more than half of the data's aligned chunks.
func (e *Engine) hasRepeatingPattern(data []byte) bool {
	if len(data) < e.patternDetectionThreshold {
		return false
	}
	maxLen := len(data) / 4
	if maxLen > 64 {
		maxLen = 64
	}
	for patternLen := 1; patternLen <= maxLen; patternLen++ {
		pattern := data[:patternLen]
		matches := 0
		total := 0
		for i := 0; i+patternLen <= len(data); i += patternLen {
			total++
			if bytes.Equal(data[i:i+patternLen], pattern) {
				matches++
			}
		}
		if total > 0 && matches > total/2 {
			return true
		}
	}
	return false
}

func hasStructuredData(data []byte) bool {
	for _, sig := range structuredSignatures {
		if bytes.Contains(data, sig) {
			return true
		}
	}
	return false
}

func confidenceFor(t PatternType, entropy float64) float64 {
	switch t {
	case PatternAllZeros, PatternAllOnes:
		return 1.0
	case PatternRandom:
		c := entropy / 8.0
		if c > 1.0 {
			c = 1.0
		}
		return c
	case PatternRepeating:
		return 0.9
	case PatternStructured:
		return 0.7
	case PatternSuspicious:
		return 0.5
	default:
		return 0.0
	}
}

func detectAnomalies(data []byte, t PatternType, entropy, threshold float64) []string {
	var anomalies []string
	switch {
	case t == PatternSuspicious:
		anomalies = append(anomalies, "Suspicious structured data detected")
	case t == PatternRandom && entropy < threshold:
		anomalies = append(anomalies, "Low entropy in supposedly random data")
	}

	if t != PatternAllZeros {
		nullRuns := 0
		for i := 0; i+16 <= len(data); i++ {
			if allBytesEqual(data[i:i+16], 0) {
				nullRuns++
			}
		}
		if len(data) > 0 && nullRuns > len(data)/32 {
			anomalies = append(anomalies, "Unexpected null byte sequences")
		}
	}
	return anomalies
}

// isSampleAcceptable checks whether analysis is consistent with algo's
// expected post-wipe signature.
func (e *Engine) isSampleAcceptable(analysis SectorAnalysis, algo algorithms.Algorithm) bool {
	if len(analysis.Anomalies) > 0 {
		return false
	}
	switch algo {
	case algorithms.ZeroFill:
		return analysis.PatternType == PatternAllZeros
	case algorithms.OneFill:
		return analysis.PatternType == PatternAllOnes
	case algorithms.Random, algorithms.NIST80088:
		return analysis.PatternType == PatternRandom && analysis.Entropy > e.entropyThreshold
	default:
		return analysis.PatternType != PatternSuspicious
	}
}

func (e *Engine) analyzeEntropy(values []float64, sectors []SectorAnalysis) EntropyAnalysis {
	if len(values) == 0 {
		return EntropyAnalysis{Distribution: map[string]int{}}
	}
	sum, min, max := 0.0, math.Inf(1), 0.0
	distribution := make(map[string]int)
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		bucket := fmt.Sprintf("%.1f", v)
		distribution[bucket]++
	}

	var lowEntropy []uint64
	for _, s := range sectors {
		if s.Entropy < e.entropyThreshold {
			lowEntropy = append(lowEntropy, s.Offset)
		}
	}

	return EntropyAnalysis{
		AverageEntropy:    sum / float64(len(values)),
		MinEntropy:        min,
		MaxEntropy:        max,
		Distribution:      distribution,
		LowEntropySectors: lowEntropy,
	}
}

func (e *Engine) analyzePatterns(counts map[PatternType]int, sectors []SectorAnalysis) PatternAnalysis {
	var suspicious []uint64
	for _, s := range sectors {
		if s.PatternType == PatternSuspicious {
			suspicious = append(suspicious, s.Offset)
		}
	}

	var detected []DetectedPattern
	for t, count := range counts {
		if count == 0 {
			continue
		}
		detected = append(detected, DetectedPattern{PatternType: t, Frequency: count, Confidence: 0.9})
	}
	sort.Slice(detected, func(i, j int) bool { return detected[i].PatternType < detected[j].PatternType })

	return PatternAnalysis{
		DetectedPatterns:  detected,
		ZeroSectors:       counts[PatternAllZeros],
		OneSectors:        counts[PatternAllOnes],
		RandomSectors:     counts[PatternRandom],
		SuspiciousOffsets: suspicious,
	}
}

func determineVerdict(successRate float64, patterns PatternAnalysis) Status {
	if len(patterns.SuspiciousOffsets) > 0 {
		return StatusFailed
	}
	switch {
	case successRate >= 0.95:
		return StatusPassed
	case successRate >= 0.85:
		return StatusWarning
	case successRate >= 0.70:
		return StatusInconclusive
	default:
		return StatusFailed
	}
}

func generateRecommendations(verdict Status, entropy EntropyAnalysis, patterns PatternAnalysis, threshold float64) []string {
	var out []string
	switch verdict {
	case StatusFailed:
		out = append(out, "Wipe verification failed. Consider re-wiping the device.")
		if len(patterns.SuspiciousOffsets) > 0 {
			out = append(out, "Suspicious data patterns detected. Use a more aggressive wiping algorithm.")
		}
	case StatusWarning:
		out = append(out, "Wipe verification passed with warnings. Monitor for potential issues.")
	case StatusInconclusive:
		out = append(out, "Verification results are inconclusive. Consider additional verification.")
	case StatusPassed:
		out = append(out, "Wipe verification passed successfully.")
	}

	if entropy.AverageEntropy < threshold {
		out = append(out, "Low average entropy detected. Consider using random-based wiping algorithms.")
	}
	if len(entropy.LowEntropySectors) > 0 {
		out = append(out, fmt.Sprintf("Found %d sectors with low entropy. These may require additional attention.", len(entropy.LowEntropySectors)))
	}
	return out
}

// Package wipe implements the multi-pass and hardware-erase wipe engine:
// a state machine that drives a device through HPA/DCO clearing, pattern
// overwrite passes or a hardware erase command, and delegates post-wipe
// verification to the verification package.
package wipe

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"saferase/internal/algorithms"
	"saferase/internal/deviceport"
	"saferase/internal/errs"
	"saferase/internal/verification"
)

// Status is a state in the wipe operation's state machine.
type Status int

const (
	StatusInitializing Status = iota
	StatusDetectingHPA
	StatusClearingHPA
	StatusDetectingDCO
	StatusClearingDCO
	StatusWiping
	StatusVerifying
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "Initializing"
	case StatusDetectingHPA:
		return "Detecting HPA"
	case StatusClearingHPA:
		return "Clearing HPA"
	case StatusDetectingDCO:
		return "Detecting DCO"
	case StatusClearingDCO:
		return "Clearing DCO"
	case StatusWiping:
		return "Wiping"
	case StatusVerifying:
		return "Verifying"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// blockYieldInterval is how often, in blocks, the software overwrite loop
// yields the scheduler. Cancellation is checked before every block.
const blockYieldInterval = 100

// maxBlockSize is the hard ceiling options.BlockSize is clamped to.
const maxBlockSize = 1024 * 1024

// Options configures a wipe operation.
type Options struct {
	VerifyWipe          bool
	VerificationSamples int
	ClearHPADCO         bool
	BlockSize           int
	MaxConcurrentOps    int
	OperationTimeout    time.Duration // zero means no timeout
	PreferHardwareErase bool
	ProgressInterval    time.Duration
	CustomPatterns      []algorithms.Pattern // only consulted for algorithms.Custom
	AllowSystemDisk     bool
	Progress            chan<- Progress // optional; engine sends best-effort, non-blocking
}

// DefaultOptions mirrors the conservative defaults of a regulated
// decommissioning workflow: verify, clear HPA/DCO, prefer hardware erase.
func DefaultOptions() Options {
	return Options{
		VerifyWipe:          true,
		VerificationSamples: 100,
		ClearHPADCO:         true,
		BlockSize:           maxBlockSize,
		MaxConcurrentOps:    1,
		OperationTimeout:    24 * time.Hour,
		PreferHardwareErase: true,
		ProgressInterval:    time.Second,
	}
}

// Progress is a point-in-time snapshot of an in-flight wipe operation.
type Progress struct {
	OperationID       string
	DevicePath        string
	Algorithm         algorithms.Algorithm
	CurrentPass       int
	TotalPasses       int
	BytesProcessed    uint64
	TotalBytes        uint64
	Percentage        float64
	CurrentSpeed      float64
	AverageSpeed      float64
	EstimatedRemaining time.Duration
	CurrentPattern    string
	Status            Status
	StartedAt         time.Time
	LastUpdated       time.Time
}

// PerformanceStats summarizes throughput for a completed operation.
type PerformanceStats struct {
	AverageSpeed      float64
	PeakSpeed         float64
	TotalTime         time.Duration
	WipeTime          time.Duration
	VerificationTime  *time.Duration
}

// Result is the outcome of a wipe operation.
type Result struct {
	OperationID           string
	DevicePath            string
	DeviceSerial          string
	DeviceModel           string
	Algorithm             algorithms.Algorithm
	Options               Options
	Status                Status
	StartedAt             time.Time
	CompletedAt           *time.Time
	Duration              *time.Duration
	BytesWiped            uint64
	PassesCompleted       int
	VerificationRequested bool
	VerificationPassed    *bool
	HPADetected           bool
	HPACleared            bool
	DCODetected           bool
	DCOCleared            bool
	ErrorMessage          string
	PerformanceStats      PerformanceStats
}

type operationHandle struct {
	id        string
	devicePath string
	cancel    context.CancelFunc
	startedAt time.Time
}

// Engine drives wipe operations against a deviceport.Port and tracks the
// set of in-flight operations.
type Engine struct {
	mu          sync.RWMutex
	ops         map[string]*operationHandle
	verification *verification.Engine
}

// NewEngine constructs a wipe engine. verifier may be nil, in which case a
// default verification.Engine is used.
func NewEngine(verifier *verification.Engine) *Engine {
	if verifier == nil {
		verifier = verification.NewEngine()
	}
	return &Engine{ops: make(map[string]*operationHandle), verification: verifier}
}

// GetActiveOperations returns the ids of all currently running operations.
func (e *Engine) GetActiveOperations() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.ops))
	for id := range e.ops {
		ids = append(ids, id)
	}
	return ids
}

// CancelOperation requests cancellation of the named operation. It returns
// an error if no such operation is active.
func (e *Engine) CancelOperation(id string) error {
	e.mu.RLock()
	op, ok := e.ops[id]
	e.mu.RUnlock()
	if !ok {
		return errs.Meta("wipe.CancelOperation", fmt.Errorf("operation %s not found", id))
	}
	op.cancel()
	return nil
}

func (e *Engine) register(id, devicePath string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops[id] = &operationHandle{id: id, devicePath: devicePath, cancel: cancel, startedAt: time.Now()}
}

func (e *Engine) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.ops, id)
}

// WipeDevice runs algo against port, driving the full state machine:
// optional HPA/DCO clearing, the overwrite passes (or a hardware erase
// command), then optional verification. It always returns a Result, even
// on failure or cancellation; err is non-nil only for setup problems that
// precede the state machine (e.g. a refused system disk).
func (e *Engine) WipeDevice(ctx context.Context, port deviceport.Port, algo algorithms.Algorithm, opts Options) (*Result, error) {
	if opts.BlockSize <= 0 || opts.BlockSize > maxBlockSize {
		opts.BlockSize = maxBlockSize
	}

	desc, err := port.Descriptor(ctx)
	if err != nil {
		return nil, errs.Device("wipe.WipeDevice", err)
	}
	if desc.IsSystemDisk && !opts.AllowSystemDisk {
		return nil, errs.Device("wipe.WipeDevice", errs.ErrSystemDisk)
	}

	operationID := uuid.NewString()
	startedAt := time.Now().UTC()

	opCtx := ctx
	var cancel context.CancelFunc
	if opts.OperationTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, opts.OperationTimeout)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	e.register(operationID, desc.Path, cancel)
	defer e.unregister(operationID)

	result := &Result{
		OperationID:           operationID,
		DevicePath:            desc.Path,
		DeviceSerial:          desc.Serial,
		DeviceModel:           desc.Model,
		Algorithm:             algo,
		Options:               opts,
		Status:                StatusInitializing,
		StartedAt:             startedAt,
		VerificationRequested: opts.VerifyWipe,
	}

	operationStart := time.Now()

	if opCtx.Err() != nil {
		return finalize(result, StatusCancelled, operationStart), nil
	}

	e.clearHPADCO(opCtx, port, desc, opts, result)

	result.Status = StatusWiping
	wipeStart := time.Now()
	stats, wipeErr := e.performWipe(opCtx, port, desc, algo, opts)
	if wipeErr != nil {
		if errsIsCancelled(wipeErr) {
			return finalize(result, StatusCancelled, operationStart), nil
		}
		result.ErrorMessage = wipeErr.Error()
		return finalize(result, StatusFailed, operationStart), nil
	}
	result.BytesWiped = stats.bytesWiped
	result.PassesCompleted = stats.passesCompleted
	result.PerformanceStats.WipeTime = time.Since(wipeStart)
	result.PerformanceStats.AverageSpeed = stats.averageSpeed
	result.PerformanceStats.PeakSpeed = stats.peakSpeed

	if opts.VerifyWipe {
		result.Status = StatusVerifying
		verifyStart := time.Now()
		passed, verifyErr := e.verifyWipe(opCtx, port, algo, opts)
		verifyDuration := time.Since(verifyStart)
		result.PerformanceStats.VerificationTime = &verifyDuration
		if verifyErr != nil {
			failed := false
			result.VerificationPassed = &failed
		} else {
			result.VerificationPassed = &passed
			if !passed {
				result.ErrorMessage = "Wipe verification failed"
				return finalize(result, StatusFailed, operationStart), nil
			}
		}
	}

	return finalize(result, StatusCompleted, operationStart), nil
}

func finalize(result *Result, status Status, operationStart time.Time) *Result {
	result.Status = status
	now := time.Now().UTC()
	result.CompletedAt = &now
	duration := time.Since(operationStart)
	result.Duration = &duration
	result.PerformanceStats.TotalTime = duration
	return result
}

func errsIsCancelled(err error) bool {
	return errors.Is(err, errs.ErrWipeCancelled)
}

// clearHPADCO performs best-effort HPA/DCO detection and clearing. Any
// failure is swallowed into the result's detected/cleared fields rather
// than aborting the operation, matching the wipe engine's propagation
// policy for pre-wipe steps.
func (e *Engine) clearHPADCO(ctx context.Context, port deviceport.Port, desc deviceport.Descriptor, opts Options, result *Result) {
	if !opts.ClearHPADCO || !desc.SupportsHPADCO {
		return
	}

	result.Status = StatusDetectingHPA
	if detected, err := port.DetectAndClearHPA(ctx); err == nil {
		result.HPADetected = detected
		if detected {
			result.Status = StatusClearingHPA
			result.HPACleared = true
		}
	}

	result.Status = StatusDetectingDCO
	if detected, err := port.DetectAndClearDCO(ctx); err == nil {
		result.DCODetected = detected
		if detected {
			result.Status = StatusClearingDCO
			result.DCOCleared = true
		}
	}
}

type wipeStats struct {
	bytesWiped      uint64
	passesCompleted int
	averageSpeed    float64
	peakSpeed       float64
}

func (e *Engine) performWipe(ctx context.Context, port deviceport.Port, desc deviceport.Descriptor, algo algorithms.Algorithm, opts Options) (wipeStats, error) {
	if opts.PreferHardwareErase && algo.IsHardwareBased() {
		return e.performHardwareWipe(ctx, port, desc, algo)
	}

	patterns := algo.Patterns(opts.CustomPatterns)
	totalPasses := len(patterns)
	var bytesWiped uint64
	speeds := make([]float64, 0, totalPasses)

	for passIndex, pattern := range patterns {
		if ctx.Err() != nil {
			return wipeStats{}, errs.Wipe("wipe.performWipe", errs.SeverityLow, errs.ErrWipeCancelled)
		}

		passStart := time.Now()
		passBytes, err := e.wipeWithPattern(ctx, port, desc, pattern, opts, passIndex, totalPasses)
		if err != nil {
			return wipeStats{}, err
		}
		passDuration := time.Since(passStart)

		bytesWiped += passBytes
		speed := 0.0
		if passDuration.Seconds() > 0 {
			speed = float64(passBytes) / passDuration.Seconds()
		}
		speeds = append(speeds, speed)
	}

	if err := port.Flush(ctx); err != nil {
		// Cache-flush failures degrade to a warning per the propagation
		// policy; the caller's logger records it, this layer proceeds.
		_ = err
	}

	avg, peak := 0.0, 0.0
	for _, s := range speeds {
		avg += s
		if s > peak {
			peak = s
		}
	}
	if len(speeds) > 0 {
		avg /= float64(len(speeds))
	}

	return wipeStats{bytesWiped: bytesWiped, passesCompleted: totalPasses, averageSpeed: avg, peakSpeed: peak}, nil
}

func (e *Engine) performHardwareWipe(ctx context.Context, port deviceport.Port, desc deviceport.Descriptor, algo algorithms.Algorithm) (wipeStats, error) {
	start := time.Now()
	var err error
	switch algo {
	case algorithms.ATASecureErase:
		err = port.ATASecureErase(ctx, false)
	case algorithms.NVMeFormat:
		err = port.NVMeFormat(ctx, true)
	default:
		return wipeStats{}, errs.Wipe("wipe.performHardwareWipe", errs.SeverityHigh, fmt.Errorf("%w: %s", errs.ErrUnsupportedAlgo, algo))
	}
	if err != nil {
		return wipeStats{}, errs.Device("wipe.performHardwareWipe", err)
	}
	duration := time.Since(start)
	speed := 0.0
	if duration.Seconds() > 0 {
		speed = float64(desc.Size) / duration.Seconds()
	}
	return wipeStats{bytesWiped: desc.Size, passesCompleted: 1, averageSpeed: speed, peakSpeed: speed}, nil
}

func (e *Engine) wipeWithPattern(ctx context.Context, port deviceport.Port, desc deviceport.Descriptor, pattern algorithms.Pattern, opts Options, passIndex, totalPasses int) (uint64, error) {
	blockSize := opts.BlockSize
	if blockSize <= 0 || blockSize > maxBlockSize {
		blockSize = maxBlockSize
	}
	totalBlocks := (desc.Size + uint64(blockSize) - 1) / uint64(blockSize)

	var bytesWritten uint64
	lastProgress := time.Now()

	for blockIndex := uint64(0); blockIndex < totalBlocks; blockIndex++ {
		if ctx.Err() != nil {
			return bytesWritten, errs.Wipe("wipe.wipeWithPattern", errs.SeverityLow, errs.ErrWipeCancelled)
		}

		remaining := desc.Size - bytesWritten
		currentSize := uint64(blockSize)
		if remaining < currentSize {
			currentSize = remaining
		}

		// Complement needs the previous pass's bytes for this exact LBA
		// range. Storing a whole prior pass is infeasible for large
		// devices, so re-read what the previous pass actually wrote to
		// this region instead of threading an in-memory buffer across
		// passes.
		var previous []byte
		if pattern.Kind == algorithms.PatternComplement && passIndex > 0 {
			previous = make([]byte, currentSize)
			n, err := port.ReadAt(ctx, int64(bytesWritten), previous)
			if err != nil {
				return bytesWritten, errs.Device("wipe.wipeWithPattern", err)
			}
			previous = previous[:n]
		}

		data, err := pattern.Generate(int(currentSize), previous)
		if err != nil {
			return bytesWritten, errs.Wipe("wipe.wipeWithPattern", errs.SeverityHigh, err)
		}

		if _, err := port.WriteAt(ctx, int64(bytesWritten), data); err != nil {
			return bytesWritten, errs.Device("wipe.wipeWithPattern", err)
		}

		bytesWritten += currentSize

		if opts.Progress != nil && time.Since(lastProgress) >= opts.ProgressInterval {
			sendProgress(opts.Progress, Progress{
				DevicePath:     desc.Path,
				CurrentPass:    passIndex + 1,
				TotalPasses:    totalPasses,
				BytesProcessed: bytesWritten,
				TotalBytes:     desc.Size,
				Percentage:     100 * float64(bytesWritten) / float64(desc.Size),
				CurrentPattern: pattern.Description(),
				Status:         StatusWiping,
				LastUpdated:    time.Now().UTC(),
			})
			lastProgress = time.Now()
		}

		if blockIndex > 0 && blockIndex%blockYieldInterval == 0 {
			runtime.Gosched()
			time.Sleep(time.Millisecond)
		}
	}

	return bytesWritten, nil
}

func sendProgress(ch chan<- Progress, p Progress) {
	select {
	case ch <- p:
	default:
		// Drop the update rather than block the wipe loop on a slow consumer.
	}
}

// verifyWipe delegates to the verification engine and reports whether the
// device passed (verdict Passed or Warning) rather than re-implementing a
// separate wiped-data heuristic.
func (e *Engine) verifyWipe(ctx context.Context, port deviceport.Port, algo algorithms.Algorithm, opts Options) (bool, error) {
	vType := verification.TypeCustom
	result, err := e.verification.Verify(ctx, port, algo, verification.Options{
		Type:        &vType,
		SampleCount: opts.VerificationSamples,
	})
	if err != nil {
		return false, err
	}
	return result.Verdict == verification.StatusPassed || result.Verdict == verification.StatusWarning, nil
}

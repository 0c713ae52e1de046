package metrics

import "time"

// SafeEraseMetrics holds the counters, gauges, and histograms saferasectl
// exposes for a wipe operation. It wraps a Registry the same way a
// Prometheus exporter's collector struct wraps its client, with one
// concrete metric per field instead of generic label lookups.
type SafeEraseMetrics struct {
	registry *Registry

	BytesWipedTotal       *Counter
	PassesCompletedTotal  *Counter
	OperationsTotal       *Counter
	VerificationsTotal    *Counter
	CertificatesTotal     *Counter
	HPADCOClearedTotal    *Counter
	ErrorsTotal           *Counter

	ActiveOperations  *Gauge
	DeviceSizeBytes   *Gauge
	LastOperationTs   *Gauge

	PassDuration          *Histogram
	VerificationDuration  *Histogram
	SigningDuration       *Histogram
	WipeThroughputMBps    *Histogram
}

// NewSafeEraseMetrics registers the SafeErase metric set against registry.
func NewSafeEraseMetrics(registry *Registry) *SafeEraseMetrics {
	return &SafeEraseMetrics{
		registry: registry,

		BytesWipedTotal:      registry.RegisterCounter("bytes_wiped_total", "Total bytes written during wipe passes", nil),
		PassesCompletedTotal: registry.RegisterCounter("passes_completed_total", "Total wipe passes completed across all operations", nil),
		OperationsTotal:      registry.RegisterCounter("operations_total", "Total wipe operations started", nil),
		VerificationsTotal:   registry.RegisterCounter("verifications_total", "Total standalone verification passes run", nil),
		CertificatesTotal:    registry.RegisterCounter("certificates_total", "Total certificates signed and issued", nil),
		HPADCOClearedTotal:   registry.RegisterCounter("hpa_dco_cleared_total", "Total HPA/DCO regions detected and cleared", nil),
		ErrorsTotal:          registry.RegisterCounter("errors_total", "Total errors encountered during wipe operations", nil),

		ActiveOperations: registry.RegisterGauge("active_operations", "Number of wipe operations currently in progress", nil),
		DeviceSizeBytes:  registry.RegisterGauge("last_device_size_bytes", "Size in bytes of the most recently targeted device", nil),
		LastOperationTs:  registry.RegisterGauge("last_operation_timestamp", "Unix timestamp of the most recently completed operation", nil),

		PassDuration: registry.RegisterHistogram("pass_duration_seconds", "Duration of a single wipe pass",
			nil, []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}),
		VerificationDuration: registry.RegisterHistogram("verification_duration_seconds", "Duration of a statistical verification pass",
			nil, []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120}),
		SigningDuration: registry.RegisterHistogram("signing_duration_seconds", "Duration of certificate signing",
			nil, []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}),
		WipeThroughputMBps: registry.RegisterHistogram("wipe_throughput_mbps", "Observed wipe throughput in MB/s",
			nil, []float64{10, 50, 100, 200, 400, 800, 1600, 3200}),
	}
}

// RecordOperationStarted increments the operation counter and active gauge.
func (m *SafeEraseMetrics) RecordOperationStarted() {
	m.OperationsTotal.Inc()
	m.ActiveOperations.Inc()
}

// RecordOperationFinished decrements the active gauge and stamps the
// completion time, regardless of success or failure.
func (m *SafeEraseMetrics) RecordOperationFinished() {
	m.ActiveOperations.Dec()
	m.LastOperationTs.Set(time.Now().Unix())
}

// RecordPass records a completed wipe pass: bytes written, pass count,
// duration, and derived throughput.
func (m *SafeEraseMetrics) RecordPass(bytesWritten int64, duration time.Duration) {
	m.BytesWipedTotal.Add(uint64(bytesWritten))
	m.PassesCompletedTotal.Inc()
	m.PassDuration.ObserveDuration(duration)

	if duration > 0 {
		mbps := (float64(bytesWritten) / (1024 * 1024)) / duration.Seconds()
		m.WipeThroughputMBps.Observe(mbps)
	}
}

// StartPassTimer returns a timer on the pass-duration histogram; its Stop()
// records the elapsed time there itself, as RecordPass also does, so a
// pass timed this way and then passed to RecordPass is observed twice.
func (m *SafeEraseMetrics) StartPassTimer() *HistogramTimer {
	return m.PassDuration.Timer()
}

// RecordVerification records a completed verification pass.
func (m *SafeEraseMetrics) RecordVerification(duration time.Duration) {
	m.VerificationsTotal.Inc()
	m.VerificationDuration.ObserveDuration(duration)
}

// StartVerificationTimer returns a timer for a verification pass.
func (m *SafeEraseMetrics) StartVerificationTimer() *HistogramTimer {
	return m.VerificationDuration.Timer()
}

// RecordCertificateIssued records a signed certificate and its signing
// latency.
func (m *SafeEraseMetrics) RecordCertificateIssued(signingDuration time.Duration) {
	m.CertificatesTotal.Inc()
	m.SigningDuration.ObserveDuration(signingDuration)
}

// StartSigningTimer returns a timer for the signing step.
func (m *SafeEraseMetrics) StartSigningTimer() *HistogramTimer {
	return m.SigningDuration.Timer()
}

// RecordHPADCOCleared records a detected and cleared HPA or DCO region.
func (m *SafeEraseMetrics) RecordHPADCOCleared() {
	m.HPADCOClearedTotal.Inc()
}

// RecordError increments the error counter.
func (m *SafeEraseMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// SetDeviceSize records the size of the device most recently targeted by
// an operation.
func (m *SafeEraseMetrics) SetDeviceSize(bytes int64) {
	m.DeviceSizeBytes.Set(bytes)
}

// Snapshot returns a point-in-time view of every registered metric,
// suitable for JSON serialization in the status command.
func (m *SafeEraseMetrics) Snapshot() map[string]interface{} {
	return m.registry.Snapshot()
}

var defaultSafeEraseMetrics *SafeEraseMetrics

// InitMetrics installs registry as the source of the package-level
// default SafeErase metrics set.
func InitMetrics(registry *Registry) *SafeEraseMetrics {
	defaultSafeEraseMetrics = NewSafeEraseMetrics(registry)
	return defaultSafeEraseMetrics
}

// GetMetrics returns the package-level default SafeErase metrics set,
// initializing it against the default registry on first use.
func GetMetrics() *SafeEraseMetrics {
	if defaultSafeEraseMetrics == nil {
		defaultSafeEraseMetrics = NewSafeEraseMetrics(Default())
	}
	return defaultSafeEraseMetrics
}

// Package certificate defines SafeErase's wipe certificate data model:
// canonical serialization, validation invariants, and compliance mapping
// from the algorithm a device was wiped with.
package certificate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"saferase/internal/algorithms"
	"saferase/internal/errs"
	"saferase/internal/verification"
)

// SecurityLevel classifies a certificate's overall sanitization strength.
type SecurityLevel int

const (
	SecurityBasic SecurityLevel = iota
	SecurityStandard
	SecurityHigh
	SecurityMaximum
	SecurityCustom
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
	case SecurityCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// ComplianceLevel describes how fully a certificate meets a named standard.
type ComplianceLevel int

const (
	FullyCompliant ComplianceLevel = iota
	PartiallyCompliant
	NotCompliant
	NotApplicable
)

func (c ComplianceLevel) String() string {
	switch c {
	case FullyCompliant:
		return "Fully Compliant"
	case PartiallyCompliant:
		return "Partially Compliant"
	case NotCompliant:
		return "Not Compliant"
	case NotApplicable:
		return "Not Applicable"
	default:
		return "Unknown"
	}
}

// ComplianceStandard records one named standard a certificate attests to.
type ComplianceStandard struct {
	Name             string          `json:"name"`
	Version          string          `json:"version,omitempty"`
	Description      string          `json:"description"`
	RequirementsMet  []string        `json:"requirements_met"`
	ComplianceLevel  ComplianceLevel `json:"compliance_level"`
}

// ComplianceInfo aggregates every standard a certificate satisfies.
type ComplianceInfo struct {
	StandardsMet       []ComplianceStandard `json:"standards_met"`
	SecurityLevel      SecurityLevel        `json:"security_level"`
	CertificationBody  string               `json:"certification_body,omitempty"`
	ComplianceNotes    []string             `json:"compliance_notes"`
}

// IsFullyCompliant reports whether every standard listed is fully compliant.
func (c ComplianceInfo) IsFullyCompliant() bool {
	for _, s := range c.StandardsMet {
		if s.ComplianceLevel != FullyCompliant {
			return false
		}
	}
	return true
}

// FromAlgorithm derives compliance metadata from the algorithm a device
// was wiped with, mapping each of its declared compliance standards onto
// a ComplianceStandard entry.
func FromAlgorithm(algo algorithms.Algorithm) ComplianceInfo {
	info := algo.Info(nil)
	standards := make([]ComplianceStandard, 0, len(info.ComplianceStandards))
	for _, name := range info.ComplianceStandards {
		standards = append(standards, standardFor(name))
	}

	notes := []string{
		fmt.Sprintf("Algorithm: %s", info.Name),
		fmt.Sprintf("Passes: %d", info.Passes),
	}

	return ComplianceInfo{
		StandardsMet:      standards,
		SecurityLevel:     securityLevelFrom(info.SecurityLevel),
		CertificationBody: "SafeErase Certification Authority",
		ComplianceNotes:   notes,
	}
}

func securityLevelFrom(l algorithms.SecurityLevel) SecurityLevel {
	switch l {
	case algorithms.SecurityBasic:
		return SecurityBasic
	case algorithms.SecurityStandard:
		return SecurityStandard
	case algorithms.SecurityHigh:
		return SecurityHigh
	case algorithms.SecurityMaximum:
		return SecurityMaximum
	default:
		return SecurityCustom
	}
}

func standardFor(name string) ComplianceStandard {
	switch name {
	case "NIST 800-88":
		return ComplianceStandard{
			Name:            "NIST SP 800-88 Rev. 1",
			Version:         "Revision 1",
			Description:     "Guidelines for Media Sanitization",
			RequirementsMet: []string{"Clear sanitization method", "Cryptographic erase for SSDs"},
			ComplianceLevel: FullyCompliant,
		}
	case "DoD 5220.22-M":
		return ComplianceStandard{
			Name:            "DoD 5220.22-M",
			Version:         "Change 2",
			Description:     "National Industrial Security Program Operating Manual",
			RequirementsMet: []string{"Three-pass overwrite", "Pattern verification"},
			ComplianceLevel: FullyCompliant,
		}
	case "ATA Standard":
		return ComplianceStandard{
			Name:            "ATA/ATAPI Command Set",
			Version:         "ACS-4",
			Description:     "Hardware-based secure erase",
			RequirementsMet: []string{"ATA Secure Erase command", "Hardware-level sanitization"},
			ComplianceLevel: FullyCompliant,
		}
	case "NVMe Standard":
		return ComplianceStandard{
			Name:            "NVMe Specification",
			Version:         "1.4",
			Description:     "NVMe Format with Secure Erase",
			RequirementsMet: []string{"NVMe Format command", "Cryptographic erase"},
			ComplianceLevel: FullyCompliant,
		}
	default:
		return ComplianceStandard{
			Name:            name,
			Description:     "Custom or proprietary standard",
			RequirementsMet: []string{"Algorithm-specific requirements"},
			ComplianceLevel: PartiallyCompliant,
		}
	}
}

// DeviceInfo is the device identity snapshot embedded in a certificate.
type DeviceInfo struct {
	Path   string `json:"path"`
	Serial string `json:"serial"`
	Model  string `json:"model"`
	Size   uint64 `json:"size"`
}

// WipeInfo is the wipe-operation summary embedded in a certificate.
type WipeInfo struct {
	Algorithm           algorithms.Algorithm `json:"algorithm"`
	StartedAt           time.Time            `json:"started_at"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
	Duration            *Duration            `json:"duration,omitempty"`
	PassesCompleted     int                  `json:"passes_completed"`
	VerificationPassed  *bool                `json:"verification_passed,omitempty"`
}

// VerificationInfo is the verification-pass summary embedded in a
// certificate, mirroring verification.Result's scalar fields.
type VerificationInfo struct {
	VerificationID   string            `json:"verification_id"`
	VerificationType string            `json:"verification_type"`
	SamplesTested    int               `json:"samples_tested"`
	SamplesPassed    int               `json:"samples_passed"`
	SuccessRate      float64           `json:"success_rate"`
	OverallResult    string            `json:"overall_result"`
}

// VerificationInfoFrom builds a VerificationInfo from a verification.Result.
func VerificationInfoFrom(r *verification.Result) VerificationInfo {
	return VerificationInfo{
		VerificationID:   r.ID,
		VerificationType: r.Type.String(),
		SamplesTested:    r.SamplesTested,
		SamplesPassed:    r.SamplesPassed,
		SuccessRate:      r.SuccessRate,
		OverallResult:    r.Verdict.String(),
	}
}

// Data is the canonical payload a certificate signs over.
type Data struct {
	CertificateID     string             `json:"certificate_id"`
	GeneratedAt        time.Time          `json:"generated_at"`
	DeviceInfo         DeviceInfo         `json:"device_info"`
	WipeInfo           WipeInfo           `json:"wipe_info"`
	VerificationInfo   *VerificationInfo  `json:"verification_info,omitempty"`
	ComplianceInfo     *ComplianceInfo    `json:"compliance_info,omitempty"`
	TechnicalDetails   map[string]string  `json:"technical_details,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

// Certificate wraps Data with the format version clients negotiate against.
type Certificate struct {
	Data          Data   `json:"data"`
	Version       string `json:"version"`
	FormatVersion int    `json:"format_version"`
}

// FormatVersion is the wire format version this package produces.
const FormatVersion = 1

// New builds a Certificate from data, stamping the current format version.
func New(data Data, toolVersion string) Certificate {
	return Certificate{Data: data, Version: toolVersion, FormatVersion: FormatVersion}
}

// CertificateID returns the certificate's unique identifier.
func (c Certificate) CertificateID() string { return c.Data.CertificateID }

// IsVerificationPassed reports whether the wipe's verification step passed,
// treating an absent verification as not passed.
func (c Certificate) IsVerificationPassed() bool {
	return c.Data.WipeInfo.VerificationPassed != nil && *c.Data.WipeInfo.VerificationPassed
}

// Validate checks the invariants a certificate must satisfy before it can
// be signed or accepted: a non-nil id, non-empty device identity, a
// completion time no earlier than the start time, and (when verification
// info is present) a sample count and success rate that agree with each
// other to within 1%.
func (c Certificate) Validate() error {
	id, err := uuid.Parse(c.Data.CertificateID)
	if err != nil {
		return errs.Certificate("certificate.Validate", fmt.Errorf("certificate_id is not a valid identifier: %w", err))
	}
	if id == uuid.Nil {
		return errs.Certificate("certificate.Validate", fmt.Errorf("certificate_id must not be the nil UUID"))
	}
	if c.Data.DeviceInfo.Serial == "" {
		return errs.Certificate("certificate.Validate", fmt.Errorf("device serial number is required"))
	}
	if c.Data.DeviceInfo.Model == "" {
		return errs.Certificate("certificate.Validate", fmt.Errorf("device model is required"))
	}
	if c.Data.WipeInfo.CompletedAt != nil && c.Data.WipeInfo.CompletedAt.Before(c.Data.WipeInfo.StartedAt) {
		return errs.Certificate("certificate.Validate", fmt.Errorf("completion time cannot be before start time"))
	}
	if v := c.Data.VerificationInfo; v != nil {
		if v.SamplesPassed > v.SamplesTested {
			return errs.Certificate("certificate.Validate", fmt.Errorf("samples passed cannot exceed samples tested"))
		}
		if v.SamplesTested > 0 {
			calculated := float64(v.SamplesPassed) / float64(v.SamplesTested)
			diff := calculated - v.SuccessRate
			if diff < 0 {
				diff = -diff
			}
			if diff > 0.01 {
				return errs.Certificate("certificate.Validate", fmt.Errorf("success rate does not match sample counts"))
			}
		}
	}
	return nil
}

// Summary is a lightweight view of a certificate for listing and display.
type Summary struct {
	CertificateID      string               `json:"certificate_id"`
	DeviceModel        string               `json:"device_model"`
	DeviceSerial       string               `json:"device_serial"`
	Algorithm          algorithms.Algorithm `json:"algorithm"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	VerificationPassed *bool                `json:"verification_passed,omitempty"`
	SecurityLevel      SecurityLevel        `json:"security_level"`
}

// Summarize produces a Summary for c.
func (c Certificate) Summarize() Summary {
	level := SecurityBasic
	if c.Data.ComplianceInfo != nil {
		level = c.Data.ComplianceInfo.SecurityLevel
	}
	return Summary{
		CertificateID:      c.Data.CertificateID,
		DeviceModel:        c.Data.DeviceInfo.Model,
		DeviceSerial:       c.Data.DeviceInfo.Serial,
		Algorithm:          c.Data.WipeInfo.Algorithm,
		CompletedAt:        c.Data.WipeInfo.CompletedAt,
		VerificationPassed: c.Data.WipeInfo.VerificationPassed,
		SecurityLevel:      level,
	}
}

// Canonical serializes c into the exact byte sequence the signer signs
// over and the verifier re-derives: compact JSON with map keys sorted,
// which encoding/json already guarantees for Go maps.
func Canonical(c Certificate) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errs.Serialization("certificate.Canonical", err)
	}
	return data, nil
}

// Duration wraps time.Duration so certificate JSON carries Go's
// human-readable duration string (time.Duration.String, e.g. "1m30s")
// instead of raw nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("certificate: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Package qrcode builds the verification payload printed on a wipe
// certificate as a QR code. Rendering the payload into an actual QR
// bitmap is left to an external collaborator; this package only shapes
// the data that payload encodes.
package qrcode

import (
	"encoding/json"
	"fmt"

	"saferase/internal/certificate"
	"saferase/internal/errs"
)

// VerificationBaseURL is the web service a printed certificate's QR code
// points readers at to independently confirm its signature.
const VerificationBaseURL = "https://verify.safeerase.example/certificate"

// Payload is the JSON object a certificate's QR code encodes: just
// enough to look a certificate up and sanity-check its signature
// without re-deriving the full canonical document.
type Payload struct {
	CertificateID    string `json:"certificate_id"`
	Signature        string `json:"signature"`
	VerificationURL  string `json:"verification_url"`
}

// VerificationURL returns the web address a certificate can be looked up
// at for independent verification.
func VerificationURL(certificateID string) string {
	return fmt.Sprintf("%s/%s", VerificationBaseURL, certificateID)
}

// BuildPayload derives the QR payload for a signed certificate.
func BuildPayload(signed certificate.Signed) Payload {
	id := signed.Certificate.CertificateID()
	return Payload{
		CertificateID:   id,
		Signature:       signed.SignatureInfo.Signature,
		VerificationURL: VerificationURL(id),
	}
}

// Encode serializes a QR payload to the compact JSON string a QR code
// encoder would render.
func Encode(payload Payload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Serialization("qrcode.Encode", err)
	}
	return string(data), nil
}

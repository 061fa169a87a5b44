// Package billing handles the wire contract with the billing provider:
// HMAC-SHA256 signature verification over the raw webhook body and
// payload decoding. Authorization of the endpoint is the signature
// itself; there is no session on webhook deliveries.
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

// SignatureHeader carries the provider's signature of the raw body.
const SignatureHeader = "X-Billing-Signature"

const signaturePrefix = "sha256="

// Sign computes the hex HMAC-SHA256 of body under secret, in the
// format the provider sends: "sha256=<hex digest>".
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC of the raw body.
// Comparison is constant-time; any malformed or mismatched signature
// yields ErrSignatureInvalid with no further processing.
func VerifySignature(secret, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return domain.ErrSignatureInvalid
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return domain.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "X-SumUp-Signature"

// SignBody computes the hex HMAC-SHA256 signature of a webhook body.
// Exposed so tests and local tooling can produce valid notifications.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of the
// raw request body under the shared secret. The comparison is constant-time.
func VerifySignature(body []byte, signature, secret string) bool {
	expected := SignBody(body, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

package yengapay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeSignature returns the hex HMAC-SHA256 of body under the shared
// webhook secret, matching the X-Webhook-Hash header the gateway sends.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a provided signature against the expected HMAC of
// the exact raw body. hmac.Equal keeps the comparison constant-time.
func VerifySignature(secret string, body []byte, provided string) bool {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(provided) == "" {
		return false
	}
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(provided)))
}

// Package signature computes and verifies the HMAC integrity tag carried
// in the X-Webhook-Signature header of every delivery.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
// The payload bytes must be exactly the bytes transmitted as the event
// data; any re-serialization on either side breaks verification.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func Verify(payload []byte, sig string, secret string) bool {
	expected, err := hex.DecodeString(Sign(payload, secret))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

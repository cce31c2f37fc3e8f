package payout

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
)

// ValidatePaystackSignature checks the x-paystack-signature header against an
// HMAC-SHA512 of the raw payload bytes. Comparison is constant-time. A missing
// secret fails closed.
func ValidatePaystackSignature(payload []byte, signature, secretKey string) bool {
	if secretKey == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidateFlutterwaveSecret checks the verif-hash header against the
// configured shared secret. A missing configured secret fails closed.
func ValidateFlutterwaveSecret(received, configured string) bool {
	if configured == "" || received == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(received), []byte(configured)) == 1
}

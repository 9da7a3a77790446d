package payment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// IntegritySignature signs a checkout request the way Wompi recomputes it:
// hex(sha256(reference + amountInCents + currency + secret)).
func IntegritySignature(reference string, amountInCents int64, currency, secret string) string {
	return digest(reference, strconv.FormatInt(amountInCents, 10), currency, secret)
}

// VerifyIntegrity checks a checkout integrity signature.
func VerifyIntegrity(signature, reference string, amountInCents int64, currency, secret string) bool {
	return equal(signature, IntegritySignature(reference, amountInCents, currency, secret))
}

// WebhookChecksum computes the event checksum
// hex(sha256(id + status + amountInCents + timestamp + secret)).
// Field order is part of the gateway contract.
func WebhookChecksum(transactionID, status, amountInCents, timestamp, secret string) string {
	return digest(transactionID, status, amountInCents, timestamp, secret)
}

// VerifyWebhook reports whether signature equals the recomputed checksum.
func VerifyWebhook(signature, transactionID, status, amountInCents, timestamp, secret string) bool {
	return equal(signature, WebhookChecksum(transactionID, status, amountInCents, timestamp, secret))
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func equal(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

package genie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature derives the webhook signature the gateway attaches to each
// delivery: sha256 over the nonce, timestamp and shared API key concatenated.
func ComputeSignature(nonce, timestamp, apiKey string) string {
	sum := sha256.Sum256([]byte(nonce + timestamp + apiKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares the supplied signature in constant time. Any
// missing component fails verification.
func VerifySignature(nonce, timestamp, apiKey, signature string) bool {
	if nonce == "" || timestamp == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(nonce, timestamp, apiKey)
	return hmac.Equal([]byte(expected), []byte(signature))
}

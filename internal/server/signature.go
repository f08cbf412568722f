package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix = "sha256="

	// GitHub request headers
	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
)

// VerifySignature verifies the HMAC-SHA256 signature from GitHub webhook.
// It never panics: absent, malformed and wrong-length headers are rejected.
// An empty secret rejects everything, since anyone can sign with it.
func VerifySignature(payload []byte, signature, secret string) bool {
	// Signature and secret must be present
	if signature == "" || secret == "" {
		return false
	}

	// Signature format: "sha256=<hex_digest>"
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}

	// Extract the hex digest by removing prefix
	receivedMAC := strings.TrimPrefix(signature, SignaturePrefix)

	// Constant-time comparison to prevent timing attacks
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(SignaturePrefix+receivedMAC))
}

// Sign computes the X-Hub-Signature-256 value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

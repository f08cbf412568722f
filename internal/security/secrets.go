package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const (
	// RecommendedSecretLength is the minimum length at which a webhook secret
	// stops producing a startup warning.
	RecommendedSecretLength = 32

	// MinEntropy is the minimum Shannon entropy (bits per character) expected
	// of a generated-looking secret.
	MinEntropy = 3.5
)

var placeholderSecrets = map[string]bool{
	"your-webhook-secret":     true,
	"replace-with-secret":     true,
	"github-webhook-password": true,
	"webhook-secret":          true,
	"topsecret":               true,
	"secret":                  true,
	"password":                true,
	"changeme":                true,
}

// ValidateSecret reports why a webhook secret is unsuitable for production.
// A nil error means the secret is long, not a known placeholder, and has
// sufficient entropy.
func ValidateSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("secret is empty")
	}

	if IsPlaceholderSecret(secret) {
		return fmt.Errorf("secret appears to be a placeholder value")
	}

	if len(secret) < RecommendedSecretLength {
		return fmt.Errorf("secret too short (recommended at least %d characters, got %d)", RecommendedSecretLength, len(secret))
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f)", entropy, MinEntropy)
	}

	if isSequential(secret) {
		return fmt.Errorf("secret is a sequential run of characters")
	}

	return nil
}

// IsPlaceholderSecret reports whether secret is one of the well-known
// example values shipped in sample configs.
func IsPlaceholderSecret(secret string) bool {
	return placeholderSecrets[strings.ToLower(strings.TrimSpace(secret))]
}

// GenerateSecret creates a cryptographically secure random secret,
// hex encoded (64 characters) so it can be pasted into GitHub unchanged.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// calculateEntropy computes the Shannon entropy of a string.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// isSequential checks if a string consists mostly of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	return float64(sequential) > float64(len(s))*0.7
}

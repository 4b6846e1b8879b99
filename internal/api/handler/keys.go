package handler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyRandomBytes = 24

// GenerateAPIKey creates a new raw API key with its lookup prefix and bcrypt
// hash. The raw key is returned to the caller exactly once; only the prefix
// and hash are stored.
func GenerateAPIKey() (raw, prefix, hash string, err error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate key: %w", err)
	}

	raw = "ci_" + hex.EncodeToString(buf)
	prefix = raw[:8]

	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash key: %w", err)
	}
	return raw, prefix, string(hashed), nil
}

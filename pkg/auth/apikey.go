package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeySecretBytes = 32

// NewAPIKeySecret returns a random secret and its bcrypt hash
func NewAPIKeySecret() (secret, hash string, err error) {
	buf := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash key: %w", err)
	}
	return secret, string(hashed), nil
}

// CompareAPIKeySecret checks a presented secret against its stored hash
func CompareAPIKeySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// FormatAPIKey joins a key id and its secret into the presented form
func FormatAPIKey(id, secret string) string {
	return id + "." + secret
}

// SplitAPIKey splits a presented key into id and secret
func SplitAPIKey(key string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(key, ".")
	if !ok || id == "" || secret == "" {
		return "", "", fmt.Errorf("malformed API key")
	}
	return id, secret, nil
}

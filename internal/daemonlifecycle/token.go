package daemonlifecycle

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/loopbackai/agentd/internal/config"
)

// tokenBytes is 128 bits, the floor required by spec §4.9.
const tokenBytes = 16

// MintToken generates a fresh ≥128-bit token, url-safe base64 encoded.
func MintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("daemonlifecycle: mint token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// WriteTokenFile persists the raw token with user-only mode bits (spec §6:
// "token: raw token (user-only mode bits)"). Never logged.
func WriteTokenFile(paths *config.Paths, token string) error {
	return os.WriteFile(paths.TokenFilePath(), []byte(token), 0o600)
}

// ReadTokenFile reads back a previously written token file.
func ReadTokenFile(paths *config.Paths) (string, error) {
	b, err := os.ReadFile(paths.TokenFilePath())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

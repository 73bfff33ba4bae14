package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// IDLength is the number of random bytes in a session ID (256 bits)
const IDLength = 32

// GenerateID creates a new session identifier.
// Format: base64url(32 random bytes), no padding
func GenerateID() (string, error) {
	randomBytes := make([]byte, IDLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// HashID computes the SHA256 of a session ID. Backends key storage by the
// hash so a dump of the backend does not expose usable cookies.
func HashID(id string) string {
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:])
}

// ValidID reports whether id has the shape GenerateID produces
func ValidID(id string) bool {
	decoded, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(decoded) == IDLength
}

// Package credential provides masking, constant-time comparison, and
// secure random identifier generation. All functions are pure; no state.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// maskVisible is how many characters remain visible at each end of a
// masked secret.
const maskVisible = 4

// Mask redacts the middle of a secret-shaped value, preserving the first
// and last four characters for operator recognition. Values too short to
// mask safely are fully redacted.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= maskVisible*2 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:maskVisible] + strings.Repeat("*", len(secret)-maskVisible*2) + secret[len(secret)-maskVisible:]
}

// ConstantTimeEquals compares two strings in constant time to prevent
// timing attacks on credential checks.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateSessionID creates a cryptographically random session identifier.
// Returns 64 hex characters (32 bytes, 256 bits of entropy).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateEventSuffix creates a short random suffix for audit event IDs.
// Returns 12 hex characters (6 bytes).
func GenerateEventSuffix() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate event suffix: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashKeySHA256 returns the SHA-256 hex hash of a raw key, prefixed with
// "sha256:" for storage in config files.
func HashKeySHA256(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return "sha256:" + hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// VerifyKey verifies a raw key against a stored hash. Supports Argon2id
// (PHC format) and "sha256:"-prefixed hex hashes. Unrecognized hash
// formats fail closed (no match, no error).
func VerifyKey(rawKey, storedHash string) bool {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		match, err := safeArgon2idCompare(rawKey, storedHash)
		return err == nil && match
	case strings.HasPrefix(storedHash, "sha256:"):
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := sha256.Sum256([]byte(rawKey))
		return ConstantTimeEquals(hex.EncodeToString(computed[:]), expected)
	default:
		return false
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying argon2 library panics on malformed hashes with
// invalid parameters (e.g. t=0 rounds); those become errors here.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

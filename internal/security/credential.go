package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// fingerprintLen is the number of hex characters of the token hash kept for log lines.
const fingerprintLen = 12

// HashToken returns a SHA-256 hash of the token string, hex-encoded.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Fingerprint returns a short, non-reversible identifier of a token suitable for logs and audit metadata.
// Returns "" for an empty token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return HashToken(token)[:fingerprintLen]
}

// CredentialEqual performs a constant-time, byte-for-byte comparison of the presented refresh token
// with the stored one. An empty stored credential never matches.
func CredentialEqual(presented, stored string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

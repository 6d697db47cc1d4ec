package security

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// decoyPassword is hashed once per Hasher and compared against when an identifier
// does not resolve to an account, so unknown and known accounts cost the same.
const decoyPassword = "vidstream-decoy-password"

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int

	decoyOnce sync.Once
	decoyHash []byte
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31). Cost 12 is a
// reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of password. Returns the hash as a string suitable for storage.
// Passwords longer than 72 bytes are rejected by bcrypt.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches the stored bcrypt hash. Mismatches, malformed
// hashes and any other bcrypt failure all report false.
func (h *Hasher) Verify(password []byte, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil
}

// DecoyVerify runs a full bcrypt comparison against a throwaway hash and discards the result.
func (h *Hasher) DecoyVerify(password []byte) {
	h.decoyOnce.Do(func() {
		h.decoyHash, _ = bcrypt.GenerateFromPassword([]byte(decoyPassword), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.decoyHash, password)
}

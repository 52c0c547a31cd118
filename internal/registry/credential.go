package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// keyPrefix is the fixed printable prefix of every generated credential.
const keyPrefix = "irm_"

// secretBytes is the amount of CSPRNG randomness hex-encoded into the
// credential (32 bytes → 64 hex chars, well over the required 32
// URL-safe characters).
const secretBytes = 32

// dummyHash is compared against on every verify() miss so that an
// unknown-key lookup costs the same order of magnitude of wall-clock
// time as a present-but-wrong-secret compare; it is never a valid hash
// for any real credential.
var dummyHash = mustHash("irm-dummy-credential-for-timing-uniformity")

func mustHash(s string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(s), minBcryptCost)
	if err != nil {
		panic(fmt.Sprintf("registry: hash dummy credential: %v", err))
	}
	return string(h)
}

const minBcryptCost = 12

// GenerateCredential returns a new plaintext API key in the irm_<hex>
// format and its bcrypt hash at the given cost.
func GenerateCredential(bcryptCost int) (plaintext, hash string, err error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate credential randomness: %w", err)
	}
	plaintext = keyPrefix + hex.EncodeToString(raw)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("hash credential: %w", err)
	}
	return plaintext, string(hashed), nil
}

// looksWellFormed rejects an obviously-wrong presented key (prefix or
// length mismatch) before it is compared against the stored hash; such a
// key is compared against dummyHash instead, closing the length-dependent
// timing side channel for the common case without weakening the
// constant-time guarantee bcrypt itself provides for same-length compares.
func looksWellFormed(presented string) bool {
	return strings.HasPrefix(presented, keyPrefix) && len(presented) == len(keyPrefix)+secretBytes*2
}

// verifyCredential reports whether presented matches hash. When hash is
// empty (source unknown to the caller), it still runs a dummy compare
// against dummyHash so lookup-miss and compare-miss take comparable time.
func verifyCredential(presented, hash string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(presented))
		return false
	}
	if !looksWellFormed(presented) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(presented))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}

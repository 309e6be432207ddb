package security

import (
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a pre-computed bcrypt hash compared against when the target
// user does not exist, so that a failed lookup and a failed password check
// take the same time. Hash of the string "dummy-password-for-timing".
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword derives a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a candidate password against a stored bcrypt hash.
// Always performs a bcrypt comparison even when the stored hash is empty
// (user unknown), preventing timing-based account enumeration.
func VerifyPassword(storedHash, candidate string) bool {
	hashToCompare := storedHash
	known := storedHash != ""
	if !known {
		hashToCompare = dummyHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(candidate))
	return known && err == nil
}

package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

// Default opaque credential lengths in characters of base64url-encoded
// output. Each credential type is independently configurable; these values
// give at least 128 bits of entropy per credential.
const (
	DefaultCodeLength              = 32
	DefaultRefreshTokenLength      = 48
	DefaultClientSecretLength      = 48
	DefaultRegistrationTokenLength = 32
)

// GenerateOpaqueToken generates a cryptographically strong random credential
// of exactly length characters in the base64url alphabet. Opaque credentials
// carry no structure and are validated only by store lookup.
func GenerateOpaqueToken(length int) string {
	if length <= 0 {
		length = DefaultCodeLength
	}
	// Three raw bytes encode to four characters; over-generate and trim.
	raw := make([]byte, (length*3+3)/4+1)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failure means the platform entropy source is broken;
		// issuing predictable credentials is never acceptable.
		panic("security: entropy source unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length]
}

// ConstantTimeEquals compares two credential strings without leaking the
// position of the first mismatch through timing.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Package token encodes and decodes the self-describing signed access token
// representation. Tokens are HMAC-SHA256 signed JWTs carrying issuer,
// audience, subject, scope, client, issued-at, and expiry claims; they are
// validated by signature check without a store lookup.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a self-describing access token. Subject is the user id
// for user-bound grants and the client's internal id for client_credentials.
type Claims struct {
	Scope    []string `json:"scope,omitempty"`
	ClientID string   `json:"client_id"`

	jwt.RegisteredClaims
}

// Codec signs and verifies self-describing access tokens.
type Codec struct {
	issuer     string
	signingKey []byte
}

// Sentinel errors returned by Decode.
var (
	// ErrInvalidToken indicates the token is malformed or its signature
	// does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates the token's expiry claim has passed
	ErrTokenExpired = errors.New("token expired")
)

// NewCodec creates a codec signing tokens on behalf of the given issuer.
// The signing key is loaded once at startup and read-only afterwards.
func NewCodec(issuer string, signingKey []byte) (*Codec, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(signingKey))
	}
	return &Codec{issuer: issuer, signingKey: signingKey}, nil
}

// Encode mints a signed token for the given subject.
func (c *Codec) Encode(subject, audience, clientID string, scopes []string, issuedAt, expireAt time.Time) (string, error) {
	claims := Claims{
		Scope:    scopes,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expireAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies a token's signature and expiry and returns its claims.
// The issuer claim must match the codec's configured issuer.
func (c *Codec) Decode(value string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(value, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return c.signingKey, nil
		},
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for expiry
	// checks. Store sweeps run in the background, so lookups can return
	// rows past their ExpireAt; consumers use this helper to reject them
	// while tolerating minor clock drift between systems.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks whether a credential is past its expiry with the default
// clock skew grace period.
func IsExpired(expireAt time.Time) bool {
	return IsExpiredWithGracePeriod(expireAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks whether a credential is past its expiry
// with a custom clock skew grace period.
func IsExpiredWithGracePeriod(expireAt time.Time, gracePeriod time.Duration) bool {
	if expireAt.IsZero() {
		return false // no expiration
	}
	return time.Now().After(expireAt.Add(gracePeriod))
}

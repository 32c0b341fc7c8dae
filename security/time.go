package security

import "time"

// DefaultClockSkewGracePeriod is how long past its expiry a code or token is still honoured.
// It absorbs small clock differences between replicas sharing a store.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired checks if a code or token is expired with the default grace period.
// A zero expiry never expires.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsExpiredAt(expiresAt, time.Now(), DefaultClockSkewGracePeriod)
}

// IsExpiredAt reports whether expiresAt plus gracePeriod lies before now.
func IsExpiredAt(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// ExpiresIn returns the whole number of seconds from now until expiresAt, never negative.
// A zero expiry yields 0.
func ExpiresIn(expiresAt, now time.Time) int64 {
	if expiresAt.IsZero() || !expiresAt.After(now) {
		return 0
	}
	return int64(expiresAt.Sub(now).Round(time.Second) / time.Second)
}

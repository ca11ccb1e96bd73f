package security

import "time"

// IsExpiredAt reports whether a record expiring at expiresAt is expired at
// now. The boundary instant counts as expired, and a zero expiry is always
// expired.
func IsExpiredAt(now, expiresAt time.Time) bool {
	return !now.Before(expiresAt)
}

// SecondsUntil returns the whole seconds from now until expiresAt, or zero
// if that instant has passed.
func SecondsUntil(now, expiresAt time.Time) int64 {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

package shm

import "time"

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// nowMillis truncates to the 32-bit millisecond clock stored in mailbox
// headers. It wraps roughly every 49 days; comparisons use unsigned
// subtraction so the wrap is harmless.
func nowMillis(tp TimeProvider) uint32 {
	return uint32(tp.Now().UnixMilli())
}

package ping

import (
	"fmt"
	"time"
)

// Validator applies the temporal acceptance window to client-asserted
// timestamps. Both checks are pure; logging and disposal are the
// caller's responsibility.
type Validator struct {
	// MaxClockSkew is how far into the future a timestamp may lie
	// before it is rejected.
	MaxClockSkew time.Duration

	// MaxAge is how far into the past a timestamp may lie before it
	// is rejected.
	MaxAge time.Duration
}

// CheckTimestamp reports whether ts is acceptable at the instant now.
// A timestamp exactly at now+MaxClockSkew or exactly MaxAge old is
// still valid; one second past either bound is not. The reason string
// reports the overage for rejected timestamps.
func (v Validator) CheckTimestamp(ts, now time.Time) (bool, string) {
	if ahead := ts.Sub(now); ahead > v.MaxClockSkew {
		return false, fmt.Sprintf("timestamp is too far in the future by %.0f seconds", (ahead - v.MaxClockSkew).Seconds())
	}
	if age := now.Sub(ts); age > v.MaxAge {
		return false, fmt.Sprintf("timestamp is too old by %.0f seconds", (age - v.MaxAge).Seconds())
	}
	return true, "timestamp is valid"
}

// Dwell returns how long a ping sat on the queue and whether that
// exceeds the warning threshold. A nil acceptedAt yields no warning.
// This is an observability signal only; it never affects validity.
func Dwell(acceptedAt *time.Time, now time.Time, threshold time.Duration) (time.Duration, bool) {
	if acceptedAt == nil {
		return 0, false
	}
	dwell := now.Sub(*acceptedAt)
	return dwell, dwell > threshold
}

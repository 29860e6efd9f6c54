package types

import "time"

// Timestamp is a wire-safe point in time expressed as milliseconds
// since the Unix epoch. Queries and blocks carry their creation time
// in this form so that hashing is independent of time zones and
// monotonic clock readings.
type Timestamp uint64

// TimeToTimestamp converts a time.Time to a Timestamp, truncating to
// millisecond precision.
func TimeToTimestamp(t time.Time) Timestamp {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return Timestamp(ms)
}

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp { return TimeToTimestamp(time.Now()) }

// ToTime converts a Timestamp to a time.Time (UTC).
func (ts Timestamp) ToTime() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

package domain

import "time"

// TimestampLayout is the wire format for every timestamp the gateway emits:
// UTC, millisecond precision, literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t in TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

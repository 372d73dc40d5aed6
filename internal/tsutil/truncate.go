// Package tsutil centralizes microsecond timestamp truncation. Every write
// path must truncate at the engine boundary so the ring buffer and the
// on-disk log compare timestamps as equal sets.
package tsutil

import "time"

// MaxClockSkew bounds how far into the future a caller-supplied timestamp
// may sit relative to "now" before the engine rejects it.
const MaxClockSkew = 24 * time.Hour

// TruncateMicros truncates t to microsecond resolution and returns
// microseconds since the Unix epoch.
func TruncateMicros(t time.Time) int64 {
	return t.UnixMicro()
}

// NowMicros returns the current time truncated to microseconds.
func NowMicros() int64 {
	return TruncateMicros(time.Now())
}

// Package clock centralizes time and ID generation so the rest of the
// codebase never calls time.Now or uuid.New directly.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the indirection point for "now." Production code uses Real;
// tests substitute Frozen to pin timestamps.
type Clock interface {
	Now() time.Time
}

// Real returns the system clock in UTC.
type Real struct{}

// Now returns the current time in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Frozen is a Clock that always returns the same instant, for tests that
// need deterministic created_at/last_modified_at values.
type Frozen struct {
	At time.Time
}

// Now returns the frozen instant.
func (f Frozen) Now() time.Time { return f.At }

// ISO8601Layout is the wire format for all datetimes: UTC with a literal Z.
const ISO8601Layout = "2006-01-02T15:04:05.000Z"

// FormatISO8601 renders t in UTC using the wire-format layout.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(ISO8601Layout)
}

// ParseISO8601 parses a wire-format timestamp, tolerating the handful of
// RFC3339 variants upstream feeds and stored documents actually emit.
func ParseISO8601(s string) (time.Time, error) {
	for _, layout := range []string{ISO8601Layout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: ISO8601Layout, Value: s}
}

// NewID returns an opaque identifier suitable for sub-document ids
// (comments, references, etc.) and any other place the data model calls
// for one.
func NewID() string {
	return uuid.NewString()
}

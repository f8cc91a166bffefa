package models

import (
	"fmt"
	"time"
)

// Range is a time interval in milliseconds since the Unix epoch. Both bounds
// are bar-open instants; requests treat the interval as closed on both ends.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// NewRange builds a Range from two wall-clock instants.
func NewRange(start, end time.Time) Range {
	return Range{Start: start.UnixMilli(), End: end.UnixMilli()}
}

// Validate rejects zero-length and inverted intervals. Callers validate
// requests before they reach the coverage resolver, which assumes a
// well-formed range.
func (r Range) Validate() error {
	if r.Start < 0 {
		return &ValidationError{Field: "start", Message: "start must not precede the epoch"}
	}
	if r.Start >= r.End {
		return &ValidationError{Field: "end", Message: fmt.Sprintf("end (%d) must be after start (%d)", r.End, r.Start)}
	}
	return nil
}

// Contains reports whether the instant ts falls inside the closed interval.
func (r Range) Contains(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}

// Duration returns the span of the range.
func (r Range) Duration() time.Duration {
	return time.Duration(r.End-r.Start) * time.Millisecond
}

// String returns the range bounds in RFC 3339 form.
func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]",
		time.UnixMilli(r.Start).UTC().Format(time.RFC3339),
		time.UnixMilli(r.End).UTC().Format(time.RFC3339))
}

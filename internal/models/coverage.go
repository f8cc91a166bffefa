package models

import (
	"fmt"
	"time"
)

// CoverageRecord summarizes the contiguous [earliest, latest] envelope of
// stored data for one key. Both bounds are bar-open times in milliseconds.
// The record exists only while at least one row exists for the key; it is
// recomputed from the row table on every merge and removed on delete.
//
// The envelope deliberately does not represent interior holes: a partial
// delete or a mid-range provider outage is invisible to it. See the resolver
// documentation for the consequences.
type CoverageRecord struct {
	Symbol    string `json:"symbol" db:"symbol"`
	Timeframe string `json:"timeframe" db:"timeframe"` // empty for tick coverage lookups
	Earliest  int64  `json:"earliest_timestamp" db:"start_timestamp"`
	Latest    int64  `json:"latest_timestamp" db:"end_timestamp"`
}

// Validate checks the envelope invariant earliest <= latest.
func (c *CoverageRecord) Validate() error {
	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if c.Earliest > c.Latest {
		return &ValidationError{
			Field:   "earliest_timestamp",
			Message: fmt.Sprintf("earliest (%d) must not exceed latest (%d)", c.Earliest, c.Latest),
		}
	}
	return nil
}

// Envelope returns the covered interval as a Range.
func (c *CoverageRecord) Envelope() Range {
	return Range{Start: c.Earliest, End: c.Latest}
}

// String returns a human-readable representation of the record.
func (c *CoverageRecord) String() string {
	tf := c.Timeframe
	if tf == "" {
		tf = "tick"
	}
	return fmt.Sprintf("Coverage{%s/%s: %s .. %s}", c.Symbol, tf,
		time.UnixMilli(c.Earliest).UTC().Format(time.RFC3339),
		time.UnixMilli(c.Latest).UTC().Format(time.RFC3339))
}

// CoverageInfo is a CoverageRecord annotated with the stored row count,
// returned by stored-data enumeration for operator tooling.
type CoverageInfo struct {
	CoverageRecord
	Rows int64 `json:"rows" db:"rows"`
}

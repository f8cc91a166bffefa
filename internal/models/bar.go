// Package models provides the data structures and validation for OHLCV and
// tick market data. Timestamps are integer milliseconds since the Unix epoch
// (UTC) and always denote the open instant of a bar, never its close.
package models

import (
	"fmt"
	"time"
)

// Bar represents one OHLCV record for a (symbol, timeframe) pair.
// Timestamp is part of the storage primary key together with symbol and
// timeframe, so for a fixed key it is unique.
type Bar struct {
	Timestamp int64   `json:"timestamp" db:"timestamp" parquet:"timestamp"` // bar open time, ms since epoch, UTC
	Open      float64 `json:"open" db:"open" parquet:"open"`
	High      float64 `json:"high" db:"high" parquet:"high"`
	Low       float64 `json:"low" db:"low" parquet:"low"`
	Close     float64 `json:"close" db:"close" parquet:"close"`
	Volume    float64 `json:"volume" db:"volume" parquet:"volume"`
}

// ValidationError represents a model validation error with field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message describes the validation failure
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that the bar carries a usable timestamp, positive prices,
// a non-negative volume, and internally consistent OHLC relationships
// (high >= max(open, close), low <= min(open, close)).
func (b *Bar) Validate() error {
	if b.Timestamp < 0 {
		return &ValidationError{Field: "timestamp", Message: "timestamp must not precede the epoch"}
	}
	if b.Open <= 0 {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if b.High <= 0 {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if b.Low <= 0 {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if b.Close <= 0 {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if b.Volume < 0 {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := b.Open
	if b.Close > maxOpenClose {
		maxOpenClose = b.Close
	}
	if b.High < maxOpenClose {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%g) must be greater than or equal to max(open, close) (%g)", b.High, maxOpenClose),
		}
	}

	minOpenClose := b.Open
	if b.Close < minOpenClose {
		minOpenClose = b.Close
	}
	if b.Low > minOpenClose {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%g) must be less than or equal to min(open, close) (%g)", b.Low, minOpenClose),
		}
	}

	return nil
}

// Time returns the bar open time as a time.Time in UTC.
func (b *Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// String returns a human-readable representation of the bar.
func (b *Bar) String() string {
	return fmt.Sprintf("Bar{Timestamp: %s, O: %g, H: %g, L: %g, C: %g, V: %g}",
		b.Time().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
}

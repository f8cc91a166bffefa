package models

import (
	"fmt"
	"time"
)

// Tick represents one bid/ask quote. Ticks have no timeframe; they are keyed
// by (timestamp, symbol, source) in storage and their coverage envelope is
// tracked per symbol only.
type Tick struct {
	Timestamp int64   `json:"timestamp" db:"timestamp" parquet:"timestamp"` // quote time, ms since epoch, UTC
	Bid       float64 `json:"bid" db:"bid" parquet:"bid"`
	Ask       float64 `json:"ask" db:"ask" parquet:"ask"`
	BidVolume float64 `json:"bid_volume" db:"bid_volume" parquet:"bid_volume"`
	AskVolume float64 `json:"ask_volume" db:"ask_volume" parquet:"ask_volume"`
}

// Validate checks the quote for a usable timestamp, positive prices, a
// non-crossed book (ask >= bid), and non-negative volumes.
func (t *Tick) Validate() error {
	if t.Timestamp < 0 {
		return &ValidationError{Field: "timestamp", Message: "timestamp must not precede the epoch"}
	}
	if t.Bid <= 0 {
		return &ValidationError{Field: "bid", Message: "bid price must be greater than 0"}
	}
	if t.Ask <= 0 {
		return &ValidationError{Field: "ask", Message: "ask price must be greater than 0"}
	}
	if t.Ask < t.Bid {
		return &ValidationError{Field: "ask", Message: fmt.Sprintf("ask price (%g) must not be below bid price (%g)", t.Ask, t.Bid)}
	}
	if t.BidVolume < 0 {
		return &ValidationError{Field: "bid_volume", Message: "bid volume must be greater than or equal to 0"}
	}
	if t.AskVolume < 0 {
		return &ValidationError{Field: "ask_volume", Message: "ask volume must be greater than or equal to 0"}
	}
	return nil
}

// Mid returns the mid price (bid+ask)/2, used when resampling ticks to bars.
func (t *Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// TotalVolume returns the combined bid and ask volume of the quote.
func (t *Tick) TotalVolume() float64 {
	return t.BidVolume + t.AskVolume
}

// Time returns the quote time as a time.Time in UTC.
func (t *Tick) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

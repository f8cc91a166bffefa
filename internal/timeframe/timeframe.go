// Package timeframe provides the static catalog of supported timeframe
// tokens and their durations. The catalog is the single place the rest of
// the system reasons about bar boundaries and staleness.
package timeframe

import "time"

// durations maps canonical timeframe tokens to their length in milliseconds.
// "1M" uses a fixed 30-day approximation; calendar months are not tracked.
var durations = map[string]int64{
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"6h":  21_600_000,
	"8h":  28_800_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
	"3d":  259_200_000,
	"1w":  604_800_000,
	"1M":  2_592_000_000,
}

// ordered lists the tokens from finest to coarsest for enumeration.
var ordered = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

// DurationMS returns the duration of a timeframe token in milliseconds.
// Unknown tokens return ok=false, never zero: callers that cannot resolve a
// duration must fall back to treating coverage ends as open instants.
func DurationMS(tf string) (int64, bool) {
	d, ok := durations[tf]
	return d, ok
}

// Duration returns the timeframe length as a time.Duration.
func Duration(tf string) (time.Duration, bool) {
	ms, ok := durations[tf]
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// IsValid reports whether tf is a known timeframe token.
func IsValid(tf string) bool {
	_, ok := durations[tf]
	return ok
}

// All returns the supported tokens ordered from finest to coarsest.
func All() []string {
	out := make([]string, len(ordered))
	copy(out, ordered)
	return out
}

// Truncate floors a millisecond timestamp to the open of its bucket for the
// given bucket size. Used by the resampler and for freshness math.
func Truncate(ts, bucketMS int64) int64 {
	if bucketMS <= 0 {
		return ts
	}
	return (ts / bucketMS) * bucketMS
}

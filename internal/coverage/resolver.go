// Package coverage implements the decision logic that classifies a requested
// time range against the stored coverage envelope for a key. The resolver is
// pure: it performs no I/O and operates only on a CoverageRecord (or its
// absence), the requested Range, and the timeframe duration.
//
// Coverage is an envelope, not an exact interval set: only the contiguous
// [earliest, latest] bounds are tracked, so a hole punched in the middle of
// previously fetched data is invisible to classification. Requests are
// assumed well-formed (start < end); callers validate before resolving.
package coverage

import (
	"time"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

// Decision classifies how a request relates to existing coverage.
type Decision int

const (
	// None means no usable overlap exists; the whole request is missing.
	None Decision = iota
	// Partial means the envelope covers part of the request.
	Partial
	// Full means the envelope (or the freshness exception) satisfies the
	// request entirely; nothing needs fetching.
	Full
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case None:
		return "none"
	case Partial:
		return "partial"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Result is the outcome of classifying one request.
type Result struct {
	Decision Decision

	// Missing holds the disjoint sub-ranges that must be fetched upstream,
	// ordered ascending. Empty when Decision is Full. A leading gap ends at
	// the envelope's earliest bar open (exclusive); a trailing gap starts at
	// the adjusted coverage end.
	Missing []models.Range

	// Fresh is set when the request was satisfied by the freshness
	// exception: the requested end lies beyond stored coverage, but the
	// newest stored bar is the still-open current bar or at most one bar
	// period stale, so a re-fetch would chase data that does not exist yet.
	Fresh bool
}

// Resolver classifies requests against coverage envelopes. The wall clock is
// injected so that freshness decisions are deterministic under test.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver. A nil clock defaults to time.Now.
func NewResolver(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Classify decides whether the request is fully covered, partially covered,
// or not covered at all, and computes the missing sub-ranges to fetch.
// durationMS is the timeframe duration in milliseconds, or 0 when unknown;
// a known duration lets the newest stored bar cover its whole interval
// rather than just its open instant.
func (r *Resolver) Classify(req models.Range, cov *models.CoverageRecord, durationMS int64) Result {
	if cov == nil {
		return Result{Decision: None, Missing: []models.Range{req}}
	}

	adjustedEnd := cov.Latest
	if durationMS > 0 {
		adjustedEnd = cov.Latest + durationMS - 1
	}

	if req.End > adjustedEnd && durationMS > 0 {
		nowMS := r.now().UnixMilli()
		staleness := nowMS - adjustedEnd
		if staleness < 0 {
			staleness = -staleness
		}
		if staleness < 2*durationMS {
			return Result{Decision: Full, Fresh: true}
		}
	}

	if cov.Earliest <= req.Start && adjustedEnd >= req.End {
		return Result{Decision: Full}
	}

	var missing []models.Range
	if req.Start < cov.Earliest {
		missing = append(missing, models.Range{Start: req.Start, End: cov.Earliest})
	}
	if req.End > adjustedEnd {
		missing = append(missing, models.Range{Start: adjustedEnd, End: req.End})
	}

	decision := Partial
	if cov.Earliest > req.End || adjustedEnd < req.Start {
		decision = None
	}
	return Result{Decision: decision, Missing: missing}
}

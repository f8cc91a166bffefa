// Package resample aggregates fine-grained series into coarser timeframes.
// Bars are bucketed by flooring their open timestamp to the target duration;
// buckets with no source data are omitted rather than filled. A trailing
// bucket built from fewer source rows than a full period holds is still
// emitted, matching how exchanges report the current, still-forming bar.
package resample

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
	"github.com/St0rmMaster/binance-data-framework/internal/timeframe"
)

// Bars aggregates source bars into buckets of targetMS milliseconds.
// Input does not need to be sorted; output is sorted by bucket open.
// The source bars' own timeframe must be finer than targetMS for the
// result to be meaningful, but this is not enforced here.
func Bars(bars []models.Bar, targetMS int64) ([]models.Bar, error) {
	if targetMS <= 0 {
		return nil, fmt.Errorf("resample: invalid target duration %d", targetMS)
	}
	if len(bars) == 0 {
		return nil, nil
	}

	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var out []models.Bar
	var cur models.Bar
	var curVol decimal.Decimal
	open := false

	flush := func() {
		cur.Volume = curVol.InexactFloat64()
		out = append(out, cur)
	}

	for _, b := range sorted {
		bucket := timeframe.Truncate(b.Timestamp, targetMS)
		if open && bucket == cur.Timestamp {
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			curVol = curVol.Add(decimal.NewFromFloat(b.Volume))
			continue
		}
		if open {
			flush()
		}
		cur = models.Bar{
			Timestamp: bucket,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
		}
		curVol = decimal.NewFromFloat(b.Volume)
		open = true
	}
	flush()
	return out, nil
}

// Ticks aggregates raw ticks into bars of targetMS milliseconds using the
// mid price (bid+ask)/2 for OHLC. Volume is the sum of bid and ask volume
// across the bucket. Empty buckets are omitted.
func Ticks(ticks []models.Tick, targetMS int64) ([]models.Bar, error) {
	if targetMS <= 0 {
		return nil, fmt.Errorf("resample: invalid target duration %d", targetMS)
	}
	if len(ticks) == 0 {
		return nil, nil
	}

	sorted := make([]models.Tick, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var out []models.Bar
	var cur models.Bar
	var curVol decimal.Decimal
	open := false

	flush := func() {
		cur.Volume = curVol.InexactFloat64()
		out = append(out, cur)
	}

	for _, tk := range sorted {
		bucket := timeframe.Truncate(tk.Timestamp, targetMS)
		mid := tk.Mid()
		if open && bucket == cur.Timestamp {
			if mid > cur.High {
				cur.High = mid
			}
			if mid < cur.Low {
				cur.Low = mid
			}
			cur.Close = mid
			curVol = curVol.Add(decimal.NewFromFloat(tk.TotalVolume()))
			continue
		}
		if open {
			flush()
		}
		cur = models.Bar{
			Timestamp: bucket,
			Open:      mid,
			High:      mid,
			Low:       mid,
			Close:     mid,
		}
		curVol = decimal.NewFromFloat(tk.TotalVolume())
		open = true
	}
	flush()
	return out, nil
}

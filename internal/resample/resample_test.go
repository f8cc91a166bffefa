package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

const (
	minuteMS = 60_000
	hourMS   = 3_600_000
)

func minuteBars(startMS int64, n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		p := 100.0 + float64(i)
		bars[i] = models.Bar{
			Timestamp: startMS + int64(i)*minuteMS,
			Open:      p,
			High:      p + 0.5,
			Low:       p - 0.5,
			Close:     p + 0.25,
			Volume:    1.5,
		}
	}
	return bars
}

func TestBarsHourFromMinutes(t *testing.T) {
	src := minuteBars(0, 120)

	out, err := Bars(src, hourMS)
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, int64(0), first.Timestamp)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 159.5, first.High)
	assert.Equal(t, 99.5, first.Low)
	assert.Equal(t, 159.25, first.Close)
	assert.InDelta(t, 90.0, first.Volume, 1e-9)

	second := out[1]
	assert.Equal(t, int64(hourMS), second.Timestamp)
	assert.Equal(t, 160.0, second.Open)
	assert.Equal(t, 219.25, second.Close)
}

func TestBarsKeepsTrailingPartialBucket(t *testing.T) {
	// 90 minutes of data: one full hour plus a half-formed second hour.
	src := minuteBars(0, 90)

	out, err := Bars(src, hourMS)
	require.NoError(t, err)
	require.Len(t, out, 2)

	partial := out[1]
	assert.Equal(t, int64(hourMS), partial.Timestamp)
	assert.Equal(t, 160.0, partial.Open)
	assert.Equal(t, 189.25, partial.Close)
	assert.InDelta(t, 45.0, partial.Volume, 1e-9)
}

func TestBarsOmitsEmptyBuckets(t *testing.T) {
	src := append(minuteBars(0, 5), minuteBars(2*hourMS, 5)...)

	out, err := Bars(src, hourMS)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(0), out[0].Timestamp)
	assert.Equal(t, int64(2*hourMS), out[1].Timestamp)
}

func TestBarsUnsortedInput(t *testing.T) {
	src := minuteBars(0, 60)
	src[0], src[59] = src[59], src[0]

	out, err := Bars(src, hourMS)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[0].Open)
	assert.Equal(t, 159.25, out[0].Close)
}

func TestBarsEmptyAndInvalid(t *testing.T) {
	out, err := Bars(nil, hourMS)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = Bars(minuteBars(0, 1), 0)
	assert.Error(t, err)
}

func TestTicksMidPriceAggregation(t *testing.T) {
	ticks := []models.Tick{
		{Timestamp: 0, Bid: 99.0, Ask: 101.0, BidVolume: 1, AskVolume: 2},    // mid 100
		{Timestamp: 10_000, Bid: 104.0, Ask: 106.0, BidVolume: 1, AskVolume: 1}, // mid 105
		{Timestamp: 50_000, Bid: 97.0, Ask: 99.0, BidVolume: 2, AskVolume: 1},   // mid 98
		{Timestamp: 70_000, Bid: 100.0, Ask: 102.0, BidVolume: 1, AskVolume: 1}, // next minute
	}

	out, err := Ticks(ticks, minuteMS)
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, int64(0), first.Timestamp)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 105.0, first.High)
	assert.Equal(t, 98.0, first.Low)
	assert.Equal(t, 98.0, first.Close)
	assert.InDelta(t, 8.0, first.Volume, 1e-9)

	assert.Equal(t, int64(minuteMS), out[1].Timestamp)
	assert.Equal(t, 101.0, out[1].Open)
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBar() Bar {
	return Bar{Timestamp: 1640995200000, Open: 100, High: 110, Low: 95, Close: 105, Volume: 12.5}
}

func TestBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Bar)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Bar) {}},
		{name: "epoch timestamp is valid", mutate: func(b *Bar) { b.Timestamp = 0 }},
		{name: "zero volume is valid", mutate: func(b *Bar) { b.Volume = 0 }},
		{name: "negative timestamp", mutate: func(b *Bar) { b.Timestamp = -1 }, field: "timestamp", wantErr: true},
		{name: "zero open", mutate: func(b *Bar) { b.Open = 0 }, field: "open", wantErr: true},
		{name: "negative close", mutate: func(b *Bar) { b.Close = -5 }, field: "close", wantErr: true},
		{name: "negative volume", mutate: func(b *Bar) { b.Volume = -1 }, field: "volume", wantErr: true},
		{name: "high below close", mutate: func(b *Bar) { b.High = 104 }, field: "high", wantErr: true},
		{name: "low above open", mutate: func(b *Bar) { b.Low = 101 }, field: "low", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBar()
			tt.mutate(&b)
			err := b.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBarTime(t *testing.T) {
	b := Bar{Timestamp: 1640995200000}
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), b.Time())
	assert.Equal(t, time.UTC, b.Time().Location())
}

func TestTickValidate(t *testing.T) {
	valid := Tick{Timestamp: 1000, Bid: 1.1000, Ask: 1.1002, BidVolume: 0.5, AskVolume: 0.7}
	assert.NoError(t, valid.Validate())

	crossed := valid
	crossed.Ask = 1.0990
	err := crossed.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ask", verr.Field)

	negVol := valid
	negVol.BidVolume = -1
	assert.Error(t, negVol.Validate())

	early := valid
	early.Timestamp = -1
	assert.Error(t, early.Validate())

	// Equal bid and ask is a legal locked book.
	locked := valid
	locked.Ask = locked.Bid
	assert.NoError(t, locked.Validate())
}

func TestTickDerived(t *testing.T) {
	tk := Tick{Bid: 1.10, Ask: 1.12, BidVolume: 2, AskVolume: 3}
	assert.InDelta(t, 1.11, tk.Mid(), 1e-12)
	assert.InDelta(t, 5.0, tk.TotalVolume(), 1e-12)
}

func TestRangeValidate(t *testing.T) {
	assert.NoError(t, Range{Start: 0, End: 1}.Validate())
	assert.Error(t, Range{Start: -1, End: 10}.Validate())
	assert.Error(t, Range{Start: 10, End: 10}.Validate())
	assert.Error(t, Range{Start: 20, End: 10}.Validate())
}

func TestRangeContains(t *testing.T) {
	r := Range{Start: 1000, End: 2000}
	assert.True(t, r.Contains(1000))
	assert.True(t, r.Contains(2000))
	assert.True(t, r.Contains(1500))
	assert.False(t, r.Contains(999))
	assert.False(t, r.Contains(2001))
}

func TestRangeHelpers(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	r := NewRange(start, end)
	assert.Equal(t, start.UnixMilli(), r.Start)
	assert.Equal(t, time.Hour, r.Duration())
	assert.Equal(t, "[2024-03-01T00:00:00Z, 2024-03-01T01:00:00Z]", r.String())
}

func TestCoverageRecord(t *testing.T) {
	rec := CoverageRecord{Symbol: "BTCUSDT", Timeframe: "1m", Earliest: 1000, Latest: 2000}
	assert.NoError(t, rec.Validate())
	assert.Equal(t, Range{Start: 1000, End: 2000}, rec.Envelope())

	inverted := rec
	inverted.Earliest, inverted.Latest = 2000, 1000
	assert.Error(t, inverted.Validate())

	unnamed := rec
	unnamed.Symbol = ""
	assert.Error(t, unnamed.Validate())

	tick := CoverageRecord{Symbol: "EURUSD", Earliest: 0, Latest: 0}
	assert.NoError(t, tick.Validate())
	assert.Contains(t, tick.String(), "EURUSD/tick")
}

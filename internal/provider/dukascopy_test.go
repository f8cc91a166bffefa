package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeTickRecord builds one 20-byte feed record.
func encodeTickRecord(msOffset, askPoints, bidPoints uint32, askVol, bidVol float32) []byte {
	rec := make([]byte, dukascopyRecordSize)
	binary.BigEndian.PutUint32(rec[0:4], msOffset)
	binary.BigEndian.PutUint32(rec[4:8], askPoints)
	binary.BigEndian.PutUint32(rec[8:12], bidPoints)
	binary.BigEndian.PutUint32(rec[12:16], math.Float32bits(askVol))
	binary.BigEndian.PutUint32(rec[16:20], math.Float32bits(bidVol))
	return rec
}

func compressLZMA(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodeTicks(t *testing.T) {
	const hourStart = int64(3_600_000)
	payload := append(
		encodeTickRecord(250, 108502, 108497, 1.25, 0.75),
		encodeTickRecord(900, 108510, 108505, 2.0, 1.0)...,
	)

	ticks, err := decodeTicks(payload, hourStart, 1e-5)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	first := ticks[0]
	assert.Equal(t, hourStart+250, first.Timestamp)
	assert.InDelta(t, 1.08502, first.Ask, 1e-9)
	assert.InDelta(t, 1.08497, first.Bid, 1e-9)
	assert.InDelta(t, 1.25, first.AskVolume, 1e-6)
	assert.InDelta(t, 0.75, first.BidVolume, 1e-6)
}

func TestDecodeTicksRejectsTruncatedPayload(t *testing.T) {
	_, err := decodeTicks(make([]byte, dukascopyRecordSize+3), 0, 1e-5)
	assert.Error(t, err)
}

func TestDukascopyGetTicks(t *testing.T) {
	hour0 := compressLZMA(t, append(
		encodeTickRecord(100, 108502, 108497, 1, 1),
		encodeTickRecord(3_599_000, 108520, 108515, 1, 1)...,
	))
	hour1 := compressLZMA(t, encodeTickRecord(500, 108530, 108525, 1, 1))

	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/EURUSD/1970/00/01/00h_ticks.bi5":
			_, _ = w.Write(hour0)
		case "/EURUSD/1970/00/01/01h_ticks.bi5":
			_, _ = w.Write(hour1)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	d := NewDukascopyWithBaseURL(server.URL, testLogger())
	ticks, err := d.GetTicks(context.Background(), "EURUSD", models.Range{Start: 0, End: 2*dukascopyHourMS - 1})

	require.NoError(t, err)
	require.Len(t, ticks, 3)
	assert.Equal(t, []string{
		"/EURUSD/1970/00/01/00h_ticks.bi5",
		"/EURUSD/1970/00/01/01h_ticks.bi5",
	}, paths)
	assert.Equal(t, int64(100), ticks[0].Timestamp)
	assert.Equal(t, dukascopyHourMS+500, ticks[2].Timestamp)
	assert.InDelta(t, 1.08530, ticks[2].Ask, 1e-9)
}

func TestDukascopyGetTicksFiltersRange(t *testing.T) {
	hour0 := compressLZMA(t, append(
		encodeTickRecord(100, 108502, 108497, 1, 1),
		encodeTickRecord(2000, 108510, 108505, 1, 1)...,
	))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(hour0)
	}))
	defer server.Close()

	d := NewDukascopyWithBaseURL(server.URL, testLogger())
	ticks, err := d.GetTicks(context.Background(), "EURUSD", models.Range{Start: 1000, End: 3000})

	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, int64(2000), ticks[0].Timestamp)
}

func TestDukascopyGetTicksMissingHourIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer server.Close()

	d := NewDukascopyWithBaseURL(server.URL, testLogger())
	ticks, err := d.GetTicks(context.Background(), "EURUSD", models.Range{Start: 0, End: dukascopyHourMS})

	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestDukascopyCapabilities(t *testing.T) {
	d := NewDukascopy(testLogger())

	assert.Equal(t, "dukascopy", d.Name())
	assert.False(t, d.SupportsTimeframe("1m"))

	_, err := d.GetBars(context.Background(), "EURUSD", "1m", models.Range{Start: 0, End: 1000})
	assert.ErrorIs(t, err, ErrBarsUnsupported)
}

func TestPointScale(t *testing.T) {
	assert.Equal(t, 1e-5, pointScale("EURUSD"))
	assert.Equal(t, 1e-3, pointScale("usdjpy"))
}

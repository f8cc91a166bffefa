package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
	"github.com/St0rmMaster/binance-data-framework/internal/storage"
)

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	s := storage.NewMemoryStore()
	bars := []models.Bar{
		{Timestamp: 60_000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 12.5},
		{Timestamp: 120_000, Open: 100.5, High: 102, Low: 100, Close: 101, Volume: 8},
	}
	require.NoError(t, s.Merge(context.Background(), "BTCUSDT", "1m", bars))

	ticks := []models.Tick{
		{Timestamp: 1000, Bid: 99, Ask: 101, BidVolume: 1, AskVolume: 2},
	}
	require.NoError(t, s.MergeTicks(context.Background(), "EURUSD", "dukascopy", ticks))
	return s
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, CSV, f)

	f, err = ParseFormat("parquet")
	require.NoError(t, err)
	assert.Equal(t, Parquet, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestBarsCSV(t *testing.T) {
	e := New(seededStore(t))
	path := filepath.Join(t.TempDir(), "bars.csv")

	n, err := e.Bars(context.Background(), "BTCUSDT", "1m", models.Range{Start: 0, End: 200_000}, path, CSV)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"timestamp", "time", "open", "high", "low", "close", "volume"}, records[0])
	assert.Equal(t, "60000", records[1][0])
	assert.Equal(t, "1970-01-01T00:01:00Z", records[1][1])
	assert.Equal(t, "100.5", records[1][5])
}

func TestBarsParquetRoundTrip(t *testing.T) {
	e := New(seededStore(t))
	path := filepath.Join(t.TempDir(), "bars.parquet")

	n, err := e.Bars(context.Background(), "BTCUSDT", "1m", models.Range{Start: 0, End: 200_000}, path, Parquet)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := parquet.ReadFile[models.Bar](path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(60_000), rows[0].Timestamp)
	assert.Equal(t, 100.5, rows[0].Close)
}

func TestTicksCSV(t *testing.T) {
	e := New(seededStore(t))
	path := filepath.Join(t.TempDir(), "sub", "ticks.csv")

	n, err := e.Ticks(context.Background(), "EURUSD", models.Range{Start: 0, End: 5000}, path, CSV)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "99", records[1][2])
	assert.Equal(t, "101", records[1][3])
}

func TestBarsEmptyRangeStillWritesHeader(t *testing.T) {
	e := New(seededStore(t))
	path := filepath.Join(t.TempDir(), "empty.csv")

	n, err := e.Bars(context.Background(), "BTCUSDT", "1m", models.Range{Start: 900_000, End: 950_000}, path, CSV)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,time,open")
}

func TestBarsUnknownFormat(t *testing.T) {
	e := New(seededStore(t))
	_, err := e.Bars(context.Background(), "BTCUSDT", "1m", models.Range{Start: 0, End: 1}, "out.bin", Format("bin"))
	assert.Error(t, err)
}

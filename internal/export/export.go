// Package export writes stored series to files for downstream analysis.
// CSV carries a header row and RFC 3339 open times next to the raw
// millisecond timestamps; Parquet writes the model structs directly.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
	"github.com/St0rmMaster/binance-data-framework/internal/storage"
)

// Format selects the output encoding.
type Format string

const (
	CSV     Format = "csv"
	Parquet Format = "parquet"
)

// ParseFormat maps a user-supplied format token, defaulting to CSV.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "csv":
		return CSV, nil
	case "parquet":
		return Parquet, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Exporter reads series from storage and writes them to files.
type Exporter struct {
	store storage.Store
}

// New creates an Exporter over the given store.
func New(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// Bars exports the bars of a key inside the closed range r to path.
// It returns the number of rows written.
func (e *Exporter) Bars(ctx context.Context, symbol, timeframe string, r models.Range, path string, format Format) (int, error) {
	bars, err := e.store.ReadRange(ctx, symbol, timeframe, r)
	if err != nil {
		return 0, fmt.Errorf("read bars: %w", err)
	}

	switch format {
	case CSV:
		err = writeBarsCSV(path, bars)
	case Parquet:
		err = writeParquet(path, bars)
	default:
		err = fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(bars), nil
}

// Ticks exports the ticks of a symbol inside the closed range r to path.
func (e *Exporter) Ticks(ctx context.Context, symbol string, r models.Range, path string, format Format) (int, error) {
	ticks, err := e.store.ReadTickRange(ctx, symbol, r)
	if err != nil {
		return 0, fmt.Errorf("read ticks: %w", err)
	}

	switch format {
	case CSV:
		err = writeTicksCSV(path, ticks)
	case Parquet:
		err = writeParquet(path, ticks)
	default:
		err = fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(ticks), nil
}

func writeBarsCSV(path string, bars []models.Bar) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		record := []string{
			strconv.FormatInt(b.Timestamp, 10),
			b.Time().Format(time.RFC3339),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeTicksCSV(path string, ticks []models.Tick) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "time", "bid", "ask", "bid_volume", "ask_volume"}); err != nil {
		return err
	}
	for _, tk := range ticks {
		record := []string{
			strconv.FormatInt(tk.Timestamp, 10),
			tk.Time().Format(time.RFC3339),
			formatFloat(tk.Bid),
			formatFloat(tk.Ask),
			formatFloat(tk.BidVolume),
			formatFloat(tk.AskVolume),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeParquet[T any](path string, rows []T) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return parquet.WriteFile(path, rows)
}

func createFile(path string) (*os.File, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

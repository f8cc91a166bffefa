package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/time/rate"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

const (
	dukascopyBaseURL = "https://datafeed.dukascopy.com/datafeed"

	// One .bi5 file per instrument per hour.
	dukascopyHourMS = int64(time.Hour / time.Millisecond)

	// Each decompressed record is 20 bytes, big endian: millisecond offset
	// into the hour, ask and bid prices in points, ask and bid volumes.
	dukascopyRecordSize = 20

	dukascopyRequestsPerSecond = 5
	dukascopyBurst             = 1
	dukascopyRequestTimeout    = 30 * time.Second
	dukascopyMaxRetries        = 3
)

// Dukascopy serves raw tick data from the Dukascopy historical data feed.
// The feed exposes one LZMA-compressed file per instrument per hour, so a
// range request walks the hours it spans. Bars are not served natively;
// callers resample ticks instead.
type Dukascopy struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

var _ Provider = (*Dukascopy)(nil)

// NewDukascopy creates a Dukascopy adapter with default transport settings.
func NewDukascopy(logger *slog.Logger) *Dukascopy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dukascopy{
		httpClient:  &http.Client{Timeout: dukascopyRequestTimeout},
		rateLimiter: rate.NewLimiter(rate.Limit(dukascopyRequestsPerSecond), dukascopyBurst),
		baseURL:     dukascopyBaseURL,
		logger:      logger,
	}
}

// NewDukascopyWithBaseURL creates an adapter pointed at an alternate
// endpoint. Used by tests to run against a local server.
func NewDukascopyWithBaseURL(baseURL string, logger *slog.Logger) *Dukascopy {
	d := NewDukascopy(logger)
	d.baseURL = baseURL
	return d
}

// Name implements Provider.
func (d *Dukascopy) Name() string { return "dukascopy" }

// SupportsTimeframe implements Provider. The feed is tick-only.
func (d *Dukascopy) SupportsTimeframe(string) bool { return false }

// GetBars implements Provider.
func (d *Dukascopy) GetBars(ctx context.Context, symbol, tf string, r models.Range) ([]models.Bar, error) {
	return nil, ErrBarsUnsupported
}

// ListSymbols implements Provider. The feed has no discovery endpoint, so
// this returns the instruments the framework is configured to work with.
func (d *Dukascopy) ListSymbols(ctx context.Context) ([]Symbol, error) {
	names := []string{"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "USDCAD", "NZDUSD", "XAUUSD"}
	symbols := make([]Symbol, 0, len(names))
	for _, n := range names {
		symbols = append(symbols, Symbol{
			Name:       n,
			BaseAsset:  n[:3],
			QuoteAsset: n[3:],
			Active:     true,
		})
	}
	return symbols, nil
}

// GetTicks implements Provider. Ticks are fetched hour by hour; hours with
// no trading (weekends, holidays) come back empty from the feed and are
// skipped silently.
func (d *Dukascopy) GetTicks(ctx context.Context, symbol string, r models.Range) ([]models.Tick, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid range: %w", err)
	}

	scale := pointScale(symbol)
	var ticks []models.Tick

	for hourStart := r.Start - r.Start%dukascopyHourMS; hourStart <= r.End; hourStart += dukascopyHourMS {
		if err := d.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		raw, err := d.fetchHour(ctx, symbol, hourStart)
		if err != nil {
			return nil, fmt.Errorf("hour %d: %w", hourStart, err)
		}
		if len(raw) == 0 {
			continue
		}

		hourTicks, err := decodeTicks(raw, hourStart, scale)
		if err != nil {
			return nil, fmt.Errorf("hour %d: %w", hourStart, err)
		}
		for _, tk := range hourTicks {
			if tk.Timestamp >= r.Start && tk.Timestamp <= r.End {
				ticks = append(ticks, tk)
			}
		}
	}

	d.logger.Debug("fetched ticks", "symbol", symbol, "count", len(ticks))
	return ticks, nil
}

// fetchHour downloads and decompresses one hourly file. A 404 means the
// instrument has no data for that hour and yields an empty slice.
func (d *Dukascopy) fetchHour(ctx context.Context, symbol string, hourStartMS int64) ([]byte, error) {
	t := time.UnixMilli(hourStartMS).UTC()
	// The feed numbers months from zero.
	requestURL := fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		d.baseURL, strings.ToUpper(symbol), t.Year(), int(t.Month())-1, t.Day(), t.Hour())

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			body = nil
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = payload
		return nil
	}

	retrier := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), dukascopyMaxRetries)
	if err := backoff.Retry(operation, retrier); err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, nil
	}

	lz, err := lzma.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("lzma header: %w", err)
	}
	decompressed, err := io.ReadAll(lz)
	if err != nil {
		return nil, fmt.Errorf("lzma decode: %w", err)
	}
	return decompressed, nil
}

// decodeTicks parses the fixed-width tick records of one decompressed hour.
func decodeTicks(data []byte, hourStartMS int64, scale float64) ([]models.Tick, error) {
	if len(data)%dukascopyRecordSize != 0 {
		return nil, fmt.Errorf("tick payload length %d is not a multiple of %d", len(data), dukascopyRecordSize)
	}

	ticks := make([]models.Tick, 0, len(data)/dukascopyRecordSize)
	for off := 0; off < len(data); off += dukascopyRecordSize {
		rec := data[off : off+dukascopyRecordSize]
		msOffset := binary.BigEndian.Uint32(rec[0:4])
		askPoints := binary.BigEndian.Uint32(rec[4:8])
		bidPoints := binary.BigEndian.Uint32(rec[8:12])
		askVol := math.Float32frombits(binary.BigEndian.Uint32(rec[12:16]))
		bidVol := math.Float32frombits(binary.BigEndian.Uint32(rec[16:20]))

		ticks = append(ticks, models.Tick{
			Timestamp: hourStartMS + int64(msOffset),
			Bid:       float64(bidPoints) * scale,
			Ask:       float64(askPoints) * scale,
			BidVolume: float64(bidVol),
			AskVolume: float64(askVol),
		})
	}
	return ticks, nil
}

// pointScale maps an instrument to the value of one price point. JPY quoted
// pairs use three decimal places; everything else in the supported set uses
// five.
func pointScale(symbol string) float64 {
	if strings.HasSuffix(strings.ToUpper(symbol), "JPY") {
		return 1e-3
	}
	return 1e-5
}

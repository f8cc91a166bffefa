package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
	"github.com/St0rmMaster/binance-data-framework/internal/timeframe"
)

const (
	binanceBaseURL = "https://api.binance.com"

	klinesEndpoint       = "/api/v3/klines"
	exchangeInfoEndpoint = "/api/v3/exchangeInfo"

	// Spot REST allows far higher weights; stay conservative.
	binanceRequestsPerSecond = 10
	binanceBurst             = 2

	maxKlinesPerRequest   = 1000
	binanceRequestTimeout = 30 * time.Second

	binanceInitialRetryDelay = 500 * time.Millisecond
	binanceMaxRetryDelay     = 30 * time.Second
	binanceMaxRetries        = 3
)

// Binance serves OHLCV bars from the Binance spot REST API. All of the
// catalog timeframes map directly onto Binance kline intervals, so no
// interval translation is needed. Tick data is not available.
type Binance struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

var _ Provider = (*Binance)(nil)

// NewBinance creates a Binance adapter with default transport settings.
func NewBinance(logger *slog.Logger) *Binance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binance{
		httpClient: &http.Client{
			Timeout: binanceRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(binanceRequestsPerSecond), binanceBurst),
		baseURL:     binanceBaseURL,
		logger:      logger,
	}
}

// NewBinanceWithBaseURL creates an adapter pointed at an alternate endpoint.
// Used by tests to run against a local server.
func NewBinanceWithBaseURL(baseURL string, logger *slog.Logger) *Binance {
	b := NewBinance(logger)
	b.baseURL = baseURL
	return b
}

// Name implements Provider.
func (b *Binance) Name() string { return "binance" }

// SupportsTimeframe implements Provider. Every catalog timeframe is a valid
// Binance kline interval.
func (b *Binance) SupportsTimeframe(tf string) bool {
	return timeframe.IsValid(tf)
}

// GetTicks implements Provider. Binance spot REST has no raw tick feed.
func (b *Binance) GetTicks(ctx context.Context, symbol string, r models.Range) ([]models.Tick, error) {
	return nil, ErrTicksUnsupported
}

// GetBars implements Provider. Requests are paginated transparently: the
// klines endpoint caps a single response at 1000 rows, so the adapter walks
// the range with a startTime cursor until the requested end is reached.
func (b *Binance) GetBars(ctx context.Context, symbol, tf string, r models.Range) ([]models.Bar, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid range: %w", err)
	}
	if !b.SupportsTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	b.logger.Debug("fetching klines",
		"symbol", symbol,
		"timeframe", tf,
		"start", r.Start,
		"end", r.End)

	var bars []models.Bar
	cursor := r.Start
	for cursor <= r.End {
		if err := b.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := b.fetchKlinesPage(ctx, symbol, tf, cursor, r.End)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(bars, page...)

		last := page[len(page)-1].Timestamp
		if last < cursor {
			return nil, fmt.Errorf("klines response went backwards at %d", last)
		}
		cursor = last + 1
		if len(page) < maxKlinesPerRequest {
			break
		}
	}

	b.logger.Debug("fetched klines", "symbol", symbol, "count", len(bars))
	return bars, nil
}

// ListSymbols implements Provider.
func (b *Binance) ListSymbols(ctx context.Context) ([]Symbol, error) {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := b.getWithRetry(ctx, b.baseURL+exchangeInfoEndpoint, "")
	if err != nil {
		return nil, fmt.Errorf("exchange info request failed: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse exchange info: %w", err)
	}

	symbols := make([]Symbol, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		symbols = append(symbols, Symbol{
			Name:       s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Active:     s.Status == "TRADING",
		})
	}
	return symbols, nil
}

func (b *Binance) fetchKlinesPage(ctx context.Context, symbol, tf string, startMS, endMS int64) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", tf)
	params.Set("startTime", strconv.FormatInt(startMS, 10))
	// Both bounds are inclusive of the bar open, matching the API.
	params.Set("endTime", strconv.FormatInt(endMS, 10))
	params.Set("limit", strconv.Itoa(maxKlinesPerRequest))

	body, err := b.getWithRetry(ctx, b.baseURL+klinesEndpoint+"?"+params.Encode(), symbol)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseKlineRow(row)
		if err != nil {
			b.logger.Warn("skipping malformed kline", "symbol", symbol, "error", err)
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKlineRow converts one klines array row. Binance sends the open time
// as a JSON number and the prices and volume as decimal strings.
func parseKlineRow(row []json.RawMessage) (models.Bar, error) {
	if len(row) < 6 {
		return models.Bar{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}

	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return models.Bar{}, fmt.Errorf("invalid open time: %w", err)
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return models.Bar{}, fmt.Errorf("invalid field %d: %w", i, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return models.Bar{}, fmt.Errorf("invalid decimal %q: %w", s, err)
		}
		fields[i-1] = d.InexactFloat64()
	}

	bar := models.Bar{
		Timestamp: openTime,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}
	if err := bar.Validate(); err != nil {
		return models.Bar{}, err
	}
	return bar, nil
}

// getWithRetry issues a GET with exponential backoff. Server errors and
// throttles retry inside the adapter; client errors are permanent. A 429
// that survives all retries surfaces as a RateLimitError so the caller's
// own retry policy can honor the server hint.
func (b *Binance) getWithRetry(ctx context.Context, requestURL, symbol string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = binanceInitialRetryDelay
	policy.MaxInterval = binanceMaxRetryDelay
	policy.MaxElapsedTime = 0

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			rle := &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			b.logger.Warn("binance throttled", "retry_after", rle.RetryAfter)
			return rle
		}

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d: %s", resp.StatusCode, payload)
		case resp.StatusCode == http.StatusBadRequest && isUnknownSymbol(payload):
			return backoff.Permanent(&SymbolError{Symbol: symbol})
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, payload))
		}

		body = payload
		return nil
	}

	retrier := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), binanceMaxRetries)
	if err := backoff.Retry(operation, retrier); err != nil {
		return nil, err
	}
	return body, nil
}

// isUnknownSymbol matches the Binance error payload for an invalid symbol
// (code -1121).
func isUnknownSymbol(payload []byte) bool {
	var e struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return false
	}
	return e.Code == -1121
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// Package provider defines upstream market data sources and their adapters.
//
// A Provider turns a symbol plus a closed millisecond range into validated
// bars or ticks. Adapters own their transport concerns: rate limiting, retry
// with exponential backoff, and pagination are handled inside the adapter so
// callers see a single blocking call per range.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

// Sentinel errors returned by adapters for capabilities they do not have.
// Callers distinguish these from transient transport failures, which are
// reported as RateLimitError or wrapped network errors.
var (
	// ErrTicksUnsupported is returned by GetTicks on bar-only sources.
	ErrTicksUnsupported = errors.New("provider: tick data not supported")
	// ErrBarsUnsupported is returned by GetBars on tick-only sources.
	ErrBarsUnsupported = errors.New("provider: bar data not supported")
)

// SymbolError reports that the upstream source does not know a symbol.
// It is permanent; retrying the same request cannot succeed.
type SymbolError struct {
	Symbol string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("provider: unknown symbol %q", e.Symbol)
}

// RateLimitError reports an upstream throttle response. RetryAfter is the
// server-suggested wait, or zero when the server gave none.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider: rate limited, retry after %s", e.RetryAfter)
	}
	return "provider: rate limited"
}

// Retryable reports whether err is worth retrying with backoff. Unknown
// symbols and unsupported capabilities are permanent; throttles and
// transport failures are not.
func Retryable(err error) bool {
	var se *SymbolError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, ErrTicksUnsupported) || errors.Is(err, ErrBarsUnsupported) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Symbol describes one tradable instrument as reported by a source.
type Symbol struct {
	Name       string `json:"name"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Active     bool   `json:"active"`
}

// BarProvider fetches OHLCV bars for a symbol and timeframe. Implementations
// return bars with open timestamps inside the closed interval
// [r.Start, r.End], sorted ascending.
type BarProvider interface {
	GetBars(ctx context.Context, symbol, timeframe string, r models.Range) ([]models.Bar, error)
}

// TickProvider fetches raw ticks for a symbol. Implementations return ticks
// with timestamps inside the closed interval [r.Start, r.End], sorted
// ascending.
type TickProvider interface {
	GetTicks(ctx context.Context, symbol string, r models.Range) ([]models.Tick, error)
}

// SymbolLister enumerates the instruments a source offers.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]Symbol, error)
}

// Provider is the full upstream source contract.
type Provider interface {
	BarProvider
	TickProvider
	SymbolLister

	// Name identifies the source in logs and stored tick metadata.
	Name() string
	// SupportsTimeframe reports whether the source serves the timeframe
	// natively. Unsupported timeframes are resampled from finer data.
	SupportsTimeframe(timeframe string) bool
}

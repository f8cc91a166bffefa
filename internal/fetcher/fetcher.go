// Package fetcher orchestrates range acquisition: it classifies a request
// against stored coverage, downloads only the missing sub-ranges from the
// upstream provider, merges them into storage, and serves the assembled
// result from storage.
//
// Each missing sub-range is merged as soon as it downloads, so partial
// progress survives a failure later in the same request. A sub-range that
// fails permanently is skipped and reported; the remaining ranges are still
// attempted.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/St0rmMaster/binance-data-framework/internal/coverage"
	"github.com/St0rmMaster/binance-data-framework/internal/metrics"
	"github.com/St0rmMaster/binance-data-framework/internal/models"
	"github.com/St0rmMaster/binance-data-framework/internal/provider"
	"github.com/St0rmMaster/binance-data-framework/internal/resample"
	"github.com/St0rmMaster/binance-data-framework/internal/storage"
	"github.com/St0rmMaster/binance-data-framework/internal/timeframe"
)

const (
	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
	defaultMaxRetries   = 3
)

// FailedRange records one missing sub-range that could not be fetched.
type FailedRange struct {
	Range models.Range `json:"range"`
	Cause string       `json:"cause"`
}

// Report summarizes what one request did. Failed ranges do not fail the
// request as a whole; callers inspect the report to decide whether the
// returned data is complete enough.
type Report struct {
	JobID     string        `json:"job_id"`
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe,omitempty"`
	Requested models.Range  `json:"requested"`
	Decision  string        `json:"decision"`
	Fetched   []models.Range `json:"fetched,omitempty"`
	Failed    []FailedRange  `json:"failed,omitempty"`
	Resampled bool           `json:"resampled,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
}

// Complete reports whether every missing sub-range was acquired.
func (r *Report) Complete() bool { return len(r.Failed) == 0 }

// Options tunes a Fetcher. The zero value selects production defaults.
type Options struct {
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Resolver     *coverage.Resolver
	RetryInitial time.Duration
	RetryMax     time.Duration
	MaxRetries   uint64
}

// Fetcher coordinates storage, the coverage resolver, and upstream
// providers. Bars and ticks may come from different sources.
type Fetcher struct {
	store      storage.Store
	barSource  provider.Provider
	tickSource provider.Provider
	resolver   *coverage.Resolver
	logger     *slog.Logger
	metrics    *metrics.Recorder

	retryInitial time.Duration
	retryMax     time.Duration
	maxRetries   uint64
}

// New creates a Fetcher. tickSource may be nil when no tick feed is
// configured; barSource may be nil for a tick-only setup.
func New(store storage.Store, barSource, tickSource provider.Provider, opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.New()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = coverage.NewResolver(nil)
	}
	f := &Fetcher{
		store:        store,
		barSource:    barSource,
		tickSource:   tickSource,
		resolver:     resolver,
		logger:       logger,
		metrics:      rec,
		retryInitial: opts.RetryInitial,
		retryMax:     opts.RetryMax,
		maxRetries:   opts.MaxRetries,
	}
	if f.retryInitial <= 0 {
		f.retryInitial = defaultRetryInitial
	}
	if f.retryMax <= 0 {
		f.retryMax = defaultRetryMax
	}
	if f.maxRetries == 0 {
		f.maxRetries = defaultMaxRetries
	}
	return f
}

// GetBars returns the bars for symbol and timeframe inside the closed range
// r, downloading whatever storage does not already cover. When the upstream
// source does not serve the timeframe natively, the request is satisfied by
// fetching the finest supported divisor timeframe and aggregating.
func (f *Fetcher) GetBars(ctx context.Context, symbol, tf string, r models.Range) ([]models.Bar, *Report, error) {
	if err := validateBarRequest(symbol, tf, r); err != nil {
		return nil, nil, err
	}

	started := time.Now()
	report := &Report{
		JobID:     uuid.New().String(),
		Symbol:    symbol,
		Timeframe: tf,
		Requested: r,
	}
	log := f.logger.With("job_id", report.JobID, "symbol", symbol, "timeframe", tf)

	durMS, _ := timeframe.DurationMS(tf)
	cov, err := f.store.ReadCoverage(ctx, symbol, tf)
	if err != nil {
		return nil, nil, fmt.Errorf("coverage lookup: %w", err)
	}

	res := f.resolver.Classify(r, cov, durMS)
	report.Decision = res.Decision.String()
	f.metrics.RecordDecision(tf, report.Decision)
	log.Debug("classified request", "decision", report.Decision, "missing", len(res.Missing))

	if res.Decision != coverage.Full {
		if f.barSource != nil && f.barSource.SupportsTimeframe(tf) {
			if err := f.fetchMissingBars(ctx, log, report, symbol, tf, res.Missing); err != nil {
				return nil, nil, err
			}
		} else {
			if err := f.fillFromFiner(ctx, log, report, symbol, tf, durMS, res.Missing); err != nil {
				return nil, nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	}

	bars, err := f.store.ReadRange(ctx, symbol, tf, r)
	if err != nil {
		return nil, nil, fmt.Errorf("read back: %w", err)
	}

	report.Elapsed = time.Since(started)
	f.metrics.RecordFetchDuration("bars", report.Elapsed.Seconds())
	log.Info("served bars",
		"count", len(bars),
		"decision", report.Decision,
		"fetched_ranges", len(report.Fetched),
		"failed_ranges", len(report.Failed))
	return bars, report, nil
}

// GetTicks returns raw ticks for symbol inside the closed range r,
// downloading missing coverage from the tick source.
func (f *Fetcher) GetTicks(ctx context.Context, symbol string, r models.Range) ([]models.Tick, *Report, error) {
	if symbol == "" {
		return nil, nil, &models.ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}
	if f.tickSource == nil {
		return nil, nil, provider.ErrTicksUnsupported
	}

	started := time.Now()
	report := &Report{
		JobID:     uuid.New().String(),
		Symbol:    symbol,
		Requested: r,
	}
	source := f.tickSource.Name()
	log := f.logger.With("job_id", report.JobID, "symbol", symbol, "source", source)

	cov, err := f.store.ReadTickCoverage(ctx, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("tick coverage lookup: %w", err)
	}

	// Ticks have no bar duration; coverage ends at the newest stored tick.
	res := f.resolver.Classify(r, cov, 0)
	report.Decision = res.Decision.String()
	f.metrics.RecordDecision("tick", report.Decision)

	for _, missing := range res.Missing {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ticks, err := f.downloadTicks(ctx, symbol, missing)
		if err != nil {
			log.Warn("tick range failed, skipping", "range", missing, "error", err)
			f.metrics.RecordProviderError(source)
			report.Failed = append(report.Failed, FailedRange{Range: missing, Cause: err.Error()})
			continue
		}
		if err := f.store.MergeTicks(ctx, symbol, source, ticks); err != nil {
			return nil, nil, fmt.Errorf("merge ticks: %w", err)
		}
		f.metrics.RecordRowsMerged("ticks", len(ticks))
		report.Fetched = append(report.Fetched, missing)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ticks, err := f.store.ReadTickRange(ctx, symbol, r)
	if err != nil {
		return nil, nil, fmt.Errorf("read back: %w", err)
	}

	report.Elapsed = time.Since(started)
	f.metrics.RecordFetchDuration("ticks", report.Elapsed.Seconds())
	log.Info("served ticks", "count", len(ticks), "decision", report.Decision)
	return ticks, report, nil
}

// TickBars fetches ticks for the range and aggregates them into bars of the
// given timeframe. The bars are not persisted under the bar tables; callers
// wanting durable bars merge the result themselves.
func (f *Fetcher) TickBars(ctx context.Context, symbol, tf string, r models.Range) ([]models.Bar, *Report, error) {
	durMS, ok := timeframe.DurationMS(tf)
	if !ok {
		return nil, nil, &models.ValidationError{Field: "timeframe", Message: fmt.Sprintf("unknown timeframe %q", tf)}
	}
	ticks, report, err := f.GetTicks(ctx, symbol, r)
	if err != nil {
		return nil, nil, err
	}
	bars, err := resample.Ticks(ticks, durMS)
	if err != nil {
		return nil, nil, err
	}
	report.Timeframe = tf
	report.Resampled = true
	return bars, report, nil
}

// fetchMissingBars downloads and merges each missing sub-range. Provider
// failures are recorded on the report and do not abort the remaining ranges;
// a storage failure aborts the request so callers never mistake it for
// missing upstream data.
func (f *Fetcher) fetchMissingBars(ctx context.Context, log *slog.Logger, report *Report, symbol, tf string, missing []models.Range) error {
	source := f.barSource.Name()
	for _, m := range missing {
		if ctx.Err() != nil {
			return nil
		}
		bars, err := f.downloadBars(ctx, symbol, tf, m)
		if err != nil {
			log.Warn("range failed, skipping", "range", m, "error", err)
			f.metrics.RecordProviderError(source)
			report.Failed = append(report.Failed, FailedRange{Range: m, Cause: err.Error()})
			continue
		}
		if err := f.store.Merge(ctx, symbol, tf, bars); err != nil {
			return fmt.Errorf("merge bars: %w", err)
		}
		f.metrics.RecordRowsMerged("bars", len(bars))
		report.Fetched = append(report.Fetched, m)
		log.Debug("merged range", "range", m, "count", len(bars))
	}
	return nil
}

// fillFromFiner satisfies missing coverage for a timeframe the source does
// not serve natively. The finest supported timeframe whose duration divides
// the target is fetched through the normal bar path, aggregated, and the
// aggregate merged under the target timeframe.
func (f *Fetcher) fillFromFiner(ctx context.Context, log *slog.Logger, report *Report, symbol, tf string, durMS int64, missing []models.Range) error {
	baseTF, baseMS, ok := f.finerTimeframe(durMS)
	if !ok {
		return fmt.Errorf("no source serves timeframe %q or any divisor of it", tf)
	}
	report.Resampled = true
	log.Debug("resampling from finer timeframe", "base", baseTF)

	for _, m := range missing {
		if ctx.Err() != nil {
			return nil
		}
		// Align to whole target buckets so aggregated bars are exact.
		aligned := models.Range{
			Start: timeframe.Truncate(m.Start, durMS),
			End:   timeframe.Truncate(m.End, durMS) + durMS - baseMS,
		}
		fine, sub, err := f.GetBars(ctx, symbol, baseTF, aligned)
		if err != nil {
			return err
		}
		report.Failed = append(report.Failed, sub.Failed...)

		coarse, err := resample.Bars(fine, durMS)
		if err != nil {
			return err
		}
		if err := f.store.Merge(ctx, symbol, tf, coarse); err != nil {
			return fmt.Errorf("merge resampled bars: %w", err)
		}
		f.metrics.RecordRowsMerged("bars", len(coarse))
		if sub.Complete() {
			report.Fetched = append(report.Fetched, m)
		}
	}
	return nil
}

// finerTimeframe picks the finest catalog timeframe that the bar source
// serves natively and whose duration divides durMS evenly.
func (f *Fetcher) finerTimeframe(durMS int64) (string, int64, bool) {
	if f.barSource == nil {
		return "", 0, false
	}
	for _, tf := range timeframe.All() {
		ms, _ := timeframe.DurationMS(tf)
		if ms >= durMS {
			break
		}
		if durMS%ms == 0 && f.barSource.SupportsTimeframe(tf) {
			return tf, ms, true
		}
	}
	return "", 0, false
}

// downloadBars calls the bar source with retry on transient failures.
func (f *Fetcher) downloadBars(ctx context.Context, symbol, tf string, r models.Range) ([]models.Bar, error) {
	var bars []models.Bar
	err := f.withRetry(ctx, func() error {
		f.metrics.RecordProviderRequest(f.barSource.Name(), "bars")
		var err error
		bars, err = f.barSource.GetBars(ctx, symbol, tf, r)
		return err
	})
	return bars, err
}

// downloadTicks calls the tick source with retry on transient failures.
func (f *Fetcher) downloadTicks(ctx context.Context, symbol string, r models.Range) ([]models.Tick, error) {
	var ticks []models.Tick
	err := f.withRetry(ctx, func() error {
		f.metrics.RecordProviderRequest(f.tickSource.Name(), "ticks")
		var err error
		ticks, err = f.tickSource.GetTicks(ctx, symbol, r)
		return err
	})
	return ticks, err
}

// withRetry runs op under exponential backoff. Permanent provider errors
// stop immediately; a rate limit error waits at least the server hint.
func (f *Fetcher) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryInitial
	policy.MaxInterval = f.retryMax
	policy.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !provider.Retryable(err) {
			return backoff.Permanent(err)
		}
		var rle *provider.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			select {
			case <-time.After(rle.RetryAfter):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}

	retrier := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), f.maxRetries)
	return backoff.Retry(wrapped, retrier)
}

func validateBarRequest(symbol, tf string, r models.Range) error {
	if symbol == "" {
		return &models.ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if !timeframe.IsValid(tf) {
		return &models.ValidationError{Field: "timeframe", Message: fmt.Sprintf("unknown timeframe %q", tf)}
	}
	return r.Validate()
}

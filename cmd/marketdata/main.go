// Market data acquisition CLI.
//
// The tool maintains a local store of OHLCV bars and raw ticks, downloading
// from upstream sources only the ranges the store does not already cover.
//
// Usage:
//
//	marketdata fetch --symbol BTCUSDT --timeframe 1h --days 30
//	marketdata ticks --symbol EURUSD --start 2024-01-02 --end 2024-01-03
//	marketdata export --symbol BTCUSDT --timeframe 1h --days 7 --out bars.parquet --format parquet
//	marketdata info
//	marketdata delete --symbol BTCUSDT --timeframe 1h
//
// For detailed help on any command, use: marketdata <command> --help
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/St0rmMaster/binance-data-framework/internal/config"
	"github.com/St0rmMaster/binance-data-framework/internal/export"
	"github.com/St0rmMaster/binance-data-framework/internal/fetcher"
	"github.com/St0rmMaster/binance-data-framework/internal/logger"
	"github.com/St0rmMaster/binance-data-framework/internal/metrics"
	"github.com/St0rmMaster/binance-data-framework/internal/models"
	"github.com/St0rmMaster/binance-data-framework/internal/provider"
	"github.com/St0rmMaster/binance-data-framework/internal/storage"
)

const (
	appName = "marketdata"
	version = "1.0.0"
)

const (
	exitSuccess     = 0
	exitUsageError  = 1
	exitConfigError = 2
	exitDataError   = 4
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	fetcher *fetcher.Fetcher
	export  *export.Exporter
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", appName, version)
		return
	case "--help", "-h", "help":
		printUsage()
		return
	}

	a, err := initialize(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer a.store.Close()

	var cmdErr error
	switch command {
	case "fetch":
		cmdErr = a.handleFetch(ctx, args)
	case "ticks":
		cmdErr = a.handleTicks(ctx, args)
	case "export":
		cmdErr = a.handleExport(ctx, args)
	case "delete":
		cmdErr = a.handleDelete(ctx, args)
	case "info":
		cmdErr = a.handleInfo(ctx, args)
	case "symbols":
		cmdErr = a.handleSymbols(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(exitUsageError)
	}

	if cmdErr != nil {
		a.logger.Error("command failed", "command", command, "error", cmdErr)
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(exitDataError)
	}
}

func initialize(ctx context.Context) (*app, error) {
	cfg, err := config.Load(os.Getenv("MARKETDATA_CONFIG"), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(log)

	store, err := createStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize storage schema: %w", err)
	}

	rec := metrics.New()
	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics, log)
	}

	barSource, tickSource := createProviders(cfg, log)

	retryInitial, _ := cfg.RetryInitial()
	retryMax, _ := cfg.RetryMax()

	f := fetcher.New(store, barSource, tickSource, fetcher.Options{
		Logger:       log,
		Metrics:      rec,
		RetryInitial: retryInitial,
		RetryMax:     retryMax,
		MaxRetries:   uint64(cfg.Fetch.MaxRetries),
	})

	return &app{
		cfg:     cfg,
		logger:  log,
		store:   store,
		fetcher: f,
		export:  export.New(store),
	}, nil
}

func createStore(cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "duckdb":
		return storage.NewDuckDBStore(cfg.Storage.Path, log)
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.DSN, cfg.Storage.MaxConns, log)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func createProviders(cfg *config.Config, log *slog.Logger) (provider.Provider, provider.Provider) {
	var barSource provider.Provider
	if cfg.Providers.BarSource == "binance" {
		if cfg.Providers.BinanceBaseURL != "" {
			barSource = provider.NewBinanceWithBaseURL(cfg.Providers.BinanceBaseURL, log)
		} else {
			barSource = provider.NewBinance(log)
		}
	}

	var tickSource provider.Provider
	if cfg.Providers.TickSource == "dukascopy" {
		if cfg.Providers.DukascopyBaseURL != "" {
			tickSource = provider.NewDukascopyWithBaseURL(cfg.Providers.DukascopyBaseURL, log)
		} else {
			tickSource = provider.NewDukascopy(log)
		}
	}
	return barSource, tickSource
}

func startMetricsServer(cfg config.MetricsConfig, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	go func() {
		log.Info("metrics server listening", "addr", cfg.Addr, "path", cfg.Path)
		if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}

// rangeFlags is the shared time range selection used by several commands.
type rangeFlags struct {
	start string
	end   string
	days  int
}

func (rf *rangeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&rf.start, "start", "", "range start (YYYY-MM-DD or RFC 3339)")
	fs.StringVar(&rf.end, "end", "", "range end (YYYY-MM-DD or RFC 3339, default now)")
	fs.IntVar(&rf.days, "days", 0, "shorthand for a range ending now")
}

func (rf *rangeFlags) resolve() (models.Range, error) {
	if rf.days > 0 {
		end := time.Now().UTC()
		return models.NewRange(end.AddDate(0, 0, -rf.days), end), nil
	}
	if rf.start == "" {
		return models.Range{}, fmt.Errorf("specify either --days or --start")
	}
	start, err := parseTime(rf.start)
	if err != nil {
		return models.Range{}, fmt.Errorf("invalid --start: %w", err)
	}
	end := time.Now().UTC()
	if rf.end != "" {
		if end, err = parseTime(rf.end); err != nil {
			return models.Range{}, fmt.Errorf("invalid --end: %w", err)
		}
	}
	r := models.NewRange(start, end)
	if err := r.Validate(); err != nil {
		return models.Range{}, err
	}
	return r, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (a *app) handleFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "trading symbol, e.g. BTCUSDT")
	tf := fs.String("timeframe", "1h", "timeframe token, e.g. 1m, 1h, 1d")
	var rf rangeFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("--symbol is required")
	}
	r, err := rf.resolve()
	if err != nil {
		return err
	}

	bars, report, err := a.fetcher.GetBars(ctx, *symbol, *tf, r)
	if err != nil {
		return err
	}

	fmt.Printf("%d bars for %s %s (%s)\n", len(bars), *symbol, *tf, r)
	fmt.Printf("coverage: %s, fetched %d range(s)\n", report.Decision, len(report.Fetched))
	for _, fr := range report.Failed {
		fmt.Printf("failed: %s: %s\n", fr.Range, fr.Cause)
	}
	if !report.Complete() {
		return fmt.Errorf("%d range(s) could not be fetched", len(report.Failed))
	}
	return nil
}

func (a *app) handleTicks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ticks", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "instrument, e.g. EURUSD")
	tf := fs.String("resample", "", "optional timeframe to aggregate ticks into bars")
	var rf rangeFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("--symbol is required")
	}
	r, err := rf.resolve()
	if err != nil {
		return err
	}

	if *tf != "" {
		bars, report, err := a.fetcher.TickBars(ctx, *symbol, *tf, r)
		if err != nil {
			return err
		}
		fmt.Printf("%d %s bars aggregated from ticks for %s (%s)\n", len(bars), *tf, *symbol, r)
		if !report.Complete() {
			return fmt.Errorf("%d range(s) could not be fetched", len(report.Failed))
		}
		return nil
	}

	ticks, report, err := a.fetcher.GetTicks(ctx, *symbol, r)
	if err != nil {
		return err
	}
	fmt.Printf("%d ticks for %s (%s), coverage: %s\n", len(ticks), *symbol, r, report.Decision)
	if !report.Complete() {
		return fmt.Errorf("%d range(s) could not be fetched", len(report.Failed))
	}
	return nil
}

func (a *app) handleExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "trading symbol")
	tf := fs.String("timeframe", "1h", "timeframe token")
	out := fs.String("out", "", "output file path")
	formatFlag := fs.String("format", "csv", "output format: csv or parquet")
	ticks := fs.Bool("ticks", false, "export stored ticks instead of bars")
	var rf rangeFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("--symbol is required")
	}
	if *out == "" {
		return fmt.Errorf("--out is required")
	}
	r, err := rf.resolve()
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(*formatFlag)
	if err != nil {
		return err
	}

	var n int
	if *ticks {
		n, err = a.export.Ticks(ctx, *symbol, r, *out, format)
	} else {
		n, err = a.export.Bars(ctx, *symbol, *tf, r, *out, format)
	}
	if err != nil {
		return err
	}

	fmt.Printf("wrote %d rows to %s\n", n, *out)
	return nil
}

func (a *app) handleDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "trading symbol")
	tf := fs.String("timeframe", "", "timeframe token")
	ticks := fs.Bool("ticks", false, "delete stored ticks for the symbol")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	if *ticks {
		if err := a.store.DeleteTicks(ctx, *symbol); err != nil {
			return err
		}
		fmt.Printf("deleted ticks for %s\n", *symbol)
		return nil
	}

	if *tf == "" {
		return fmt.Errorf("--timeframe is required unless --ticks is set")
	}
	if err := a.store.Delete(ctx, *symbol, *tf); err != nil {
		return err
	}
	fmt.Printf("deleted %s %s\n", *symbol, *tf)
	return nil
}

func (a *app) handleInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	infos, err := a.store.StoredInfo(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("store is empty")
		return nil
	}

	fmt.Printf("%-12s %-10s %-25s %-25s %10s\n", "SYMBOL", "TIMEFRAME", "EARLIEST", "LATEST", "ROWS")
	for _, info := range infos {
		fmt.Printf("%-12s %-10s %-25s %-25s %10d\n",
			info.Symbol,
			info.Timeframe,
			time.UnixMilli(info.Earliest).UTC().Format(time.RFC3339),
			time.UnixMilli(info.Latest).UTC().Format(time.RFC3339),
			info.Rows)
	}
	return nil
}

func (a *app) handleSymbols(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ContinueOnError)
	source := fs.String("source", "binance", "data source to list symbols from")
	activeOnly := fs.Bool("active", true, "list only actively trading symbols")
	if err := fs.Parse(args); err != nil {
		return err
	}

	barSource, tickSource := createProviders(a.cfg, a.logger)
	var p provider.Provider
	switch *source {
	case "binance":
		p = barSource
	case "dukascopy":
		p = tickSource
	}
	if p == nil {
		return fmt.Errorf("source %q is not configured", *source)
	}

	symbols, err := p.ListSymbols(ctx)
	if err != nil {
		return err
	}
	for _, s := range symbols {
		if *activeOnly && !s.Active {
			continue
		}
		fmt.Println(s.Name)
	}
	return nil
}

func printUsage() {
	fmt.Printf(`%s - market data acquisition and caching

Usage:
  %s <command> [flags]

Commands:
  fetch     Download and cache OHLCV bars for a symbol and timeframe
  ticks     Download and cache raw ticks, optionally aggregated to bars
  export    Write stored bars or ticks to a CSV or Parquet file
  delete    Remove a stored series and its coverage record
  info      Show stored coverage per symbol and timeframe
  symbols   List symbols offered by a data source

Flags:
  --version  Print version information
  --help     Print this help

Configuration is read from defaults, the JSON file named by
MARKETDATA_CONFIG, a local .env file, and environment variables,
in increasing priority.
`, appName, appName)
}

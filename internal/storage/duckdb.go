package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

// DuckDBStore implements the Store interface on a local DuckDB database.
// All merges run inside a single transaction that upserts the rows and then
// recomputes the coverage envelope from the row table, so the metadata can
// never reflect a half-applied merge. The connection pool is pinned to one
// connection, the single-writer pattern recommended for DuckDB, which also
// serializes concurrent merges for the same key.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBStore opens or creates a DuckDB database at dbPath. The path
// ":memory:" yields a non-durable in-process database.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{db: db, dbPath: dbPath, logger: logger}, nil
}

// Initialize implements Manager. Creates the row and metadata tables plus
// the indexes used by range reads. Safe to call more than once.
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("initializing DuckDB store", "db_path", d.dbPath)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ohlcv_data (
			timestamp BIGINT NOT NULL,
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume DOUBLE NOT NULL,
			PRIMARY KEY (timestamp, symbol, timeframe)
		)`,
		`CREATE TABLE IF NOT EXISTS ohlcv_metadata (
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			start_timestamp BIGINT NOT NULL,
			end_timestamp BIGINT NOT NULL,
			PRIMARY KEY (symbol, timeframe)
		)`,
		`CREATE TABLE IF NOT EXISTS tick_data (
			timestamp BIGINT NOT NULL,
			symbol VARCHAR NOT NULL,
			source VARCHAR NOT NULL,
			bid DOUBLE NOT NULL,
			ask DOUBLE NOT NULL,
			bid_volume DOUBLE NOT NULL,
			ask_volume DOUBLE NOT NULL,
			PRIMARY KEY (timestamp, symbol, source)
		)`,
		`CREATE TABLE IF NOT EXISTS tick_metadata (
			symbol VARCHAR NOT NULL PRIMARY KEY,
			start_timestamp BIGINT NOT NULL,
			end_timestamp BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_key ON ohlcv_data (symbol, timeframe)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_timestamp ON ohlcv_data (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_tick_symbol ON tick_data (symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_tick_timestamp ON tick_data (timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return NewStorageError("initialize", "", fmt.Errorf("schema setup failed: %w", err))
		}
	}

	d.logger.Info("DuckDB store initialized")
	return nil
}

// Merge implements BarStorer.
func (d *DuckDBStore) Merge(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return NewMergeError("ohlcv_data", fmt.Errorf("invalid bar at index %d: %w", i, err))
		}
	}

	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return NewMergeError("ohlcv_data", fmt.Errorf("database connection is closed"))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewMergeError("ohlcv_data", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	// The Appender API cannot express replace-on-conflict, so merges go
	// through a prepared INSERT OR REPLACE instead.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO ohlcv_data
			(timestamp, symbol, timeframe, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewMergeError("ohlcv_data", fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Timestamp, symbol, timeframe,
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return NewMergeError("ohlcv_data", fmt.Errorf("failed to upsert bar %s: %w", b.String(), err))
		}
	}

	// Recompute the envelope over every persisted row, not just this batch.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO ohlcv_metadata (symbol, timeframe, start_timestamp, end_timestamp)
		SELECT symbol, timeframe, MIN(timestamp), MAX(timestamp)
		FROM ohlcv_data WHERE symbol = ? AND timeframe = ?
		GROUP BY symbol, timeframe`, symbol, timeframe); err != nil {
		return NewMergeError("ohlcv_metadata", fmt.Errorf("failed to recompute coverage: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return NewMergeError("ohlcv_data", fmt.Errorf("failed to commit merge: %w", err))
	}

	d.logger.Debug("merged bars", "symbol", symbol, "timeframe", timeframe, "count", len(bars))
	return nil
}

// ReadRange implements BarReader.
func (d *DuckDBStore) ReadRange(ctx context.Context, symbol, timeframe string, r models.Range) ([]models.Bar, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM ohlcv_data
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`, symbol, timeframe, r.Start, r.End)
	if err != nil {
		return nil, NewQueryError("ohlcv_data", fmt.Errorf("failed to read range: %w", err))
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, NewQueryError("ohlcv_data", fmt.Errorf("failed to scan bar: %w", err))
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("ohlcv_data", fmt.Errorf("row iteration error: %w", err))
	}
	return bars, nil
}

// ReadCoverage implements BarReader.
func (d *DuckDBStore) ReadCoverage(ctx context.Context, symbol, timeframe string) (*models.CoverageRecord, error) {
	rec := models.CoverageRecord{Symbol: symbol, Timeframe: timeframe}
	err := d.db.QueryRowContext(ctx, `
		SELECT start_timestamp, end_timestamp
		FROM ohlcv_metadata WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe).Scan(&rec.Earliest, &rec.Latest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("ohlcv_metadata", fmt.Errorf("failed to read coverage: %w", err))
	}
	return &rec, nil
}

// MergeTicks implements TickStorer.
func (d *DuckDBStore) MergeTicks(ctx context.Context, symbol, source string, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	for i, t := range ticks {
		if err := t.Validate(); err != nil {
			return NewMergeError("tick_data", fmt.Errorf("invalid tick at index %d: %w", i, err))
		}
	}

	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return NewMergeError("tick_data", fmt.Errorf("database connection is closed"))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewMergeError("tick_data", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO tick_data
			(timestamp, symbol, source, bid, ask, bid_volume, ask_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewMergeError("tick_data", fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, t := range ticks {
		if _, err := stmt.ExecContext(ctx, t.Timestamp, symbol, source,
			t.Bid, t.Ask, t.BidVolume, t.AskVolume); err != nil {
			return NewMergeError("tick_data", fmt.Errorf("failed to upsert tick at %d: %w", t.Timestamp, err))
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO tick_metadata (symbol, start_timestamp, end_timestamp)
		SELECT symbol, MIN(timestamp), MAX(timestamp)
		FROM tick_data WHERE symbol = ?
		GROUP BY symbol`, symbol); err != nil {
		return NewMergeError("tick_metadata", fmt.Errorf("failed to recompute coverage: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return NewMergeError("tick_data", fmt.Errorf("failed to commit merge: %w", err))
	}

	d.logger.Debug("merged ticks", "symbol", symbol, "source", source, "count", len(ticks))
	return nil
}

// ReadTickRange implements TickReader.
func (d *DuckDBStore) ReadTickRange(ctx context.Context, symbol string, r models.Range) ([]models.Tick, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT timestamp, bid, ask, bid_volume, ask_volume
		FROM tick_data
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`, symbol, r.Start, r.End)
	if err != nil {
		return nil, NewQueryError("tick_data", fmt.Errorf("failed to read tick range: %w", err))
	}
	defer rows.Close()

	var ticks []models.Tick
	for rows.Next() {
		var t models.Tick
		if err := rows.Scan(&t.Timestamp, &t.Bid, &t.Ask, &t.BidVolume, &t.AskVolume); err != nil {
			return nil, NewQueryError("tick_data", fmt.Errorf("failed to scan tick: %w", err))
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("tick_data", fmt.Errorf("row iteration error: %w", err))
	}
	return ticks, nil
}

// ReadTickCoverage implements TickReader.
func (d *DuckDBStore) ReadTickCoverage(ctx context.Context, symbol string) (*models.CoverageRecord, error) {
	rec := models.CoverageRecord{Symbol: symbol}
	err := d.db.QueryRowContext(ctx, `
		SELECT start_timestamp, end_timestamp
		FROM tick_metadata WHERE symbol = ?`, symbol).Scan(&rec.Earliest, &rec.Latest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("tick_metadata", fmt.Errorf("failed to read tick coverage: %w", err))
	}
	return &rec, nil
}

// Delete implements Deleter. Rows and the coverage record go in the same
// transaction; deleting an absent key commits an empty transaction.
func (d *DuckDBStore) Delete(ctx context.Context, symbol, timeframe string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewDeleteError("ohlcv_data", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ohlcv_data WHERE symbol = ? AND timeframe = ?`, symbol, timeframe); err != nil {
		return NewDeleteError("ohlcv_data", fmt.Errorf("failed to delete bars: %w", err))
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ohlcv_metadata WHERE symbol = ? AND timeframe = ?`, symbol, timeframe); err != nil {
		return NewDeleteError("ohlcv_metadata", fmt.Errorf("failed to delete coverage: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return NewDeleteError("ohlcv_data", fmt.Errorf("failed to commit delete: %w", err))
	}

	d.logger.Info("deleted stored bars", "symbol", symbol, "timeframe", timeframe)
	return nil
}

// DeleteTicks implements Deleter.
func (d *DuckDBStore) DeleteTicks(ctx context.Context, symbol string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewDeleteError("tick_data", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tick_data WHERE symbol = ?`, symbol); err != nil {
		return NewDeleteError("tick_data", fmt.Errorf("failed to delete ticks: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tick_metadata WHERE symbol = ?`, symbol); err != nil {
		return NewDeleteError("tick_metadata", fmt.Errorf("failed to delete coverage: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return NewDeleteError("tick_data", fmt.Errorf("failed to commit delete: %w", err))
	}

	d.logger.Info("deleted stored ticks", "symbol", symbol)
	return nil
}

// Close implements Manager.
func (d *DuckDBStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB store")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}

// HealthCheck implements Manager.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return NewStorageError("health_check", "", fmt.Errorf("database connection is closed"))
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", fmt.Errorf("database health check failed: %w", err))
	}
	return nil
}

// StoredInfo implements Manager.
func (d *DuckDBStore) StoredInfo(ctx context.Context) ([]models.CoverageInfo, error) {
	var infos []models.CoverageInfo

	rows, err := d.db.QueryContext(ctx, `
		SELECT m.symbol, m.timeframe, m.start_timestamp, m.end_timestamp,
			(SELECT COUNT(*) FROM ohlcv_data d
			 WHERE d.symbol = m.symbol AND d.timeframe = m.timeframe)
		FROM ohlcv_metadata m
		ORDER BY m.symbol, m.timeframe`)
	if err != nil {
		return nil, NewQueryError("ohlcv_metadata", fmt.Errorf("failed to enumerate coverage: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var info models.CoverageInfo
		if err := rows.Scan(&info.Symbol, &info.Timeframe, &info.Earliest, &info.Latest, &info.Rows); err != nil {
			return nil, NewQueryError("ohlcv_metadata", fmt.Errorf("failed to scan coverage: %w", err))
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("ohlcv_metadata", fmt.Errorf("row iteration error: %w", err))
	}

	tickRows, err := d.db.QueryContext(ctx, `
		SELECT m.symbol, m.start_timestamp, m.end_timestamp,
			(SELECT COUNT(*) FROM tick_data d WHERE d.symbol = m.symbol)
		FROM tick_metadata m
		ORDER BY m.symbol`)
	if err != nil {
		return nil, NewQueryError("tick_metadata", fmt.Errorf("failed to enumerate tick coverage: %w", err))
	}
	defer tickRows.Close()

	for tickRows.Next() {
		var info models.CoverageInfo
		if err := tickRows.Scan(&info.Symbol, &info.Earliest, &info.Latest, &info.Rows); err != nil {
			return nil, NewQueryError("tick_metadata", fmt.Errorf("failed to scan tick coverage: %w", err))
		}
		info.Timeframe = "tick"
		infos = append(infos, info)
	}
	if err := tickRows.Err(); err != nil {
		return nil, NewQueryError("tick_metadata", fmt.Errorf("row iteration error: %w", err))
	}

	return infos, nil
}

// Compile-time interface compliance check
var _ Store = (*DuckDBStore)(nil)

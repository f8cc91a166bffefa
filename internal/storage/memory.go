package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

// barKey identifies one bar series.
type barKey struct {
	symbol    string
	timeframe string
}

// tickKey identifies one quote row within a symbol.
type tickKey struct {
	timestamp int64
	source    string
}

// MemoryStore is an in-memory implementation of the Store interface used by
// tests and as a throwaway backend. A single mutex guards all state, which
// trivially satisfies the per-key merge atomicity the contract requires.
type MemoryStore struct {
	mu sync.RWMutex

	bars  map[barKey]map[int64]models.Bar
	ticks map[string]map[tickKey]models.Tick

	initialized bool
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bars:  make(map[barKey]map[int64]models.Bar),
		ticks: make(map[string]map[tickKey]models.Tick),
	}
}

// Merge implements BarStorer.
func (m *MemoryStore) Merge(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	if err := ctx.Err(); err != nil {
		return NewMergeError("bars", err)
	}
	if len(bars) == 0 {
		return nil
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return NewMergeError("bars", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewMergeError("bars", errors.New("store is closed"))
	}

	key := barKey{symbol: symbol, timeframe: timeframe}
	rows := m.bars[key]
	if rows == nil {
		rows = make(map[int64]models.Bar, len(bars))
		m.bars[key] = rows
	}
	for _, b := range bars {
		rows[b.Timestamp] = b
	}
	return nil
}

// ReadRange implements BarReader.
func (m *MemoryStore) ReadRange(ctx context.Context, symbol, timeframe string, r models.Range) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError("bars", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError("bars", errors.New("store is closed"))
	}

	rows := m.bars[barKey{symbol: symbol, timeframe: timeframe}]
	out := make([]models.Bar, 0, len(rows))
	for ts, b := range rows {
		if ts >= r.Start && ts <= r.End {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// ReadCoverage implements BarReader.
func (m *MemoryStore) ReadCoverage(ctx context.Context, symbol, timeframe string) (*models.CoverageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError("coverage", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError("coverage", errors.New("store is closed"))
	}

	rows := m.bars[barKey{symbol: symbol, timeframe: timeframe}]
	if len(rows) == 0 {
		return nil, nil
	}
	rec := &models.CoverageRecord{Symbol: symbol, Timeframe: timeframe}
	first := true
	for ts := range rows {
		if first {
			rec.Earliest, rec.Latest = ts, ts
			first = false
			continue
		}
		if ts < rec.Earliest {
			rec.Earliest = ts
		}
		if ts > rec.Latest {
			rec.Latest = ts
		}
	}
	return rec, nil
}

// MergeTicks implements TickStorer.
func (m *MemoryStore) MergeTicks(ctx context.Context, symbol, source string, ticks []models.Tick) error {
	if err := ctx.Err(); err != nil {
		return NewMergeError("ticks", err)
	}
	if len(ticks) == 0 {
		return nil
	}
	for _, t := range ticks {
		if err := t.Validate(); err != nil {
			return NewMergeError("ticks", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewMergeError("ticks", errors.New("store is closed"))
	}

	rows := m.ticks[symbol]
	if rows == nil {
		rows = make(map[tickKey]models.Tick, len(ticks))
		m.ticks[symbol] = rows
	}
	for _, t := range ticks {
		rows[tickKey{timestamp: t.Timestamp, source: source}] = t
	}
	return nil
}

// ReadTickRange implements TickReader.
func (m *MemoryStore) ReadTickRange(ctx context.Context, symbol string, r models.Range) ([]models.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError("ticks", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError("ticks", errors.New("store is closed"))
	}

	rows := m.ticks[symbol]
	out := make([]models.Tick, 0, len(rows))
	for k, t := range rows {
		if k.timestamp >= r.Start && k.timestamp <= r.End {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// ReadTickCoverage implements TickReader.
func (m *MemoryStore) ReadTickCoverage(ctx context.Context, symbol string) (*models.CoverageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError("coverage", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError("coverage", errors.New("store is closed"))
	}

	rows := m.ticks[symbol]
	if len(rows) == 0 {
		return nil, nil
	}
	rec := &models.CoverageRecord{Symbol: symbol}
	first := true
	for k := range rows {
		if first {
			rec.Earliest, rec.Latest = k.timestamp, k.timestamp
			first = false
			continue
		}
		if k.timestamp < rec.Earliest {
			rec.Earliest = k.timestamp
		}
		if k.timestamp > rec.Latest {
			rec.Latest = k.timestamp
		}
	}
	return rec, nil
}

// Delete implements Deleter. Removing an absent key is a success.
func (m *MemoryStore) Delete(ctx context.Context, symbol, timeframe string) error {
	if err := ctx.Err(); err != nil {
		return NewDeleteError("bars", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewDeleteError("bars", errors.New("store is closed"))
	}

	delete(m.bars, barKey{symbol: symbol, timeframe: timeframe})
	return nil
}

// DeleteTicks implements Deleter.
func (m *MemoryStore) DeleteTicks(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return NewDeleteError("ticks", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewDeleteError("ticks", errors.New("store is closed"))
	}

	delete(m.ticks, symbol)
	return nil
}

// Initialize implements Manager.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("initialize", "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewStorageError("initialize", "", errors.New("store is closed"))
	}
	m.initialized = true
	return nil
}

// Close implements Manager. Closing twice is a no-op.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// HealthCheck implements Manager.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("store is closed")
	}
	if !m.initialized {
		return errors.New("store is not initialized")
	}
	return nil
}

// StoredInfo implements Manager.
func (m *MemoryStore) StoredInfo(ctx context.Context) ([]models.CoverageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError("coverage", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError("coverage", errors.New("store is closed"))
	}

	var infos []models.CoverageInfo
	for key, rows := range m.bars {
		if len(rows) == 0 {
			continue
		}
		info := models.CoverageInfo{Rows: int64(len(rows))}
		info.Symbol = key.symbol
		info.Timeframe = key.timeframe
		first := true
		for ts := range rows {
			if first {
				info.Earliest, info.Latest = ts, ts
				first = false
				continue
			}
			if ts < info.Earliest {
				info.Earliest = ts
			}
			if ts > info.Latest {
				info.Latest = ts
			}
		}
		infos = append(infos, info)
	}
	for symbol, rows := range m.ticks {
		if len(rows) == 0 {
			continue
		}
		info := models.CoverageInfo{Rows: int64(len(rows))}
		info.Symbol = symbol
		info.Timeframe = "tick"
		first := true
		for k := range rows {
			if first {
				info.Earliest, info.Latest = k.timestamp, k.timestamp
				first = false
				continue
			}
			if k.timestamp < info.Earliest {
				info.Earliest = k.timestamp
			}
			if k.timestamp > info.Latest {
				info.Latest = k.timestamp
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Symbol != infos[j].Symbol {
			return infos[i].Symbol < infos[j].Symbol
		}
		return infos[i].Timeframe < infos[j].Timeframe
	})
	return infos, nil
}

// Compile-time interface compliance check
var _ Store = (*MemoryStore)(nil)

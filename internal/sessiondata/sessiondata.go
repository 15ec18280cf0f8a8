// Package sessiondata implements SessionData, the single shared mutable
// state all four worker threads read and write. Grounded on the teacher's
// StateManager (internal/scanner/state.go): a sync.RWMutex-guarded map with
// a GetOrCreate/double-checked-locking pattern and a lock-free Snapshot.
// Generalized with a sync.Cond "data arrival" event (the teacher never
// needed one: it has no backtest clock driving worker threads to wait for
// the next unit of data) and a per-(symbol,interval) delta cursor for
// incremental JSON export.
package sessiondata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/marketdata/sessioncore/internal/models"
)

// SessionData is the coordinator's sole shared mutable state: the set of
// provisioned symbols and, for each, its bar series, indicators, and
// quality metrics. All mutation goes through its exported methods, which
// hold the RWMutex for the minimum span needed.
type SessionData struct {
	mu      sync.RWMutex
	cond    *sync.Cond
	symbols map[string]*models.SymbolSessionData
	version uint64 // bumped on every mutation; arrival signal + delta baseline
	active  bool
}

// New creates an empty SessionData, inactive until Activate is called.
func New() *SessionData {
	sd := &SessionData{symbols: make(map[string]*models.SymbolSessionData)}
	sd.cond = sync.NewCond(sd.mu.RLocker())
	return sd
}

// Activate marks the session as live. The flag is reported by Active and in
// snapshots only: accessors return data whether or not the session is
// active, and neither the Quality Manager nor the Strategy Dispatcher
// checks it.
func (sd *SessionData) Activate() {
	sd.mu.Lock()
	sd.active = true
	sd.mu.Unlock()
}

// Deactivate is used during mid-session symbol addition: the coordinator
// deactivates SessionData while the new symbol is provisioned and caught up.
// Reads and writes keep working while the flag is clear; the coordinator's
// stream gate is what pauses streaming during the addition.
func (sd *SessionData) Deactivate() {
	sd.mu.Lock()
	sd.active = false
	sd.mu.Unlock()
}

// Active reports whether the session is currently serving worker threads.
func (sd *SessionData) Active() bool {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return sd.active
}

// Clear wipes every symbol's state, used by the coordinator's Phase E
// teardown: every session is a fresh start, so nothing carries over to the
// next trading day.
func (sd *SessionData) Clear() {
	sd.mu.Lock()
	sd.symbols = make(map[string]*models.SymbolSessionData)
	sd.active = false
	sd.bumpLocked()
	sd.mu.Unlock()
	sd.cond.Broadcast()
}

// GetOrCreate returns the symbol's session record, creating an inactive one
// (addedAt = now) if it doesn't exist yet.
func (sd *SessionData) GetOrCreate(symbol string, now time.Time) *models.SymbolSessionData {
	sd.mu.RLock()
	s, ok := sd.symbols[symbol]
	sd.mu.RUnlock()
	if ok {
		return s
	}

	sd.mu.Lock()
	defer sd.mu.Unlock()
	if s, ok := sd.symbols[symbol]; ok {
		return s
	}
	s = models.NewSymbolSessionData(symbol, now)
	sd.symbols[symbol] = s
	return s
}

// Get returns the symbol's session record without creating it.
func (sd *SessionData) Get(symbol string) (*models.SymbolSessionData, bool) {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	s, ok := sd.symbols[symbol]
	return s, ok
}

// Symbols returns the set of currently provisioned symbols.
func (sd *SessionData) Symbols() []string {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	out := make([]string, 0, len(sd.symbols))
	for sym := range sd.symbols {
		out = append(out, sym)
	}
	return out
}

// Remove drops a symbol entirely (used when a symbol is deprovisioned).
func (sd *SessionData) Remove(symbol string) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	delete(sd.symbols, symbol)
}

// AppendBar appends a finalized bar to symbol's series at interval,
// creating the (symbol, interval) series on first use, then signals the
// data-arrival event so any worker blocked in Wait proceeds.
func (sd *SessionData) AppendBar(symbol string, interval models.Interval, bar models.Bar, maxBars int) {
	sd.mu.Lock()
	s, ok := sd.symbols[symbol]
	if !ok {
		s = models.NewSymbolSessionData(symbol, bar.Timestamp)
		sd.symbols[symbol] = s
	}
	d, ok := s.Intervals[interval.String()]
	if !ok {
		d = models.NewBarIntervalData(interval, maxBars)
		s.Intervals[interval.String()] = d
	}
	d.Append(bar)
	s.Metrics.BarsProcessed++
	s.Metrics.LastBarTime = bar.Timestamp
	s.Metrics.GapsDetected = len(d.Gaps)
	var barsMissing int
	for _, g := range d.Gaps {
		barsMissing += g.BarsMissing
	}
	s.Metrics.BarsMissing = barsMissing
	sd.bumpLocked()
	sd.mu.Unlock()
	sd.cond.Broadcast()
}

// UpdateIndicator records a computed indicator result for a symbol,
// creating the IndicatorData record on first use.
func (sd *SessionData) UpdateIndicator(symbol string, cfg models.IndicatorConfig, values map[string]float64, ts time.Time) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	s, ok := sd.symbols[symbol]
	if !ok {
		s = models.NewSymbolSessionData(symbol, ts)
		sd.symbols[symbol] = s
	}
	id := cfg.ID()
	data, ok := s.Indicators[id]
	if !ok {
		data = models.NewIndicatorData(cfg)
		s.Indicators[id] = data
	}
	data.MarkUpdated(values, ts)
	sd.bumpLocked()
}

// BarsRef returns the live, un-copied bar slice for (symbol, interval) --
// the "get_bars_ref" hot path strategies use to read bars without a copy.
// The caller must not retain or mutate the slice beyond the current call:
// a subsequent AppendBar may grow, trim, or reallocate the backing array.
func (sd *SessionData) BarsRef(symbol string, interval models.Interval) ([]models.Bar, bool) {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	s, ok := sd.symbols[symbol]
	if !ok {
		return nil, false
	}
	d, ok := s.Intervals[interval.String()]
	if !ok {
		return nil, false
	}
	return d.Bars, true
}

// SetQuality stores the Quality Manager's computed score for one (symbol,
// interval) pair. A no-op if the series doesn't exist yet.
func (sd *SessionData) SetQuality(symbol string, interval models.Interval, quality float64) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	s, ok := sd.symbols[symbol]
	if !ok {
		return
	}
	d, ok := s.Intervals[interval.String()]
	if !ok {
		return
	}
	d.Quality = quality
	sd.bumpLocked()
}

// SetGaps replaces the recorded gap list for one (symbol, interval) pair, for
// the Quality Manager's periodic sweep (which recomputes gaps against
// expected trading-calendar timestamps rather than only consecutive-append
// detection). A no-op if the series doesn't exist yet.
func (sd *SessionData) SetGaps(symbol string, interval models.Interval, gaps []models.Gap) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	s, ok := sd.symbols[symbol]
	if !ok {
		return
	}
	d, ok := s.Intervals[interval.String()]
	if !ok {
		return
	}
	d.Gaps = gaps
	sd.bumpLocked()
}

// UpdateMetrics mutates a symbol's SessionMetrics under the write lock, for
// the Quality Manager's sweep (quality score, sweep timestamp).
func (sd *SessionData) UpdateMetrics(symbol string, fn func(*models.SessionMetrics)) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	s, ok := sd.symbols[symbol]
	if !ok {
		return
	}
	fn(&s.Metrics)
}

// MarkActive flips a symbol's Active flag once provisioning completes.
func (sd *SessionData) MarkActive(symbol string, active bool) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if s, ok := sd.symbols[symbol]; ok {
		s.Active = active
	}
}

func (sd *SessionData) bumpLocked() { sd.version++ }

// Version returns the current mutation counter, usable as a cheap
// "has anything changed" check without copying state.
func (sd *SessionData) Version() uint64 {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return sd.version
}

// Wait blocks until the version counter advances past since, or ctx is
// canceled. It is the "data_arrival_event" primitive live-mode worker
// threads block on between bars, since in live mode bars don't arrive on a
// fixed clock the coordinator controls.
func (sd *SessionData) Wait(ctx context.Context, since uint64) (uint64, error) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		sd.cond.Broadcast() // wake the waiter so it can observe ctx.Err()
		close(done)
	}()
	defer func() { <-done }()

	sd.mu.RLock()
	defer sd.mu.RUnlock()
	for sd.version <= since {
		if ctx.Err() != nil {
			return sd.version, ctx.Err()
		}
		sd.cond.Wait()
	}
	return sd.version, nil
}

// symbolSnapshot is the JSON-exportable view of one symbol's session data;
// it keeps the interval map, keyed by interval tag.
type symbolSnapshot struct {
	Symbol     string                      `json:"symbol"`
	Active     bool                        `json:"active"`
	AddedAt    time.Time                   `json:"added_at"`
	Metrics    models.SessionMetrics       `json:"metrics"`
	Intervals  map[string]*models.BarIntervalData `json:"intervals"`
	Indicators map[string]*models.IndicatorData   `json:"indicators"`
}

// Snapshot returns a deep-copied, JSON-serializable view of the full
// session (to_json(complete) in spec terms), safe to read without holding
// any lock afterward.
func (sd *SessionData) Snapshot() map[string]symbolSnapshot {
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	out := make(map[string]symbolSnapshot, len(sd.symbols))
	for sym, s := range sd.symbols {
		cp := symbolSnapshot{
			Symbol:     s.Symbol,
			Active:     s.Active,
			AddedAt:    s.AddedAt,
			Metrics:    s.Metrics,
			Intervals:  make(map[string]*models.BarIntervalData, len(s.Intervals)),
			Indicators: make(map[string]*models.IndicatorData, len(s.Indicators)),
		}
		for k, d := range s.Intervals {
			bars := make([]models.Bar, len(d.Bars))
			copy(bars, d.Bars)
			gaps := make([]models.Gap, len(d.Gaps))
			copy(gaps, d.Gaps)
			cp.Intervals[k] = &models.BarIntervalData{Interval: d.Interval, Bars: bars, Gaps: gaps, Quality: d.Quality, LastUpdated: d.LastUpdated}
		}
		for k, ind := range s.Indicators {
			values := make(map[string]float64, len(ind.Values))
			for vk, vv := range ind.Values {
				values[vk] = vv
			}
			cp.Indicators[k] = &models.IndicatorData{Config: ind.Config, Values: values, BarsSeen: ind.BarsSeen, Valid: ind.Valid, UpdatedAt: ind.UpdatedAt}
		}
		out[sym] = cp
	}
	return out
}

// ToJSON marshals the full session snapshot.
func (sd *SessionData) ToJSON() ([]byte, error) {
	return json.Marshal(sd.Snapshot())
}

// Delta is the incremental export of one (symbol, interval) series since a
// previously observed cursor: the bars appended after that cursor index.
type Delta struct {
	Symbol   string        `json:"symbol"`
	Interval string        `json:"interval"`
	NewBars  []models.Bar  `json:"new_bars"`
	Cursor   int           `json:"cursor"` // pass back as `since` on the next call
}

// SnapshotSince returns only the bars appended after `since` for (symbol,
// interval), mirroring the teacher's Snapshot-then-iterate idiom but scoped
// to a single series for cheap polling exports.
func (sd *SessionData) SnapshotSince(symbol string, interval models.Interval, since int) (Delta, bool) {
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	s, ok := sd.symbols[symbol]
	if !ok {
		return Delta{}, false
	}
	d, ok := s.Intervals[interval.String()]
	if !ok {
		return Delta{}, false
	}
	if since < 0 {
		since = 0
	}
	if since > len(d.Bars) {
		since = len(d.Bars)
	}
	newBars := make([]models.Bar, len(d.Bars)-since)
	copy(newBars, d.Bars[since:])
	return Delta{Symbol: symbol, Interval: interval.String(), NewBars: newBars, Cursor: len(d.Bars)}, true
}

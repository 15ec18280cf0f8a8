// Package dataprocessor implements the Data Processor worker: it turns
// newly arrived base-interval bars into derived-interval bars and keeps
// every registered indicator's state current. Grounded on the teacher's
// internal/bars/aggregator.go (minute-boundary OHLCV folding) and
// internal/indicator/engine.go (per-symbol calculator registry with a
// warmup-then-valid state machine), generalized from the teacher's fixed
// tick-to-1m aggregation to arbitrary base/derived interval pairs aligned to
// the trading calendar's market open.
package dataprocessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/requirement"
	"github.com/marketdata/sessioncore/internal/sessiondata"
	"github.com/marketdata/sessioncore/pkg/indicator"
	"github.com/marketdata/sessioncore/pkg/logger"
)

// BarEvent names one (symbol, interval) pair whose series was just updated,
// the unit the Strategy Dispatcher routes on.
type BarEvent struct {
	Symbol   string
	Interval models.Interval
}

// NotifySink receives the batch of BarEvents produced by one OnBaseBar call.
// In data-driven backtest mode the implementation blocks until every
// notified strategy has signaled completion; in clock-driven and live modes
// it returns immediately. internal/dispatcher.Dispatcher satisfies this.
type NotifySink interface {
	Notify(ctx context.Context, events []BarEvent) error
}

// window accumulates base bars into one in-progress derived bar.
type window struct {
	start                   time.Time
	open, high, low, close  float64
	volume                  float64
	barCount                int
}

func newWindow(start time.Time, b models.Bar) *window {
	return &window{start: start, open: b.Open, high: b.High, low: b.Low, close: b.Close, volume: b.Volume, barCount: 1}
}

func (w *window) fold(b models.Bar) {
	if b.High > w.high {
		w.high = b.High
	}
	if b.Low < w.low {
		w.low = b.Low
	}
	w.close = b.Close
	w.volume += b.Volume
	w.barCount++
}

func (w *window) toBar(symbol string, d models.Interval) models.Bar {
	return models.Bar{
		Symbol:    symbol,
		Interval:  d,
		Timestamp: w.start,
		Open:      w.open,
		High:      w.high,
		Low:       w.low,
		Close:     w.close,
		Volume:    w.volume,
	}
}

// symbolState is everything the processor needs to fold one symbol's base
// bar stream: its derived-interval accumulators and its live calculators,
// keyed the same way SessionData keys indicators (IndicatorConfig.ID()).
type symbolState struct {
	base        models.Interval
	derived     []models.Interval
	accumulators map[string]*window                   // Interval.String() -> in-progress window
	calculators  map[string]indicator.Calculator       // IndicatorConfig.ID() -> live calculator
	configs      map[string]models.IndicatorConfig     // IndicatorConfig.ID() -> its config, for interval lookup
}

// Processor folds base bars into derived bars and indicator updates against
// one SessionData instance.
type Processor struct {
	mu       sync.Mutex
	session  *sessiondata.SessionData
	calendar calendar.Calendar
	maxBars  int
	symbols  map[string]*symbolState
	sink     NotifySink
}

// New builds a Processor. sink may be nil, in which case notifications are
// simply dropped (useful in tests that only assert on SessionData state).
func New(session *sessiondata.SessionData, cal calendar.Calendar, maxBars int, sink NotifySink) *Processor {
	if maxBars <= 0 {
		maxBars = 200
	}
	return &Processor{
		session:  session,
		calendar: cal,
		maxBars:  maxBars,
		symbols:  make(map[string]*symbolState),
		sink:     sink,
	}
}

// Register installs a symbol's provisioning plan: its base/derived intervals
// and the live indicator calculators built from req.Indicators. The
// coordinator does not call it; cmd/sessionctl's lazyProcessor registers
// each symbol on that symbol's first delivered base bar.
func (p *Processor) Register(req requirement.ProvisioningRequirements) error {
	calculators := make(map[string]indicator.Calculator, len(req.Indicators))
	configs := make(map[string]models.IndicatorConfig, len(req.Indicators))
	for _, cfg := range req.Indicators {
		calc, err := indicator.NewCalculator(cfg)
		if err != nil {
			return fmt.Errorf("build calculator for %s: %w", cfg.ID(), err)
		}
		calculators[cfg.ID()] = calc
		configs[cfg.ID()] = cfg
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols[req.Symbol] = &symbolState{
		base:         req.BaseInterval,
		derived:      append([]models.Interval(nil), req.DerivedIntervals...),
		accumulators: make(map[string]*window),
		calculators:  calculators,
		configs:      configs,
	}
	return nil
}

// Unregister drops a symbol's processor-side state (called at teardown or
// when a symbol is removed mid-session).
func (p *Processor) Unregister(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.symbols, symbol)
}

// OnBaseBar processes one newly appended base-interval bar for symbol: it
// updates base-interval indicators, folds the bar into every derived
// interval's in-progress window, finalizes and appends any window that bar
// just closed (running that derived interval's indicators in turn), then
// notifies the sink with every (symbol, interval) pair that updated.
//
// The caller is responsible for having already appended bar to SessionData
// at the base interval (typically the coordinator, reading from the data
// source); OnBaseBar only handles what bar's arrival implies downstream.
func (p *Processor) OnBaseBar(ctx context.Context, symbol string, bar models.Bar) error {
	p.mu.Lock()
	state, ok := p.symbols[symbol]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("dataprocessor: symbol %s is not registered", symbol)
	}

	// The base bar is assumed already appended by the caller; its arrival
	// alone is an update worth notifying on, independent of whether any
	// indicator is configured at that interval.
	events := []BarEvent{{Symbol: symbol, Interval: state.base}}
	p.updateIndicatorsLocked(state, state.base, bar)

	for _, d := range state.derived {
		derivedBar, closed := p.foldWindowLocked(state, symbol, d, bar)
		if !closed {
			continue
		}
		p.session.AppendBar(symbol, d, derivedBar, p.maxBars)
		events = append(events, BarEvent{Symbol: symbol, Interval: d})
		p.updateIndicatorsLocked(state, d, derivedBar)
	}
	p.mu.Unlock()

	if len(events) == 0 || p.sink == nil {
		return nil
	}
	if err := p.sink.Notify(ctx, events); err != nil {
		logger.Warn("dispatcher notify failed", logger.ErrorField(err), logger.String("symbol", symbol))
		return err
	}
	return nil
}

// Flush finalizes every symbol's still-open derived-interval accumulators
// and runs them through indicators + notify exactly like a bar arrival would
// close them. Called by the coordinator at Phase E teardown (and on live-mode
// stop): the last window of a session never sees a bar from the *next*
// window to trigger its own close in OnBaseBar, so without this pass the
// session's final derived bar at every interval is silently dropped.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	var events []BarEvent
	for symbol, state := range p.symbols {
		for _, d := range state.derived {
			key := d.String()
			acc, exists := state.accumulators[key]
			if !exists {
				continue
			}
			delete(state.accumulators, key)
			finished := acc.toBar(symbol, d)
			p.session.AppendBar(symbol, d, finished, p.maxBars)
			events = append(events, BarEvent{Symbol: symbol, Interval: d})
			p.updateIndicatorsLocked(state, d, finished)
		}
	}
	p.mu.Unlock()

	if len(events) == 0 || p.sink == nil {
		return nil
	}
	if err := p.sink.Notify(ctx, events); err != nil {
		logger.Warn("dispatcher notify failed during flush", logger.ErrorField(err))
		return err
	}
	return nil
}

// foldWindowLocked folds bar into derived interval d's accumulator, aligned
// to the trading calendar's market open, returning the finalized bar and
// true the moment bar belongs to a new window (i.e. the previous window just
// closed).
func (p *Processor) foldWindowLocked(state *symbolState, symbol string, d models.Interval, bar models.Bar) (models.Bar, bool) {
	ws := p.windowStart(d, bar.Timestamp)
	key := d.String()
	acc, exists := state.accumulators[key]

	if !exists {
		state.accumulators[key] = newWindow(ws, bar)
		return models.Bar{}, false
	}
	if acc.start.Equal(ws) {
		acc.fold(bar)
		return models.Bar{}, false
	}

	finished := acc.toBar(symbol, d)
	state.accumulators[key] = newWindow(ws, bar)
	return finished, true
}

// windowStart returns the start of the d-sized window containing t, aligned
// to t's calendar day market open (falling back to t's own UTC-midnight day
// boundary if the calendar reports no session, e.g. the day is not a trading
// day at all -- which should not happen for a symbol receiving live bars).
func (p *Processor) windowStart(d models.Interval, t time.Time) time.Time {
	open, ok := p.calendar.MarketOpen(t)
	if !ok {
		open = t.Truncate(24 * time.Hour)
	}
	step := d.Duration()
	elapsed := t.Sub(open)
	if elapsed < 0 {
		elapsed = 0
	}
	steps := int64(elapsed / step)
	return open.Add(time.Duration(steps) * step)
}

// updateIndicatorsLocked runs every indicator configured at interval against
// bar, writing results into SessionData.
func (p *Processor) updateIndicatorsLocked(state *symbolState, interval models.Interval, bar models.Bar) {
	for id, cfg := range state.configs {
		if cfg.Interval.String() != interval.String() {
			continue
		}
		calc := state.calculators[id]
		values, ok := calc.Update(bar)
		if !ok {
			continue
		}
		p.session.UpdateIndicator(bar.Symbol, cfg, values, bar.Timestamp)
	}
}

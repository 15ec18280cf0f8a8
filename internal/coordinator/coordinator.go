// Package coordinator implements the Session Coordinator: the lifecycle
// thread that walks every trading session through five phases (initialize,
// load, activate, stream, teardown), owns the backtest bar queues, and
// drains mid-session symbol additions. Grounded on cmd/scanner/main.go's
// top-level wiring and internal/scanner/scan_loop.go's Start/Stop/run
// lifecycle, generalized from one flat scan loop into the five-phase
// session state machine spec.md §4.5 names.
package coordinator

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/coreerrors"
	"github.com/marketdata/sessioncore/internal/datasource"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/provisioning"
	"github.com/marketdata/sessioncore/internal/requirement"
	"github.com/marketdata/sessioncore/internal/sessiondata"
	"github.com/marketdata/sessioncore/pkg/logger"
)

// Mode selects backtest (queued, clock-driven) or live (subscription,
// callback-driven) streaming.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// AddedBy names who requested a symbol's provisioning, carried onto
// SymbolSessionData.AddedBy.
type AddedBy string

const (
	AddedByConfig   AddedBy = "config"
	AddedByStrategy AddedBy = "strategy"
	AddedByScanner  AddedBy = "scanner"
	AddedByAdhoc    AddedBy = "adhoc"
)

// BaseBarHandler is invoked once per base-interval bar the coordinator
// delivers, after it has been appended to SessionData: the caller (normally
// internal/dataprocessor.Processor.OnBaseBar) folds it into derived
// intervals, updates indicators, and notifies the Strategy Dispatcher.
type BaseBarHandler func(ctx context.Context, symbol string, bar models.Bar) error

// FlushHandler is invoked once at Phase E teardown (backtest end-of-day and
// live-mode stop alike): the caller (normally
// internal/dataprocessor.Processor.Flush) finalizes every symbol's
// still-open derived-interval window, since no further base bar will ever
// arrive to close it the way OnBaseBar does mid-session.
type FlushHandler func(ctx context.Context) error

// Config is the coordinator's session-wide configuration: the symbols
// present at startup, the streams every one of them requests, and the
// backtest window (ignored in live mode).
type Config struct {
	Mode       Mode
	Symbols    []string
	Intervals  []models.Interval
	Indicators []models.IndicatorConfig

	StartDate        time.Time // backtest only, inclusive
	EndDate          time.Time // backtest only, inclusive
	SpeedMultiplier  int       // backtest only; 0 = as fast as possible
	ProvisioningTimeout time.Duration // mid-session add budget, spec.md §5
}

func (c Config) provisioningTimeout() time.Duration {
	if c.ProvisioningTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ProvisioningTimeout
}

// pendingSymbol is one queued mid-session add_symbol request.
type pendingSymbol struct {
	symbol  string
	addedBy AddedBy
}

// Coordinator runs the session lifecycle loop described in spec.md §4.5. It
// owns the backtest-mode bar queues (thread-local to the coordinator, per
// spec.md §4.5.3) and the stream gate; other goroutines add to
// pending_symbols only through AddSymbol. SessionData is written by the
// coordinator, the Data Processor and the Quality Manager alike.
type Coordinator struct {
	cfg      Config
	session  *sessiondata.SessionData
	source   datasource.Source
	calendar calendar.Calendar
	exec     *provisioning.Executor
	onBar    BaseBarHandler
	flush    FlushHandler

	gate *gate

	mu            sync.Mutex
	pending       []pendingSymbol
	baseInterval  models.Interval
	derived       []models.Interval
	simTime       time.Time
	sessionDate   time.Time
	symbolReqs    map[string]requirement.ProvisioningRequirements
	queues        map[string]*barQueue // symbol -> remaining base-interval bars for sessionDate
	heap          *barHeap             // backtest mode only: live while runBacktest is on the stack
	state         string               // current lifecycle phase, for the JSON state export
}

// New builds a Coordinator. onBar is called synchronously for every
// delivered base-interval bar; in data-driven backtest mode the coordinator
// will not advance to the next bar until onBar returns, satisfying the
// synchronization contract in spec.md §4.6.
func New(cfg Config, session *sessiondata.SessionData, source datasource.Source, cal calendar.Calendar, exec *provisioning.Executor, onBar BaseBarHandler) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		session:    session,
		source:     source,
		calendar:   cal,
		exec:       exec,
		onBar:      onBar,
		gate:       newGate(true),
		symbolReqs: make(map[string]requirement.ProvisioningRequirements),
		queues:     make(map[string]*barQueue),
	}
}

// AddSymbol enqueues a mid-session addition (spec.md §4.5.2) and returns
// immediately; the coordinator drains the queue at the top of its next
// streaming-step iteration.
func (c *Coordinator) AddSymbol(symbol string, addedBy AddedBy) {
	c.mu.Lock()
	c.pending = append(c.pending, pendingSymbol{symbol: symbol, addedBy: addedBy})
	c.mu.Unlock()
}

// SetFlushHandler installs the callback Phase E teardown invokes to close
// out every symbol's still-open derived-interval windows (normally
// dataprocessor.Processor.Flush). Optional: unset, teardown does not flush
// and a session's last partial derived bar at every interval is dropped.
func (c *Coordinator) SetFlushHandler(flush FlushHandler) {
	c.mu.Lock()
	c.flush = flush
	c.mu.Unlock()
}

// Mode reports whether the coordinator is running a backtest or a live
// session.
func (c *Coordinator) Mode() Mode {
	return c.cfg.Mode
}

// State reports the coordinator's current lifecycle phase
// (initializing/loading/streaming/teardown), for the JSON state
// export's system_manager.state field.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return "initializing"
	}
	return c.state
}

// BacktestWindow reports the configured [start_date, end_date] window;
// zero values in live mode.
func (c *Coordinator) BacktestWindow() (time.Time, time.Time) {
	return c.cfg.StartDate, c.cfg.EndDate
}

func (c *Coordinator) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the session through repeated Initialize->Load->Activate->
// Stream->Teardown cycles until ctx is canceled or, in backtest mode, the
// day after EndDate is reached. In live mode there is no "next trading day"
// to loop to, so Teardown simply stops.
func (c *Coordinator) Run(ctx context.Context) error {
	firstEntry := true
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		// Phase A -- Initialize.
		c.setState("initializing")
		if err := c.phaseInitialize(firstEntry); err != nil {
			return fmt.Errorf("coordinator: initialize: %w", err)
		}
		firstEntry = false

		// Phase B -- Load session data.
		c.setState("loading")
		if err := c.phaseLoad(ctx); err != nil {
			return fmt.Errorf("coordinator: load: %w", err)
		}

		// Phase C -- Activate.
		c.session.Activate()
		logger.Info("session activated", logger.String("date", c.sessionDate.Format("2006-01-02")))

		// Phase D -- Stream.
		c.setState("streaming")
		if err := c.phaseStream(ctx); err != nil {
			return fmt.Errorf("coordinator: stream: %w", err)
		}

		// Phase E -- Teardown.
		c.setState("teardown")
		c.phaseTeardown(ctx)

		if ctx.Err() != nil || c.cfg.Mode == ModeLive {
			return ctx.Err()
		}
		c.sessionDate = c.sessionDate.AddDate(0, 0, 1)
		if c.sessionDate.After(c.cfg.EndDate) {
			return nil
		}
		// Clearing happens here, not inside phaseTeardown, so that a caller
		// reading SessionData after Run returns still sees the just-finished
		// session's final state; the next trading day's Initialize phase
		// starts from a clean slate instead.
		c.session.Clear()
	}
}

// phaseInitialize resets per-session flags; on first entry it also runs the
// session-wide stream validation (requirement.AnalyzeSessionRequirements
// against the config-declared streams) and caches the resolved base and
// derivable intervals.
func (c *Coordinator) phaseInitialize(firstEntry bool) error {
	if firstEntry {
		req, err := requirement.AnalyzeSessionRequirements("__session__", c.cfg.Intervals, nil)
		if err != nil {
			return coreerrors.New(coreerrors.KindValidation, "coordinator", err)
		}
		c.baseInterval = req.BaseInterval
		c.derived = req.DerivedIntervals
		c.sessionDate = c.cfg.StartDate
	}
	c.mu.Lock()
	c.queues = make(map[string]*barQueue)
	c.mu.Unlock()
	return nil
}

// phaseLoad provisions every config-declared symbol: analyze -> validate ->
// execute, per spec.md §4.4's graceful-degradation policy (a symbol that
// fails any check is dropped with a warning; the session fails to start
// only if every symbol fails).
func (c *Coordinator) phaseLoad(ctx context.Context) error {
	asOf := c.sessionStart()
	var provisioned int
	for _, symbol := range c.cfg.Symbols {
		req, err := c.exec.ExecuteForSession(ctx, symbol, c.cfg.Intervals, c.cfg.Indicators, asOf, string(AddedByConfig))
		if err != nil {
			logger.Warn("symbol dropped during session load", logger.String("symbol", symbol), logger.ErrorField(err))
			continue
		}
		c.symbolReqs[symbol] = req
		if c.cfg.Mode == ModeBacktest {
			if err := c.loadSessionQueue(ctx, symbol, req); err != nil {
				logger.Warn("symbol dropped: could not load session queue", logger.String("symbol", symbol), logger.ErrorField(err))
				continue
			}
		}
		provisioned++
	}
	if provisioned == 0 {
		return coreerrors.New(coreerrors.KindValidation, "coordinator", fmt.Errorf("every configured symbol failed provisioning"))
	}
	return nil
}

// loadSessionQueue fills symbol's backtest base-interval queue with the
// current session date's regular-trading-hours bars (spec.md §4.3's
// "load_session" step).
func (c *Coordinator) loadSessionQueue(ctx context.Context, symbol string, req requirement.ProvisioningRequirements) error {
	open, ok := c.calendar.MarketOpen(c.sessionDate)
	if !ok {
		return fmt.Errorf("%s is not a trading day", c.sessionDate.Format("2006-01-02"))
	}
	sessionClose, _ := c.calendar.MarketClose(c.sessionDate)

	bars, err := c.source.LoadBars(ctx, symbol, req.BaseInterval, open, sessionClose)
	if err != nil {
		return fmt.Errorf("load session bars: %w", err)
	}
	c.mu.Lock()
	c.queues[symbol] = newBarQueue(bars)
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) sessionStart() time.Time {
	if open, ok := c.calendar.MarketOpen(c.sessionDate); ok {
		return open
	}
	return c.sessionDate
}

// phaseStream runs the main streaming loop until every backtest queue is
// exhausted (backtest) or ctx is canceled (live).
func (c *Coordinator) phaseStream(ctx context.Context) error {
	if c.cfg.Mode == ModeLive {
		return c.runLive(ctx)
	}
	return c.runBacktest(ctx)
}

// runBacktest pops bars in non-decreasing timestamp order (tie-broken by
// symbol name) from a min-heap over every symbol's queue head, per
// spec.md §9's redesign note, until every queue for the current session
// date is empty.
func (c *Coordinator) runBacktest(ctx context.Context) error {
	h := &barHeap{}
	heap.Init(h)
	c.mu.Lock()
	for symbol, q := range c.queues {
		if b, ok := q.peek(); ok {
			heap.Push(h, queuedBar{symbol: symbol, bar: b})
		}
	}
	c.heap = h
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.heap = nil
		c.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		c.drainPending(ctx)
		c.gate.Wait()

		if h.Len() == 0 {
			return nil
		}
		next := heap.Pop(h).(queuedBar)

		c.mu.Lock()
		q := c.queues[next.symbol]
		q.popFront()
		if nb, ok := q.peek(); ok {
			heap.Push(h, queuedBar{symbol: next.symbol, bar: nb})
		}
		c.mu.Unlock()

		if c.calendar.Session(next.bar.Timestamp) != calendar.SessionRegular {
			continue // outside regular trading hours: drop, per spec.md §4.5.1
		}

		c.simTime = next.bar.Timestamp
		c.session.AppendBar(next.symbol, c.baseInterval, next.bar, 0)
		if c.onBar != nil {
			if err := c.onBar(ctx, next.symbol, next.bar); err != nil {
				logger.Warn("base bar handler failed", logger.String("symbol", next.symbol), logger.ErrorField(err))
			}
		}
	}
}

// runLive starts one subscription per symbol via the data-source
// collaborator and fans incoming bars into the same onBar path the backtest
// loop uses, plus one dedicated goroutine draining mid-session additions on
// a short ticker. There is no queue and no pause in live mode
// (spec.md §4.5.1); pending-symbol draining still runs on its own goroutine
// rather than inside a per-symbol stream goroutine, since drainPending's
// deactivate/provision/reactivate sequence must run exactly once per batch,
// not once per concurrently-running per-symbol consumer.
func (c *Coordinator) runLive(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				c.drainPending(gctx)
			}
		}
	})

	for _, symbol := range c.cfg.Symbols {
		symbol := symbol
		stream, err := c.source.Stream(gctx, []string{symbol}, c.baseInterval)
		if err != nil {
			logger.Warn("live stream failed to start", logger.String("symbol", symbol), logger.ErrorField(err))
			continue
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case bar, ok := <-stream:
					if !ok {
						return nil
					}
					c.session.AppendBar(symbol, c.baseInterval, bar, 0)
					if c.onBar != nil {
						if err := c.onBar(gctx, symbol, bar); err != nil {
							logger.Warn("base bar handler failed", logger.String("symbol", symbol), logger.ErrorField(err))
						}
					}
				}
			}
		})
	}
	return g.Wait()
}

// phaseTeardown flushes every symbol's still-open derived-interval windows
// (if a FlushHandler is installed), then clears the pending-symbols set and
// the backtest queues. SessionData itself is left intact here -- Run clears
// it only when actually continuing to the next trading day, so a caller
// reading the session right after Run returns sees the completed session's
// final state rather than an empty map.
func (c *Coordinator) phaseTeardown(ctx context.Context) {
	c.mu.Lock()
	flush := c.flush
	c.mu.Unlock()
	if flush != nil {
		if err := flush(ctx); err != nil {
			logger.Warn("flush failed during teardown", logger.ErrorField(err))
		}
	}

	c.mu.Lock()
	c.pending = nil
	c.queues = make(map[string]*barQueue)
	c.symbolReqs = make(map[string]requirement.ProvisioningRequirements)
	c.mu.Unlock()
}

// drainPending runs spec.md §4.5.2's mid-session symbol addition: pause,
// deactivate, provision every pending symbol, catch up its queue to the
// current simulated time, then reactivate in reverse order regardless of
// whether provisioning succeeded.
func (c *Coordinator) drainPending(ctx context.Context) {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	c.gate.Pause()
	time.Sleep(100 * time.Millisecond) // let any in-flight step complete, per spec.md §4.5.2 step 1
	c.session.Deactivate()

	func() {
		defer func() {
			c.session.Activate()
			c.gate.Resume()
		}()

		timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.provisioningTimeout())
		defer cancel()

		for _, p := range batch {
			c.addOneSymbol(timeoutCtx, p)
		}
	}()
}

func (c *Coordinator) addOneSymbol(ctx context.Context, p pendingSymbol) {
	asOf := c.simTime
	if asOf.IsZero() {
		if open, ok := c.calendar.MarketOpen(c.sessionDate); ok {
			asOf = open
		} else {
			asOf = c.sessionDate
		}
	}

	// add_symbol(X) twice is a no-op once X already meets full session
	// requirements; add_symbol(X) on an adhoc-provisioned X runs
	// UpgradeSymbol, which re-runs Execute and so reloads historical data,
	// then upgrades the metadata.
	if existing, ok := c.session.Get(p.symbol); ok {
		if existing.MeetsSessionConfigRequirements {
			return
		}
		if existing.AutoProvisioned {
			req, err := c.exec.UpgradeSymbol(ctx, p.symbol, c.cfg.Intervals, c.cfg.Indicators, asOf)
			if err != nil {
				logger.Warn("adhoc upgrade failed", logger.String("symbol", p.symbol), logger.ErrorField(err))
				return
			}
			c.symbolReqs[p.symbol] = req
			if c.cfg.Mode == ModeBacktest {
				if err := c.loadSessionQueue(ctx, p.symbol, req); err != nil {
					logger.Warn("adhoc upgrade: session queue load failed", logger.String("symbol", p.symbol), logger.ErrorField(err))
				} else {
					c.catchUpAndStream(ctx, p.symbol)
				}
			}
			return
		}
	}

	req, err := c.exec.ExecuteForSession(ctx, p.symbol, c.cfg.Intervals, c.cfg.Indicators, asOf, string(p.addedBy))
	if err != nil {
		logger.Warn("mid-session add failed, rolling back", logger.String("symbol", p.symbol), logger.ErrorField(err))
		c.session.Remove(p.symbol)
		return
	}
	c.symbolReqs[p.symbol] = req

	if c.cfg.Mode != ModeBacktest {
		return
	}
	if err := c.loadSessionQueue(ctx, p.symbol, req); err != nil {
		logger.Warn("mid-session add: session queue load failed", logger.String("symbol", p.symbol), logger.ErrorField(err))
		return
	}
	c.catchUpAndStream(ctx, p.symbol)
}

// catchUpAndStream replays symbol's backtest queue up to (but not including)
// the current simulated time -- without advancing the clock itself
// (spec.md §4.5.2 step 5) -- then pushes whatever bar is left at the head of
// its queue onto the streaming loop's heap. Without this last step the
// symbol's remaining bars (everything at or after the current simulated
// time) would sit in c.queues forever, never popped by runBacktest, and the
// symbol would stream no further bars for the rest of the session.
func (c *Coordinator) catchUpAndStream(ctx context.Context, symbol string) {
	c.mu.Lock()
	q := c.queues[symbol]
	c.mu.Unlock()
	if q == nil {
		return
	}

	for _, bar := range q.popBefore(c.simTime) {
		if c.calendar.Session(bar.Timestamp) != calendar.SessionRegular {
			continue
		}
		c.session.AppendBar(symbol, c.baseInterval, bar, 0)
		if c.onBar != nil {
			if err := c.onBar(ctx, symbol, bar); err != nil {
				logger.Warn("catch-up bar handler failed", logger.String("symbol", symbol), logger.ErrorField(err))
			}
		}
	}

	c.mu.Lock()
	if c.heap != nil {
		if nb, ok := q.peek(); ok {
			heap.Push(c.heap, queuedBar{symbol: symbol, bar: nb})
		}
	}
	c.mu.Unlock()
}

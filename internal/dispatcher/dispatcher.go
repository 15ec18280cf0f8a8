// Package dispatcher implements the Strategy Dispatcher: it satisfies
// dataprocessor.NotifySink and routes each notified (symbol, interval) event
// to every strategy subscribed to it, one dedicated goroutine and buffered
// channel per strategy. Grounded on internal/scanner/scan_loop.go's
// snapshot-then-evaluate loop (generalized here from one global scan cadence
// into per-strategy routing) and internal/pubsub/stream_publisher.go's
// batch-then-flush worker lifecycle (ctx/cancel/wg, non-blocking enqueue with
// an overrun counter standing in for the publisher's retry-then-drop path).
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marketdata/sessioncore/internal/dataprocessor"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/pkg/logger"
)

// Subscription names one (symbol, interval) pair a strategy wants notified
// on. An empty Symbol subscribes to every symbol at Interval.
type Subscription struct {
	Symbol   string
	Interval models.Interval
}

// Strategy is a unit of work driven by bar arrivals. OnBars is called once
// per matching notification; it must not block indefinitely in data-driven
// mode, since Notify waits for every matching strategy to return before the
// Data Processor (and the coordinator, transitively) proceeds to the next
// timestamp.
type Strategy interface {
	Name() string
	Subscriptions() []Subscription
	OnBars(ctx context.Context, symbol string, interval models.Interval)
}

// job is one unit of routed work: a strategy's worker received event and,
// in data-driven mode, must signal done when OnBars returns.
type job struct {
	symbol   string
	interval models.Interval
	done     *sync.WaitGroup
}

type strategyWorker struct {
	strategy Strategy
	queue    chan job
	overrun  uint64 // atomic: count of notifications dropped because the queue was full
}

// Config controls dispatch mode and per-strategy queue depth.
type Config struct {
	// DataDriven blocks Notify until every matching strategy's OnBars call
	// returns -- the backtest contract, where the Data Processor (and the
	// coordinator's bar-ordering loop) must not advance past a timestamp
	// until every strategy has observed it.
	DataDriven bool
	// QueueSize bounds each strategy's buffered channel. In live/clock-driven
	// mode a full queue causes the notification to be dropped and the
	// strategy's overrun counter to increment rather than blocking Notify.
	QueueSize int
}

// DefaultConfig is live/clock-driven with a modest per-strategy buffer.
func DefaultConfig() Config {
	return Config{DataDriven: false, QueueSize: 64}
}

// Dispatcher routes Data Processor bar-update notifications to subscribed
// strategies. It satisfies dataprocessor.NotifySink.
type Dispatcher struct {
	cfg Config

	mu            sync.RWMutex
	workers       []*strategyWorker
	subscriptions map[string][]*strategyWorker // "symbol|interval" and "|interval" (wildcard symbol) -> workers

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ dataprocessor.NotifySink = (*Dispatcher)(nil)

// New builds a Dispatcher bound to ctx: strategies registered after New are
// started immediately, and Close cancels ctx and waits for every worker to
// drain.
func New(ctx context.Context, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		cfg:           cfg,
		subscriptions: make(map[string][]*strategyWorker),
		ctx:           runCtx,
		cancel:        cancel,
	}
}

// Register adds a strategy and starts its dedicated worker goroutine. Safe
// to call after Notify has already begun routing events to other strategies.
func (d *Dispatcher) Register(strategy Strategy) error {
	if strategy == nil {
		return fmt.Errorf("dispatcher: nil strategy")
	}
	subs := strategy.Subscriptions()
	if len(subs) == 0 {
		return fmt.Errorf("dispatcher: strategy %q has no subscriptions", strategy.Name())
	}

	w := &strategyWorker{strategy: strategy, queue: make(chan job, d.cfg.QueueSize)}

	d.mu.Lock()
	d.workers = append(d.workers, w)
	for _, sub := range subs {
		key := subKey(sub.Symbol, sub.Interval)
		d.subscriptions[key] = append(d.subscriptions[key], w)
	}
	d.mu.Unlock()

	d.wg.Add(1)
	go d.runWorker(w)
	return nil
}

// Close stops every strategy worker and waits for them to drain.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// StrategyNames returns the name of every registered strategy, for the
// JSON state export's per-thread status.
func (d *Dispatcher) StrategyNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.workers))
	for _, w := range d.workers {
		names = append(names, w.strategy.Name())
	}
	return names
}

// Running reports whether the dispatcher's worker context is still live.
func (d *Dispatcher) Running() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// Overrun returns how many notifications have been dropped for strategyName
// because its queue was full (clock-driven mode only; always 0 in
// data-driven mode, since Notify blocks rather than drops).
func (d *Dispatcher) Overrun(strategyName string) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, w := range d.workers {
		if w.strategy.Name() == strategyName {
			return atomic.LoadUint64(&w.overrun)
		}
	}
	return 0
}

// Notify implements dataprocessor.NotifySink. It looks up every strategy
// subscribed to each event's (symbol, interval) -- plus any wildcard-symbol
// subscription at that interval -- and routes the event to its queue. In
// data-driven mode Notify blocks until every matched strategy's OnBars call
// has returned; in clock-driven mode it enqueues without blocking and
// records an overrun when a strategy's queue is full.
func (d *Dispatcher) Notify(ctx context.Context, events []dataprocessor.BarEvent) error {
	return d.dispatch(ctx, events)
}

// dispatch does the actual routing; split out from Notify so the lock-held
// matching pass above stays a pure read and the dispatch itself never holds
// d.mu, mirroring scan_loop.go's lock-free Snapshot()-then-iterate shape.
func (d *Dispatcher) dispatch(ctx context.Context, events []dataprocessor.BarEvent) error {
	d.mu.RLock()
	type routed struct {
		w   *strategyWorker
		job job
	}
	var routes []routed
	for _, ev := range events {
		for _, w := range d.matchLocked(ev.Symbol, ev.Interval) {
			routes = append(routes, routed{w: w, job: job{symbol: ev.Symbol, interval: ev.Interval}})
		}
	}
	d.mu.RUnlock()

	if len(routes) == 0 {
		return nil
	}

	if !d.cfg.DataDriven {
		for _, r := range routes {
			select {
			case r.w.queue <- r.job:
			default:
				atomic.AddUint64(&r.w.overrun, 1)
				logger.Warn("dispatcher queue full, dropping notification",
					logger.String("strategy", r.w.strategy.Name()),
					logger.String("symbol", r.job.symbol),
					logger.String("interval", r.job.interval.String()),
				)
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(routes))
	for _, r := range routes {
		j := r.job
		j.done = &wg
		select {
		case r.w.queue <- j:
		case <-ctx.Done():
			wg.Done()
			return ctx.Err()
		case <-d.ctx.Done():
			wg.Done()
			return d.ctx.Err()
		}
	}
	wg.Wait()
	return nil
}

// matchLocked returns every worker subscribed to (symbol, interval), either
// directly or via a wildcard-symbol subscription at that interval. Callers
// must hold d.mu for reading.
func (d *Dispatcher) matchLocked(symbol string, interval models.Interval) []*strategyWorker {
	var out []*strategyWorker
	out = append(out, d.subscriptions[subKey(symbol, interval)]...)
	out = append(out, d.subscriptions[subKey("", interval)]...)
	return out
}

func (d *Dispatcher) runWorker(w *strategyWorker) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case j := <-w.queue:
			w.strategy.OnBars(d.ctx, j.symbol, j.interval)
			if j.done != nil {
				j.done.Done()
			}
		}
	}
}

func subKey(symbol string, interval models.Interval) string {
	return symbol + "|" + interval.String()
}

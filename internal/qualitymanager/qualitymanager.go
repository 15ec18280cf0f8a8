// Package qualitymanager implements the Quality Manager worker: a periodic
// sweep that detects gaps in each provisioned (symbol, interval) bar series
// against the trading calendar's expected timestamps, computes a quality
// score, and (in live mode) attempts a targeted re-fetch for each gap.
// Grounded on internal/scanner/cooldown.go's context+ticker background-loop
// lifecycle (Start/Stop/wg.Wait) and internal/metrics/range_filters.go's
// snapshot-driven computation style, generalized from ad hoc price-range
// metrics to the spec's gap/quality sweep. Quality and gap counts are
// exported as Prometheus gauges via github.com/prometheus/client_golang,
// the teacher's own metrics library (pkg/logger/metrics.go).
package qualitymanager

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/datasource"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/sessiondata"
	"github.com/marketdata/sessioncore/pkg/logger"
)

// Config controls the sweep cadence and live-mode gap re-fetch behavior.
type Config struct {
	SweepInterval time.Duration // wall-clock tick of the background loop; 5s by default in backtest and live alike, not tied to the simulated clock
	Live          bool          // when true, attempt a targeted re-fetch for each detected gap
	MaxGapRetries int           // give up re-fetching a given gap after this many attempts
}

// DefaultConfig mirrors the teacher's cooldown-cleanup cadence, generalized
// to the quality sweep's own interval.
func DefaultConfig() Config {
	return Config{SweepInterval: 5 * time.Second, MaxGapRetries: 3}
}

// Package-level Prometheus collectors, registered once at import time
// (mirrors pkg/logger/metrics.go's promauto package vars) so constructing
// more than one Manager -- as tests do -- never double-registers a
// collector against the default registry.
var (
	qualityGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sessioncore_bar_quality_score",
		Help: "Quality score (0-100) for a (symbol, interval) bar series.",
	}, []string{"symbol", "interval"})

	gapsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sessioncore_bar_gaps_total",
		Help: "Number of open gaps for a (symbol, interval) bar series.",
	}, []string{"symbol", "interval"})
)

// Manager runs the periodic quality sweep against one SessionData instance.
type Manager struct {
	cfg      Config
	session  *sessiondata.SessionData
	calendar calendar.Calendar
	source   datasource.Source // nil in backtest/tests: no re-fetch attempted

	mu         sync.Mutex
	gapRetries map[string]int // "symbol|interval|gapStartUnix" -> attempts so far
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a Quality Manager. source may be nil when live-mode re-fetch is
// not needed (backtest, or a disabled live.Live feature).
func New(cfg Config, session *sessiondata.SessionData, cal calendar.Calendar, source datasource.Source) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.MaxGapRetries <= 0 {
		cfg.MaxGapRetries = 3
	}
	return &Manager{
		cfg:        cfg,
		session:    session,
		calendar:   cal,
		source:     source,
		gapRetries: make(map[string]int),
	}
}

// Score computes a symbol's overall quality as the average of its
// per-interval scores against the current wall-clock trading session,
// satisfying provisioning.QualityScorer so a freshly provisioned symbol
// starts with a real score instead of the zero value.
func (m *Manager) Score(s *models.SymbolSessionData) float64 {
	now := time.Now()
	if len(s.Intervals) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, d := range s.Intervals {
		q, _, expected, _ := m.computeQuality(d.Bars, d.Interval, now)
		if expected == 0 {
			continue
		}
		sum += q
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Start launches the background sweep loop, ticking every cfg.SweepInterval
// until ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(loopCtx)
	return nil
}

// Running reports whether the sweep loop is currently active, for the
// JSON state export's per-thread status.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stop ends the sweep loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx, time.Now())
		}
	}
}

// Sweep runs one quality pass over every provisioned symbol's bar series, as
// of asOf (the simulated clock in backtest, time.Now() in live).
func (m *Manager) Sweep(ctx context.Context, asOf time.Time) {
	for _, symbol := range m.session.Symbols() {
		s, ok := m.session.Get(symbol)
		if !ok {
			continue
		}
		for _, d := range s.Intervals {
			m.sweepOne(ctx, symbol, d.Interval, d.Bars, asOf)
		}
	}
}

func (m *Manager) sweepOne(ctx context.Context, symbol string, interval models.Interval, bars []models.Bar, asOf time.Time) {
	quality, gaps, expected, _ := m.computeQuality(bars, interval, asOf)
	if expected == 0 {
		return
	}

	if m.cfg.Live && m.source != nil {
		gaps = m.refetchGaps(ctx, symbol, interval, gaps)
	}

	m.session.SetQuality(symbol, interval, quality)
	m.session.SetGaps(symbol, interval, gaps)
	m.session.UpdateMetrics(symbol, func(metrics *models.SessionMetrics) {
		metrics.LastQualitySweep = asOf
	})

	qualityGauge.WithLabelValues(symbol, interval.String()).Set(quality)
	gapsGauge.WithLabelValues(symbol, interval.String()).Set(float64(len(gaps)))
}

// computeQuality builds the expected-timestamp set for interval across the
// trading session covering asOf (bounded above by asOf itself; the session
// close timestamp is not an expected bar), subtracts
// the actual bar timestamps, and groups consecutive misses into Gaps.
func (m *Manager) computeQuality(bars []models.Bar, interval models.Interval, asOf time.Time) (quality float64, gaps []models.Gap, expected, actual int) {
	if !m.calendar.IsTradingDay(asOf) {
		return 0, nil, 0, 0
	}
	sessionStart, ok := m.calendar.MarketOpen(asOf)
	if !ok {
		return 0, nil, 0, 0
	}
	sessionEnd, ok := m.calendar.MarketClose(asOf)
	if !ok {
		return 0, nil, 0, 0
	}
	windowEnd := sessionEnd
	if asOf.Before(windowEnd) {
		windowEnd = asOf
	}
	step := interval.Duration()
	if step <= 0 || !windowEnd.After(sessionStart) {
		return 0, nil, 0, 0
	}

	actualSet := make(map[int64]bool, len(bars))
	for _, b := range bars {
		actualSet[b.Timestamp.Unix()] = true
	}

	var runStart time.Time
	runLen := 0
	for ts := sessionStart; !ts.After(windowEnd) && ts.Before(sessionEnd); ts = ts.Add(step) {
		expected++
		if actualSet[ts.Unix()] {
			actual++
			if runLen > 0 {
				gaps = append(gaps, models.Gap{StartTime: runStart, EndTime: ts, BarsMissing: runLen})
				runLen = 0
			}
			continue
		}
		if runLen == 0 {
			runStart = ts
		}
		runLen++
	}
	if runLen > 0 {
		gaps = append(gaps, models.Gap{StartTime: runStart, EndTime: windowEnd.Add(step), BarsMissing: runLen})
	}

	if expected == 0 {
		return 0, gaps, 0, actual
	}
	quality = 100 * float64(actual) / float64(expected)
	return quality, gaps, expected, actual
}

// refetchGaps attempts one targeted re-fetch per gap from the data source.
// Successful fetches are re-inserted into SessionData and the gap is
// dropped from the returned list; gaps that have exhausted MaxGapRetries are
// left untouched (quality stays stable rather than retried forever).
func (m *Manager) refetchGaps(ctx context.Context, symbol string, interval models.Interval, gaps []models.Gap) []models.Gap {
	remaining := make([]models.Gap, 0, len(gaps))
	for _, gap := range gaps {
		key := gapKey(symbol, interval, gap)

		m.mu.Lock()
		attempts := m.gapRetries[key]
		m.mu.Unlock()

		if attempts >= m.cfg.MaxGapRetries {
			remaining = append(remaining, gap)
			continue
		}

		bars, err := m.source.LoadBars(ctx, symbol, interval, gap.StartTime, gap.EndTime)
		m.mu.Lock()
		m.gapRetries[key] = attempts + 1
		m.mu.Unlock()

		if err != nil || len(bars) == 0 {
			logger.Debug("gap re-fetch found nothing",
				logger.String("symbol", symbol),
				logger.String("interval", interval.String()),
				logger.ErrorField(err),
			)
			remaining = append(remaining, gap)
			continue
		}

		for _, b := range bars {
			m.session.AppendBar(symbol, interval, b, 0)
		}
		logger.Info("gap filled by re-fetch",
			logger.String("symbol", symbol),
			logger.String("interval", interval.String()),
			logger.Int("bars", len(bars)),
		)
	}
	return remaining
}

func gapKey(symbol string, interval models.Interval, gap models.Gap) string {
	return symbol + "|" + interval.String() + "|" + gap.StartTime.Format(time.RFC3339)
}

// Package scenario_e2e exercises the full worker-to-worker pipeline the way
// cmd/sessionctl's "system start" wires it: coordinator, provisioning
// executor, data processor, and strategy dispatcher all driven off a single
// synthetic datasource.Source, with internal/httpapi reading back the
// resulting SessionData. Grounded on the teacher's deleted tests/
// pipeline_e2e suite, generalized from the scanner/alert/toplist pipeline to
// the session coordinator's five-phase lifecycle.
package scenario_e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/coordinator"
	"github.com/marketdata/sessioncore/internal/dataprocessor"
	"github.com/marketdata/sessioncore/internal/datasource"
	"github.com/marketdata/sessioncore/internal/dispatcher"
	"github.com/marketdata/sessioncore/internal/httpapi"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/provisioning"
	"github.com/marketdata/sessioncore/internal/qualitymanager"
	"github.com/marketdata/sessioncore/internal/requirement"
	"github.com/marketdata/sessioncore/internal/sessiondata"
)

// countingStrategy records how many times it was notified for each
// (symbol, interval) pair it subscribed to, standing in for a real trading
// strategy so the dispatcher's routing can be asserted end to end.
type countingStrategy struct {
	name string
	subs []dispatcher.Subscription

	mu     sync.Mutex
	counts map[string]int
}

func newCountingStrategy(name string, subs []dispatcher.Subscription) *countingStrategy {
	return &countingStrategy{name: name, subs: subs, counts: make(map[string]int)}
}

func (s *countingStrategy) Name() string                          { return s.name }
func (s *countingStrategy) Subscriptions() []dispatcher.Subscription { return s.subs }

func (s *countingStrategy) OnBars(ctx context.Context, symbol string, interval models.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[symbol+"|"+interval.String()]++
}

func (s *countingStrategy) count(symbol string, interval models.Interval) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[symbol+"|"+interval.String()]
}

// stack bundles every collaborator wireStack would build in production, for
// test-local assembly against a synthetic source.
type stack struct {
	session *sessiondata.SessionData
	coord   *coordinator.Coordinator
	disp    *dispatcher.Dispatcher
	cal     calendar.Calendar
}

func buildStack(t *testing.T, cfg coordinator.Config, intervals []models.Interval) *stack {
	t.Helper()
	cal := calendar.NewUSEquityCalendar()
	session := sessiondata.New()
	source := datasource.NewSynthetic(7)

	qmgr := qualitymanager.New(qualitymanager.DefaultConfig(), session, cal, source)
	exec := provisioning.New(provisioning.DefaultConfig(), session, source, cal, qmgr)
	disp := dispatcher.New(context.Background(), dispatcher.Config{DataDriven: true, QueueSize: 64})
	proc := dataprocessor.New(session, cal, 0, disp)

	registered := make(map[string]bool)
	var mu sync.Mutex
	onBar := func(ctx context.Context, symbol string, bar models.Bar) error {
		mu.Lock()
		if !registered[symbol] {
			req, err := requirement.AnalyzeSessionRequirements(symbol, intervals, nil)
			if err != nil {
				mu.Unlock()
				return err
			}
			if err := proc.Register(req); err != nil {
				mu.Unlock()
				return err
			}
			registered[symbol] = true
		}
		mu.Unlock()
		return proc.OnBaseBar(ctx, symbol, bar)
	}

	coord := coordinator.New(cfg, session, source, cal, exec, onBar)
	coord.SetFlushHandler(proc.Flush)
	return &stack{session: session, coord: coord, disp: disp, cal: cal}
}

func tradingWednesday() time.Time {
	return time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)
}

// Scenario 1 (spec.md §8): a single symbol streamed at 1m and 5m across one
// full backtest day produces exactly 390 regular-session 1m bars and 78 5m
// bars, with perfect quality and no gaps.
func TestHappyPathProducesFullRegularSessionBarCountsAcrossBothIntervals(t *testing.T) {
	oneMin, _ := models.ParseInterval("1m")
	fiveMin, _ := models.ParseInterval("5m")
	day := tradingWednesday()
	intervals := []models.Interval{oneMin, fiveMin}

	cfg := coordinator.Config{
		Mode:      coordinator.ModeBacktest,
		Symbols:   []string{"RIVN"},
		Intervals: intervals,
		StartDate: day,
		EndDate:   day,
	}
	st := buildStack(t, cfg, intervals)

	strat := newCountingStrategy("five-min-watcher", []dispatcher.Subscription{{Symbol: "RIVN", Interval: fiveMin}})
	require.NoError(t, st.disp.Register(strat))
	defer st.disp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, st.coord.Run(ctx))

	rec, ok := st.session.Get("RIVN")
	require.True(t, ok)

	oneMinData := rec.Intervals[oneMin.String()]
	require.NotNil(t, oneMinData)
	assert.Equal(t, 390, len(oneMinData.Bars), "regular session 09:30-16:00 ET is 390 one-minute bars")
	assert.Empty(t, oneMinData.Gaps)
	assert.InDelta(t, 100.0, oneMinData.Quality, 0.01)

	fiveMinData := rec.Intervals[fiveMin.String()]
	require.NotNil(t, fiveMinData)
	assert.Equal(t, 78, len(fiveMinData.Bars))

	assert.Greater(t, rec.Metrics.BarsProcessed, int64(0))
	assert.Equal(t, 78, strat.count("RIVN", fiveMin), "strategy should see one notification per closed 5m bar")

	// The httpapi export surface should reflect the same state a client
	// polling /session would see.
	srv := httpapi.New(st.session, st.coord, nil, st.disp, st.cal, "US_EQUITY")
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	_, ok = body["symbols"]["RIVN"]
	assert.True(t, ok)
}

// Scenario 4 (spec.md §8): adding a symbol mid-session catches it up to the
// simulated clock without rewinding or advancing it, and the new symbol's
// bars never fall outside the regular session window.
func TestMidSessionAdditionCatchesUpWithoutDisturbingTheSimulatedClock(t *testing.T) {
	oneMin, _ := models.ParseInterval("1m")
	day := tradingWednesday()
	intervals := []models.Interval{oneMin}

	cfg := coordinator.Config{
		Mode:      coordinator.ModeBacktest,
		Symbols:   []string{"RIVN"},
		Intervals: intervals,
		StartDate: day,
		EndDate:   day,
	}
	st := buildStack(t, cfg, intervals)

	go func() {
		for {
			if rec, ok := st.session.Get("RIVN"); ok && len(rec.Intervals[oneMin.String()].Bars) >= 5 {
				st.coord.AddSymbol("AAPL", coordinator.AddedByStrategy)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, st.coord.Run(ctx))

	rec, ok := st.session.Get("AAPL")
	require.True(t, ok, "AAPL should have been provisioned mid-session")
	assert.True(t, rec.MeetsSessionConfigRequirements)
	assert.Equal(t, string(coordinator.AddedByStrategy), rec.AddedBy)

	open, ok := calendar.NewUSEquityCalendar().MarketOpen(day)
	require.True(t, ok)
	data := rec.Intervals[oneMin.String()]
	require.NotNil(t, data)
	for _, b := range data.Bars {
		assert.False(t, b.Timestamp.Before(open))
	}
}

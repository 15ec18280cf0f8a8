package dataprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/requirement"
	"github.com/marketdata/sessioncore/internal/sessiondata"
)

type recordingSink struct {
	events [][]BarEvent
}

func (s *recordingSink) Notify(ctx context.Context, events []BarEvent) error {
	s.events = append(s.events, events)
	return nil
}

func tradingDayOpen(t *testing.T, cal calendar.Calendar, date time.Time) time.Time {
	t.Helper()
	open, ok := cal.MarketOpen(date)
	require.True(t, ok)
	return open
}

func newTestSetup(t *testing.T) (*sessiondata.SessionData, calendar.Calendar, *recordingSink, *Processor) {
	t.Helper()
	session := sessiondata.New()
	cal := calendar.NewUSEquityCalendar()
	sink := &recordingSink{}
	proc := New(session, cal, 200, sink)
	return session, cal, sink, proc
}

func minuteBar(symbol string, ts time.Time, close float64, iv models.Interval) models.Bar {
	return models.Bar{Symbol: symbol, Interval: iv, Timestamp: ts, Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 10}
}

// wednesday picks a fixed, known trading day (2026-02-04 is a Wednesday).
func wednesday() time.Time {
	return time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)
}

func TestOnBaseBarAggregatesDerivedWindowOnBoundaryCross(t *testing.T) {
	session, cal, sink, proc := newTestSetup(t)

	oneMin, _ := models.ParseInterval("1m")
	fiveMin, _ := models.ParseInterval("5m")

	req := requirement.ProvisioningRequirements{
		Symbol:           "AAPL",
		BaseInterval:     oneMin,
		DerivedIntervals: []models.Interval{fiveMin},
	}
	require.NoError(t, proc.Register(req))

	open := tradingDayOpen(t, cal, wednesday())
	session.GetOrCreate("AAPL", open)

	// Five 1m bars inside the first 5m window, then one bar that crosses
	// into the next window and should finalize the first.
	for i := 0; i < 5; i++ {
		ts := open.Add(time.Duration(i) * time.Minute)
		b := minuteBar("AAPL", ts, 100+float64(i), oneMin)
		session.AppendBar("AAPL", oneMin, b, 200)
		require.NoError(t, proc.OnBaseBar(context.Background(), "AAPL", b))
	}

	s, ok := session.Get("AAPL")
	require.True(t, ok)
	_, exists := s.Intervals[fiveMin.String()]
	assert.False(t, exists, "window should not close until the 6th bar arrives")

	crossing := minuteBar("AAPL", open.Add(5*time.Minute), 110, oneMin)
	session.AppendBar("AAPL", oneMin, crossing, 200)
	require.NoError(t, proc.OnBaseBar(context.Background(), "AAPL", crossing))

	s, _ = session.Get("AAPL")
	fiveMinBars := s.Intervals[fiveMin.String()].Bars
	require.Len(t, fiveMinBars, 1)
	derived := fiveMinBars[0]
	assert.Equal(t, open, derived.Timestamp)
	assert.Equal(t, 100.0, derived.Open)
	assert.Equal(t, 104.0, derived.Close)
	assert.InDelta(t, 104.5, derived.High, 0.0001)
	assert.InDelta(t, 99.5, derived.Low, 0.0001)
	assert.Equal(t, 50.0, derived.Volume)

	assert.Len(t, sink.events, 6)
	last := sink.events[len(sink.events)-1]
	assert.Len(t, last, 2, "the crossing bar's notification should include both base and derived interval")
}

func TestOnBaseBarUpdatesIndicatorsAtConfiguredInterval(t *testing.T) {
	session, cal, _, proc := newTestSetup(t)
	oneMin, _ := models.ParseInterval("1m")

	cfg := models.IndicatorConfig{Kind: models.IndicatorSMA, Interval: oneMin, Period: 3}
	req := requirement.ProvisioningRequirements{
		Symbol:       "AAPL",
		BaseInterval: oneMin,
		Indicators:   []models.IndicatorConfig{cfg},
	}
	require.NoError(t, proc.Register(req))

	open := tradingDayOpen(t, cal, wednesday())
	session.GetOrCreate("AAPL", open)

	for i := 0; i < 3; i++ {
		ts := open.Add(time.Duration(i) * time.Minute)
		b := minuteBar("AAPL", ts, 10+float64(i*10), oneMin)
		session.AppendBar("AAPL", oneMin, b, 200)
		require.NoError(t, proc.OnBaseBar(context.Background(), "AAPL", b))
	}

	s, ok := session.Get("AAPL")
	require.True(t, ok)
	ind, ok := s.Indicators[cfg.ID()]
	require.True(t, ok)
	assert.True(t, ind.Valid)
	assert.InDelta(t, 20, ind.Values["value"], 0.0001)
}

func TestOnBaseBarRejectsUnregisteredSymbol(t *testing.T) {
	_, cal, _, proc := newTestSetup(t)
	oneMin, _ := models.ParseInterval("1m")
	open := tradingDayOpen(t, cal, wednesday())
	err := proc.OnBaseBar(context.Background(), "MSFT", minuteBar("MSFT", open, 10, oneMin))
	assert.Error(t, err)
}

func TestUnregisterDropsSymbolState(t *testing.T) {
	session, cal, _, proc := newTestSetup(t)
	oneMin, _ := models.ParseInterval("1m")
	req := requirement.ProvisioningRequirements{Symbol: "AAPL", BaseInterval: oneMin}
	require.NoError(t, proc.Register(req))
	proc.Unregister("AAPL")

	open := tradingDayOpen(t, cal, wednesday())
	session.GetOrCreate("AAPL", open)
	err := proc.OnBaseBar(context.Background(), "AAPL", minuteBar("AAPL", open, 10, oneMin))
	assert.Error(t, err)
}

package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/datasource"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/sessiondata"
)

type fixedScorer struct{ score float64 }

func (f fixedScorer) Score(*models.SymbolSessionData) float64 { return f.score }

func TestExecuteProvisionsSymbol(t *testing.T) {
	sd := sessiondata.New()
	src := datasource.NewSynthetic(7)
	cal := calendar.NewUSEquityCalendar()
	exec := New(DefaultConfig(), sd, src, cal, fixedScorer{score: 0.9})

	oneMin, _ := models.ParseInterval("1m")
	fiveMin, _ := models.ParseInterval("5m")
	asOf := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	indicators := []models.IndicatorConfig{{Kind: models.IndicatorEMA, Interval: oneMin, Period: 5}}

	req, err := exec.Execute(context.Background(), "AAPL", []models.Interval{oneMin, fiveMin}, indicators, asOf)
	require.NoError(t, err)
	assert.Equal(t, oneMin, req.BaseInterval)

	s, ok := sd.Get("AAPL")
	require.True(t, ok)
	assert.True(t, s.Active)
	assert.InDelta(t, 0.9, s.Metrics.QualityScore, 0.001)
	assert.NotEmpty(t, s.Intervals["1m"].Bars)
	assert.NotEmpty(t, s.Intervals["5m"].Bars)
	assert.Contains(t, s.Indicators, "ema_5@1m")
}

func TestExecuteRejectsNonTradingDay(t *testing.T) {
	sd := sessiondata.New()
	src := datasource.NewSynthetic(1)
	cal := calendar.NewUSEquityCalendar()
	exec := New(DefaultConfig(), sd, src, cal, nil)

	oneMin, _ := models.ParseInterval("1m")
	saturday := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	_, err := exec.Execute(context.Background(), "AAPL", []models.Interval{oneMin}, nil, saturday)
	assert.Error(t, err)
}

func TestCatchupLoadsAdditionalHistory(t *testing.T) {
	sd := sessiondata.New()
	src := datasource.NewSynthetic(3)
	cal := calendar.NewUSEquityCalendar()
	exec := New(DefaultConfig(), sd, src, cal, nil)

	oneMin, _ := models.ParseInterval("1m")
	asOf := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	req, err := exec.Execute(context.Background(), "AAPL", []models.Interval{oneMin}, nil, asOf)
	require.NoError(t, err)

	s, _ := sd.Get("AAPL")
	before := len(s.Intervals["1m"].Bars)

	later := asOf.Add(10 * time.Minute)
	require.NoError(t, exec.Catchup(context.Background(), "AAPL", req, later))

	after := len(s.Intervals["1m"].Bars)
	assert.Greater(t, after, before)
}

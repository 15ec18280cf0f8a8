package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/models"
)

const validDoc = `
mode: backtest
backtest_config:
  start_date: "2026-02-04"
  end_date: "2026-02-04"
  speed_multiplier: 0
session_data_config:
  symbols: [RIVN, AAPL]
  streams: [1m, 5m]
  historical:
    enabled: true
    data:
      - interval: 1d
        trailing_days: 20
  indicators:
    session:
      - name: fast_ema
        type: ema
        period: 20
        interval: 1m
      - name: macd_std
        type: macd
        interval: 5m
        params:
          fast_period: 12
          slow_period: 26
          signal_period: 9
    historical: []
  strategies:
    - module: strategies.breakout
      enabled: true
      config:
        threshold: 1.5
exchange_group: US_EQUITY
`

func TestDecodeParsesAWellFormedDocument(t *testing.T) {
	cfg, err := Decode(strings.NewReader(validDoc))
	require.NoError(t, err)

	assert.Equal(t, ModeBacktest, cfg.Mode)
	assert.Equal(t, []string{"RIVN", "AAPL"}, cfg.SessionDataConfig.Symbols)
	assert.Equal(t, "US_EQUITY", cfg.ExchangeGroup)

	intervals := cfg.Intervals()
	require.Len(t, intervals, 2)
	oneMin, _ := models.ParseInterval("1m")
	assert.Equal(t, oneMin, intervals[0])

	indicators, err := cfg.Indicators()
	require.NoError(t, err)
	require.Len(t, indicators, 2)
	assert.Equal(t, models.IndicatorEMA, indicators[0].Kind)
	assert.Equal(t, 20, indicators[0].Period)
	assert.Equal(t, models.IndicatorMACD, indicators[1].Kind)
	assert.Equal(t, 12, indicators[1].FastPeriod)
	assert.Equal(t, 26, indicators[1].SlowPeriod)
	assert.Equal(t, 9, indicators[1].SignalPeriod)
}

func TestDecodeRejectsUnrecognizedKeys(t *testing.T) {
	doc := validDoc + "\nbogus_field: true\n"
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
}

func TestDecodeRejectsUnknownMode(t *testing.T) {
	doc := strings.Replace(validDoc, "mode: backtest", "mode: fast_forward", 1)
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
}

func TestDecodeRejectsEmptySymbolList(t *testing.T) {
	doc := strings.Replace(validDoc, "symbols: [RIVN, AAPL]", "symbols: []", 1)
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
}

func TestDecodeRejectsBadIntervalTag(t *testing.T) {
	doc := strings.Replace(validDoc, "streams: [1m, 5m]", "streams: [1h]", 1)
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
}

func TestDecodeRejectsUnparseableBacktestDates(t *testing.T) {
	doc := strings.Replace(validDoc, `start_date: "2026-02-04"`, `start_date: "not-a-date"`, 1)
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
}

func TestLiveModeDoesNotRequireValidatingBacktestWindow(t *testing.T) {
	doc := strings.Replace(validDoc, "mode: backtest", "mode: live", 1)
	cfg, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, ModeLive, cfg.Mode)
}

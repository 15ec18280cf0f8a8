package indicator

import (
	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"

	"github.com/marketdata/sessioncore/internal/models"
)

// TechanSeries wraps a techan.TimeSeries plus one of its built-in
// indicators, used to cross-check this package's own ATR math against a
// second, independent implementation. Grounded on the teacher's
// TechanCalculator adapter, narrowed from a general Calculator
// implementation to a cross-check helper since this package's own
// calculators are the ones actually wired into the Data Processor.
type TechanSeries struct {
	series *techan.TimeSeries
	atr    techan.Indicator
}

// NewTechanATR builds a techan-backed ATR cross-check over period bars.
func NewTechanATR(period int) *TechanSeries {
	series := techan.NewTimeSeries()
	closePrices := techan.NewClosePriceIndicator(series)
	_ = closePrices // retained for parity with the teacher's construction style
	return &TechanSeries{
		series: series,
		atr:    techan.NewAverageTrueRangeIndicator(series, period),
	}
}

// Add appends a bar to the underlying series.
func (t *TechanSeries) Add(bar models.Bar) {
	period := techan.NewTimePeriod(bar.Timestamp, bar.Interval.Duration())
	candle := techan.NewCandle(period)
	candle.OpenPrice = big.NewDecimal(bar.Open)
	candle.MaxPrice = big.NewDecimal(bar.High)
	candle.MinPrice = big.NewDecimal(bar.Low)
	candle.ClosePrice = big.NewDecimal(bar.Close)
	candle.Volume = big.NewDecimal(bar.Volume)
	t.series.AddCandle(candle)
}

// ATR returns techan's ATR value at the last bar added, or (0, false) if no
// bars have been added yet.
func (t *TechanSeries) ATR() (float64, bool) {
	idx := t.series.LastIndex()
	if idx < 0 {
		return 0, false
	}
	v := t.atr.Calculate(idx).Float()
	return v, v == v // NaN check: v == v is false only for NaN
}

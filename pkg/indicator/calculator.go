// Package indicator implements the technical-indicator calculators the
// Data Processor drives: one Go struct per indicator kind, each holding
// just enough running state to update incrementally per bar (SMA and
// Bollinger Bands walk their period-sized window). Grounded on the
// teacher's pkg/indicator (one-struct-per-calculator style, EMA/RSI/SMA/VWAP
// math), generalized from single-float output to map[string]float64 so
// multi-output indicators (MACD, Bollinger Bands) fit the same interface,
// and from models.Bar1m to the session coordinator's models.Bar.
package indicator

import "github.com/marketdata/sessioncore/internal/models"

// Calculator computes one indicator instance across a sequence of bars of
// a single interval.
type Calculator interface {
	// Update processes the next finalized bar and returns the indicator's
	// output fields (e.g. {"value": x} or {"macd": x, "signal": y}).
	// Returns ok=false while still warming up.
	Update(bar models.Bar) (values map[string]float64, ok bool)

	// Reset clears all state, as if no bars had been processed.
	Reset()
}

// NewCalculator builds the calculator for cfg.Kind, returning an error for
// an unknown or underspecified configuration.
func NewCalculator(cfg models.IndicatorConfig) (Calculator, error) {
	switch cfg.Kind {
	case models.IndicatorSMA:
		return NewSMA(cfg.Period)
	case models.IndicatorEMA:
		return NewEMA(cfg.Period)
	case models.IndicatorRSI:
		return NewRSI(cfg.Period)
	case models.IndicatorMACD:
		return NewMACD(cfg.FastPeriod, cfg.SlowPeriod, cfg.SignalPeriod)
	case models.IndicatorBollinger:
		mult := cfg.StdDevMult
		if mult == 0 {
			mult = 2.0
		}
		return NewBollinger(cfg.Period, mult)
	case models.IndicatorATR:
		return NewATR(cfg.Period)
	case models.IndicatorOBV:
		return NewOBV(), nil
	case models.IndicatorVWAP:
		return NewVWAP(), nil
	default:
		return nil, unknownKindError(cfg.Kind)
	}
}

func unknownKindError(k models.IndicatorKind) error {
	return &unsupportedKindError{kind: k}
}

type unsupportedKindError struct{ kind models.IndicatorKind }

func (e *unsupportedKindError) Error() string {
	return "indicator: unsupported kind " + e.kind.String()
}

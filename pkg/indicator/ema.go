package indicator

import (
	"fmt"
	"math"

	"github.com/marketdata/sessioncore/internal/models"
)

// EMA calculates the Exponential Moving Average:
// EMA = (price - previous EMA) * multiplier + previous EMA,
// multiplier = 2 / (period + 1).
type EMA struct {
	period     int
	multiplier float64
	value      float64
	seeded     bool
	seen       int
}

// NewEMA creates an EMA calculator with the given period.
func NewEMA(period int) (*EMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("EMA period must be at least 1, got %d", period)
	}
	return &EMA{period: period, multiplier: 2.0 / float64(period+1)}, nil
}

// Update folds bar.Close into the running EMA. The first bar seeds the EMA
// with its own close; the indicator is valid (ok=true) only once `period`
// bars have been seen.
func (e *EMA) Update(bar models.Bar) (map[string]float64, bool) {
	price := bar.Close
	if !e.seeded {
		e.value = price
		e.seeded = true
	} else {
		e.value = (price-e.value)*e.multiplier + e.value
		if math.IsNaN(e.value) || math.IsInf(e.value, 0) {
			e.value = price
		}
	}
	e.seen++
	if e.seen < e.period {
		return nil, false
	}
	return map[string]float64{"value": e.value}, true
}

// Reset clears the running EMA.
func (e *EMA) Reset() {
	e.value = 0
	e.seeded = false
	e.seen = 0
}

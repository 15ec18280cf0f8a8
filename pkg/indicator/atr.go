package indicator

import (
	"fmt"
	"math"

	"github.com/marketdata/sessioncore/internal/models"
)

// ATR calculates the Average True Range: a Wilder-smoothed running average
// of the true range (max of high-low, |high-prevClose|, |low-prevClose|).
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	value     float64
	seen      int
}

// NewATR creates an ATR calculator with the given period (typically 14).
func NewATR(period int) (*ATR, error) {
	if period < 1 {
		return nil, fmt.Errorf("ATR period must be at least 1, got %d", period)
	}
	return &ATR{period: period}, nil
}

func trueRange(bar models.Bar, prevClose float64, hasPrev bool) float64 {
	tr := bar.High - bar.Low
	if !hasPrev {
		return tr
	}
	tr = math.Max(tr, math.Abs(bar.High-prevClose))
	tr = math.Max(tr, math.Abs(bar.Low-prevClose))
	return tr
}

// Update folds bar's true range into the running ATR.
func (a *ATR) Update(bar models.Bar) (map[string]float64, bool) {
	tr := trueRange(bar, a.prevClose, a.hasPrev)
	a.prevClose = bar.Close
	a.hasPrev = true
	a.seen++

	if a.seen <= a.period {
		a.value += tr / float64(a.period)
		if a.seen < a.period {
			return nil, false
		}
		return map[string]float64{"value": a.value}, true
	}
	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	return map[string]float64{"value": a.value}, true
}

// Reset clears the running ATR.
func (a *ATR) Reset() {
	a.prevClose = 0
	a.hasPrev = false
	a.value = 0
	a.seen = 0
}

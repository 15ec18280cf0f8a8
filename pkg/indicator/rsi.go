package indicator

import (
	"fmt"

	"github.com/marketdata/sessioncore/internal/models"
)

// RSI calculates the Relative Strength Index using Wilder's smoothed
// averages: RSI = 100 - 100/(1+RS), RS = avgGain / avgLoss.
type RSI struct {
	period    int
	prevClose float64
	hasPrev   bool
	avgGain   float64
	avgLoss   float64
	seen      int
}

// NewRSI creates an RSI calculator with the given period (typically 14).
func NewRSI(period int) (*RSI, error) {
	if period < 2 {
		return nil, fmt.Errorf("RSI period must be at least 2, got %d", period)
	}
	return &RSI{period: period}, nil
}

// Update folds bar.Close into the running gain/loss averages.
func (r *RSI) Update(bar models.Bar) (map[string]float64, bool) {
	price := bar.Close
	if !r.hasPrev {
		r.prevClose = price
		r.hasPrev = true
		return nil, false
	}

	change := price - r.prevClose
	r.prevClose = price
	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	r.seen++

	if r.seen <= r.period {
		// Build the initial simple average over the first `period` changes.
		r.avgGain += gain / float64(r.period)
		r.avgLoss += loss / float64(r.period)
		if r.seen < r.period {
			return nil, false
		}
	} else {
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	if r.avgLoss == 0 {
		return map[string]float64{"value": 100}, true
	}
	rs := r.avgGain / r.avgLoss
	rsi := 100 - (100 / (1 + rs))
	return map[string]float64{"value": rsi}, true
}

// Reset clears the running averages.
func (r *RSI) Reset() {
	r.prevClose = 0
	r.hasPrev = false
	r.avgGain = 0
	r.avgLoss = 0
	r.seen = 0
}

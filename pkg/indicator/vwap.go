package indicator

import "github.com/marketdata/sessioncore/internal/models"

// VWAP calculates the session Volume Weighted Average Price:
// sum(typical_price * volume) / sum(volume) over every bar since
// construction or the last ResetSession call; ResetSession has no caller
// outside this package's tests (grounded on the teacher's rolling
// time-window VWAP, generalized from a fixed lookback window to a running
// sum).
type VWAP struct {
	pvSum  float64
	volSum float64
}

// NewVWAP creates a session VWAP calculator.
func NewVWAP() *VWAP { return &VWAP{} }

// Update folds bar's typical price ((H+L+C)/3) weighted by volume into the
// running sums.
func (v *VWAP) Update(bar models.Bar) (map[string]float64, bool) {
	typical := (bar.High + bar.Low + bar.Close) / 3
	v.pvSum += typical * bar.Volume
	v.volSum += bar.Volume
	if v.volSum == 0 {
		return nil, false
	}
	return map[string]float64{"value": v.pvSum / v.volSum}, true
}

// ResetSession clears the running sums at a new session boundary.
func (v *VWAP) ResetSession() {
	v.pvSum = 0
	v.volSum = 0
}

// Reset clears all state.
func (v *VWAP) Reset() { v.ResetSession() }

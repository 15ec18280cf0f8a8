package indicator

import "github.com/marketdata/sessioncore/internal/models"

// OBV calculates On-Balance Volume: a running signed sum of volume, added
// when the close rises and subtracted when it falls.
type OBV struct {
	value     float64
	prevClose float64
	hasPrev   bool
}

// NewOBV creates an OBV calculator.
func NewOBV() *OBV { return &OBV{} }

// Update folds bar into the running OBV sum.
func (o *OBV) Update(bar models.Bar) (map[string]float64, bool) {
	if !o.hasPrev {
		o.prevClose = bar.Close
		o.hasPrev = true
		return map[string]float64{"value": o.value}, true
	}
	switch {
	case bar.Close > o.prevClose:
		o.value += bar.Volume
	case bar.Close < o.prevClose:
		o.value -= bar.Volume
	}
	o.prevClose = bar.Close
	return map[string]float64{"value": o.value}, true
}

// Reset clears the running sum.
func (o *OBV) Reset() {
	o.value = 0
	o.prevClose = 0
	o.hasPrev = false
}

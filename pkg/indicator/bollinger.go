package indicator

import (
	"fmt"
	"math"

	"github.com/marketdata/sessioncore/internal/models"
)

// Bollinger calculates Bollinger Bands: a simple moving average middle
// band plus upper/lower bands offset by a multiple of the rolling standard
// deviation.
type Bollinger struct {
	period int
	mult   float64
	prices []float64
}

// NewBollinger creates a Bollinger Bands calculator (period typically 20,
// mult typically 2.0).
func NewBollinger(period int, mult float64) (*Bollinger, error) {
	if period < 2 {
		return nil, fmt.Errorf("Bollinger period must be at least 2, got %d", period)
	}
	if mult <= 0 {
		return nil, fmt.Errorf("Bollinger stddev multiplier must be positive, got %v", mult)
	}
	return &Bollinger{period: period, mult: mult, prices: make([]float64, 0, period)}, nil
}

// Update folds bar.Close into the rolling window.
func (b *Bollinger) Update(bar models.Bar) (map[string]float64, bool) {
	b.prices = append(b.prices, bar.Close)
	if len(b.prices) > b.period {
		copy(b.prices, b.prices[1:])
		b.prices = b.prices[:len(b.prices)-1]
	}
	if len(b.prices) < b.period {
		return nil, false
	}

	var sum float64
	for _, p := range b.prices {
		sum += p
	}
	mean := sum / float64(len(b.prices))

	var variance float64
	for _, p := range b.prices {
		variance += (p - mean) * (p - mean)
	}
	stddev := math.Sqrt(variance / float64(len(b.prices)))

	return map[string]float64{
		"middle": mean,
		"upper":  mean + b.mult*stddev,
		"lower":  mean - b.mult*stddev,
	}, true
}

// Reset clears the rolling window.
func (b *Bollinger) Reset() {
	b.prices = b.prices[:0]
}

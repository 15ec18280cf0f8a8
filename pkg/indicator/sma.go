package indicator

import (
	"fmt"

	"github.com/marketdata/sessioncore/internal/models"
)

// SMA calculates the Simple Moving Average: sum of closes over period,
// divided by period.
type SMA struct {
	period int
	prices []float64 // rolling window of closes
	ready  bool
}

// NewSMA creates an SMA calculator with the given period.
func NewSMA(period int) (*SMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("SMA period must be at least 1, got %d", period)
	}
	return &SMA{period: period, prices: make([]float64, 0, period)}, nil
}

// Update folds bar.Close into the rolling window.
func (s *SMA) Update(bar models.Bar) (map[string]float64, bool) {
	s.prices = append(s.prices, bar.Close)
	if len(s.prices) > s.period {
		copy(s.prices, s.prices[1:])
		s.prices = s.prices[:len(s.prices)-1]
	}
	if len(s.prices) < s.period {
		return nil, false
	}
	s.ready = true
	var sum float64
	for _, p := range s.prices {
		sum += p
	}
	return map[string]float64{"value": sum / float64(len(s.prices))}, true
}

// Reset clears the rolling window.
func (s *SMA) Reset() {
	s.prices = s.prices[:0]
	s.ready = false
}

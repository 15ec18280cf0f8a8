package indicator

import (
	"fmt"

	"github.com/marketdata/sessioncore/internal/models"
)

// MACD calculates the Moving Average Convergence Divergence: the
// difference of a fast and slow EMA, plus a signal EMA of that difference
// and the resulting histogram. Built from the same running-EMA math as EMA
// (grounded on the teacher's single-output EMA, generalized to three
// coupled EMAs sharing one indicator instance).
type MACD struct {
	fast, slow, signal *ema
	signalPeriod       int
	seen               int
}

// ema is the unexported running-EMA primitive MACD composes three of,
// distinct from the public EMA calculator because it has no independent
// warmup gating of its own.
type ema struct {
	multiplier float64
	value      float64
	seeded     bool
}

func newEMAState(period int) *ema {
	return &ema{multiplier: 2.0 / float64(period+1)}
}

func (e *ema) step(price float64) float64 {
	if !e.seeded {
		e.value = price
		e.seeded = true
		return e.value
	}
	e.value = (price-e.value)*e.multiplier + e.value
	return e.value
}

// NewMACD creates a MACD calculator with the given fast/slow/signal
// periods (conventionally 12/26/9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) (*MACD, error) {
	if fastPeriod < 1 || slowPeriod < 1 || signalPeriod < 1 {
		return nil, fmt.Errorf("MACD periods must all be at least 1, got fast=%d slow=%d signal=%d", fastPeriod, slowPeriod, signalPeriod)
	}
	if fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("MACD fast period (%d) must be less than slow period (%d)", fastPeriod, slowPeriod)
	}
	return &MACD{
		fast:         newEMAState(fastPeriod),
		slow:         newEMAState(slowPeriod),
		signal:       newEMAState(signalPeriod),
		signalPeriod: signalPeriod,
	}, nil
}

// Update folds bar.Close through the fast/slow/signal EMA chain.
func (m *MACD) Update(bar models.Bar) (map[string]float64, bool) {
	fast := m.fast.step(bar.Close)
	slow := m.slow.step(bar.Close)
	macd := fast - slow
	signal := m.signal.step(macd)
	m.seen++

	warmup := m.warmupBars()
	if m.seen < warmup {
		return nil, false
	}
	return map[string]float64{
		"macd":      macd,
		"signal":    signal,
		"histogram": macd - signal,
	}, true
}

func (m *MACD) warmupBars() int {
	// slow EMA needs its own period to stabilize, then the signal EMA needs
	// signalPeriod more bars of (now meaningful) MACD values.
	slowPeriod := int(2/m.slow.multiplier) - 1
	return slowPeriod + m.signalPeriod
}

// Reset clears all three component EMAs.
func (m *MACD) Reset() {
	m.fast.seeded, m.fast.value = false, 0
	m.slow.seeded, m.slow.value = false, 0
	m.signal.seeded, m.signal.value = false, 0
	m.seen = 0
}

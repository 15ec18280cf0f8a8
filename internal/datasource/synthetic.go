package datasource

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/marketdata/sessioncore/internal/models"
)

// ErrNotConnected is returned when Stream is called after Close, mirroring
// the teacher's ErrProviderNotConnected.
var ErrNotConnected = errors.New("synthetic source not connected")

// Synthetic is a deterministic-enough random-walk bar generator for
// backtests and tests, grounded on the teacher's MockProvider tick
// generator but emitting whole bars on each interval's boundary instead of
// raw ticks.
type Synthetic struct {
	mu         sync.Mutex
	rng        *rand.Rand
	basePrices map[string]float64
	closed     bool
}

// NewSynthetic creates a synthetic source seeded for reproducible backtests.
func NewSynthetic(seed int64) *Synthetic {
	return &Synthetic{
		rng:        rand.New(rand.NewSource(seed)),
		basePrices: make(map[string]float64),
	}
}

func (s *Synthetic) priceFor(symbol string) float64 {
	p, ok := s.basePrices[symbol]
	if !ok {
		p = 50 + s.rng.Float64()*150
		s.basePrices[symbol] = p
	}
	return p
}

// LoadBars synthesizes a contiguous bar history for [from, to) at interval,
// useful for warmup windows and catch-up tests without a real data source.
func (s *Synthetic) LoadBars(_ context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := interval.Duration()
	if step <= 0 {
		return nil, errors.New("interval must have a positive duration")
	}
	var bars []models.Bar
	for t := from; t.Before(to); t = t.Add(step) {
		bars = append(bars, s.nextBar(symbol, interval, t))
	}
	return bars, nil
}

func (s *Synthetic) nextBar(symbol string, interval models.Interval, ts time.Time) models.Bar {
	base := s.priceFor(symbol)
	change := (s.rng.Float64() - 0.5) * base * 0.01
	open := base
	close := base + change
	if close < 0.01 {
		close = 0.01
	}
	high := open
	if close > high {
		high = close
	}
	high += s.rng.Float64() * base * 0.002
	low := open
	if close < low {
		low = close
	}
	low -= s.rng.Float64() * base * 0.002
	if low < 0.01 {
		low = 0.01
	}
	s.basePrices[symbol] = close
	return models.Bar{
		Symbol:    symbol,
		Interval:  interval,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    float64(100 + s.rng.Intn(5000)),
	}
}

// Stream emits a synthetic bar every interval tick for each symbol until ctx
// is canceled.
func (s *Synthetic) Stream(ctx context.Context, symbols []string, interval models.Interval) (<-chan models.Bar, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.mu.Unlock()

	out := make(chan models.Bar, 64)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval.Duration())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				for _, sym := range symbols {
					s.mu.Lock()
					bar := s.nextBar(sym, interval, t)
					s.mu.Unlock()
					select {
					case out <- bar:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Close marks the source closed; further Stream calls fail.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

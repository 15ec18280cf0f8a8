package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/models"
)

func TestSyntheticLoadBars(t *testing.T) {
	s := NewSynthetic(1)
	oneMin, _ := models.ParseInterval("1m")
	from := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	to := from.Add(10 * time.Minute)

	bars, err := s.LoadBars(context.Background(), "AAPL", oneMin, from, to)
	require.NoError(t, err)
	require.Len(t, bars, 10)
	for i, b := range bars {
		require.NoError(t, b.Validate())
		assert.Equal(t, from.Add(time.Duration(i)*time.Minute), b.Timestamp)
	}
}

func TestSyntheticStream(t *testing.T) {
	s := NewSynthetic(2)
	oneSec, _ := models.ParseInterval("1s")
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	ch, err := s.Stream(ctx, []string{"AAPL", "MSFT"}, oneSec)
	require.NoError(t, err)

	count := 0
	for range ch {
		count++
	}
	assert.Greater(t, count, 0)
}

func TestSyntheticDeterministic(t *testing.T) {
	oneMin, _ := models.ParseInterval("1m")
	from := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	to := from.Add(5 * time.Minute)

	s1 := NewSynthetic(42)
	bars1, err := s1.LoadBars(context.Background(), "AAPL", oneMin, from, to)
	require.NoError(t, err)

	s2 := NewSynthetic(42)
	bars2, err := s2.LoadBars(context.Background(), "AAPL", oneMin, from, to)
	require.NoError(t, err)

	assert.Equal(t, bars1, bars2, "same seed should produce the same bar sequence")
}

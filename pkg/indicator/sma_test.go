package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/models"
)

func bar(close float64) models.Bar {
	return models.Bar{Symbol: "AAPL", Timestamp: time.Now(), Open: close, High: close, Low: close, Close: close, Volume: 100}
}

func TestSMA(t *testing.T) {
	s, err := NewSMA(3)
	require.NoError(t, err)

	_, ok := s.Update(bar(10))
	assert.False(t, ok)
	_, ok = s.Update(bar(20))
	assert.False(t, ok)

	values, ok := s.Update(bar(30))
	require.True(t, ok)
	assert.InDelta(t, 20, values["value"], 0.0001)

	values, ok = s.Update(bar(60))
	require.True(t, ok)
	assert.InDelta(t, (20.0+30+60)/3, values["value"], 0.0001)
}

func TestSMARejectsInvalidPeriod(t *testing.T) {
	_, err := NewSMA(0)
	assert.Error(t, err)
}

func TestSMAReset(t *testing.T) {
	s, _ := NewSMA(2)
	s.Update(bar(10))
	s.Update(bar(20))
	s.Reset()
	_, ok := s.Update(bar(5))
	assert.False(t, ok, "should need a full window again after reset")
}

package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMACDRejectsInvalidPeriods(t *testing.T) {
	_, err := NewMACD(0, 26, 9)
	assert.Error(t, err)

	_, err = NewMACD(26, 12, 9)
	assert.Error(t, err, "fast must be less than slow")
}

func TestMACDProducesHistogramAfterWarmup(t *testing.T) {
	m, err := NewMACD(2, 3, 2)
	require.NoError(t, err)

	price := 10.0
	var values map[string]float64
	var ok bool
	for i := 0; i < 6; i++ {
		price += 1
		values, ok = m.Update(bar(price))
	}
	require.True(t, ok)
	assert.InDelta(t, values["macd"]-values["signal"], values["histogram"], 0.0001)
}

func TestMACDReset(t *testing.T) {
	m, _ := NewMACD(2, 3, 2)
	for i := 0; i < 6; i++ {
		m.Update(bar(10 + float64(i)))
	}
	m.Reset()
	_, ok := m.Update(bar(10))
	assert.False(t, ok, "should need to warm up again after reset")
}

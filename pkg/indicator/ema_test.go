package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMASeedsWithFirstBarThenConverges(t *testing.T) {
	e, err := NewEMA(3)
	require.NoError(t, err)

	_, ok := e.Update(bar(10))
	assert.False(t, ok, "first bar only seeds, not yet warmed up")
	_, ok = e.Update(bar(10))
	assert.False(t, ok)
	values, ok := e.Update(bar(10))
	require.True(t, ok)
	assert.InDelta(t, 10, values["value"], 0.0001)
}

func TestEMARejectsInvalidPeriod(t *testing.T) {
	_, err := NewEMA(0)
	assert.Error(t, err)
}

func TestEMAMovesTowardNewPrice(t *testing.T) {
	e, _ := NewEMA(2)
	e.Update(bar(100))
	values, ok := e.Update(bar(200))
	require.True(t, ok)
	assert.Greater(t, values["value"], 100.0)
	assert.Less(t, values["value"], 200.0)
}

package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOBVAccumulatesSignedVolume(t *testing.T) {
	o := NewOBV()

	values, ok := o.Update(bar(10))
	require.True(t, ok)
	assert.Equal(t, 0.0, values["value"])

	values, ok = o.Update(bar(11))
	require.True(t, ok)
	assert.Equal(t, 100.0, values["value"])

	values, ok = o.Update(bar(9))
	require.True(t, ok)
	assert.Equal(t, 0.0, values["value"])
}

func TestOBVUnchangedCloseLeavesValue(t *testing.T) {
	o := NewOBV()
	o.Update(bar(10))
	o.Update(bar(11))
	values, _ := o.Update(bar(11))
	assert.Equal(t, 100.0, values["value"])
}

func TestOBVReset(t *testing.T) {
	o := NewOBV()
	o.Update(bar(10))
	o.Update(bar(11))
	o.Reset()
	values, ok := o.Update(bar(5))
	require.True(t, ok)
	assert.Equal(t, 0.0, values["value"])
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/config"
)

func TestWireStackBuildsEveryCollaboratorWithoutAnExternalDatabase(t *testing.T) {
	cfg := &config.Config{
		Mode:          config.ModeLive,
		ExchangeGroup: "US_EQUITY",
		SessionDataConfig: config.SessionDataConfig{
			Symbols: []string{"AAPL"},
			Streams: []string{"1m"},
		},
	}

	stack, err := wireStack(cfg, ":0")
	require.NoError(t, err)
	assert.NotNil(t, stack.session)
	assert.NotNil(t, stack.coord)
	assert.NotNil(t, stack.qmgr)
	assert.NotNil(t, stack.disp)
	assert.NotNil(t, stack.srv)
	assert.Equal(t, ":0", stack.srv.Addr)
}

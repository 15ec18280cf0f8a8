package historicalstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/datasource"
	"github.com/marketdata/sessioncore/internal/models"
)

var _ datasource.Source = (*Store)(nil)

func TestDefaultConfigHasSaneBatchingDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Greater(t, cfg.MaxConnections, 0)
	assert.Greater(t, cfg.WriteBatchSize, 0)
	assert.Greater(t, cfg.WriteQueueSize, 0)
}

// newQueueOnlyStore builds a Store with just a write queue, no live database
// connection -- enough to exercise WriteBars' validation-and-enqueue path
// without requiring Postgres, the same scope the teacher's
// TimescaleDBClient_WriteBars_Validation test covers.
func newQueueOnlyStore() *Store {
	cfg := DefaultConfig()
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{cfg: cfg, queue: make(chan []pendingWrite, cfg.WriteQueueSize), ctx: ctx, cancel: cancel}
}

func TestWriteBarsSkipsInvalidBarsButEnqueuesValidOnes(t *testing.T) {
	s := newQueueOnlyStore()
	oneMin, _ := models.ParseInterval("1m")

	bars := []models.Bar{
		{Symbol: "AAPL", Interval: oneMin, Timestamp: time.Now(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Interval: oneMin, Timestamp: time.Now(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}, // missing symbol
	}

	err := s.WriteBars(context.Background(), "AAPL", oneMin, bars)
	require.NoError(t, err)

	select {
	case batch := <-s.queue:
		require.Len(t, batch, 1)
		assert.Equal(t, "AAPL", batch[0].symbol)
	default:
		t.Fatal("expected one batch on the write queue")
	}
}

func TestWriteBarsNoopOnEmptyInput(t *testing.T) {
	s := newQueueOnlyStore()
	oneMin, _ := models.ParseInterval("1m")
	require.NoError(t, s.WriteBars(context.Background(), "AAPL", oneMin, nil))
	assert.Empty(t, s.queue)
}

func TestStreamReturnsUnsupportedError(t *testing.T) {
	s := newQueueOnlyStore()
	oneMin, _ := models.ParseInterval("1m")
	_, err := s.Stream(context.Background(), []string{"AAPL"}, oneMin)
	assert.Error(t, err)
}

package sessiondata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdata/sessioncore/internal/models"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	sd := New()
	now := time.Now()
	a := sd.GetOrCreate("AAPL", now)
	b := sd.GetOrCreate("AAPL", now)
	assert.Same(t, a, b)
	assert.Len(t, sd.Symbols(), 1)
}

func TestAppendBarCreatesIntervalAndTracksMetrics(t *testing.T) {
	sd := New()
	oneMin, _ := models.ParseInterval("1m")
	base := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	sd.AppendBar("AAPL", oneMin, models.Bar{Symbol: "AAPL", Interval: oneMin, Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}, 50)
	sd.AppendBar("AAPL", oneMin, models.Bar{Symbol: "AAPL", Interval: oneMin, Timestamp: base.Add(time.Minute), Open: 1, High: 1, Low: 1, Close: 1}, 50)

	s, ok := sd.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Metrics.BarsProcessed)
	assert.Equal(t, 0, s.Metrics.GapsDetected)
}

func TestWaitWakesOnAppend(t *testing.T) {
	sd := New()
	oneMin, _ := models.ParseInterval("1m")

	start := sd.Version()
	woke := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := sd.Wait(ctx, start)
		assert.NoError(t, err)
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	sd.AppendBar("AAPL", oneMin, models.Bar{Symbol: "AAPL", Interval: oneMin, Timestamp: time.Now(), Open: 1, High: 1, Low: 1, Close: 1}, 10)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up after AppendBar")
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	sd := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sd.Wait(ctx, sd.Version())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotSinceDelta(t *testing.T) {
	sd := New()
	oneMin, _ := models.ParseInterval("1m")
	base := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	sd.AppendBar("AAPL", oneMin, models.Bar{Symbol: "AAPL", Interval: oneMin, Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}, 50)

	d1, ok := sd.SnapshotSince("AAPL", oneMin, 0)
	require.True(t, ok)
	assert.Len(t, d1.NewBars, 1)
	assert.Equal(t, 1, d1.Cursor)

	sd.AppendBar("AAPL", oneMin, models.Bar{Symbol: "AAPL", Interval: oneMin, Timestamp: base.Add(time.Minute), Open: 1, High: 1, Low: 1, Close: 1}, 50)
	d2, ok := sd.SnapshotSince("AAPL", oneMin, d1.Cursor)
	require.True(t, ok)
	assert.Len(t, d2.NewBars, 1, "delta should only contain the newly appended bar")
}

func TestActivateDeactivate(t *testing.T) {
	sd := New()
	assert.False(t, sd.Active())
	sd.Activate()
	assert.True(t, sd.Active())
	sd.Deactivate()
	assert.False(t, sd.Active())
}

func TestSetQualityAndSetGaps(t *testing.T) {
	sd := New()
	oneMin, _ := models.ParseInterval("1m")
	base := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	sd.AppendBar("AAPL", oneMin, models.Bar{Symbol: "AAPL", Interval: oneMin, Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}, 50)

	sd.SetQuality("AAPL", oneMin, 87.5)
	gaps := []models.Gap{{StartTime: base, EndTime: base.Add(time.Minute), BarsMissing: 1}}
	sd.SetGaps("AAPL", oneMin, gaps)

	s, ok := sd.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 87.5, s.Intervals["1m"].Quality)
	assert.Equal(t, gaps, s.Intervals["1m"].Gaps)
}

func TestSetQualityNoopOnMissingSymbol(t *testing.T) {
	sd := New()
	oneMin, _ := models.ParseInterval("1m")
	sd.SetQuality("GHOST", oneMin, 50)
	_, ok := sd.Get("GHOST")
	assert.False(t, ok)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	sd := New()
	oneMin, _ := models.ParseInterval("1m")
	sd.AppendBar("AAPL", oneMin, models.Bar{Symbol: "AAPL", Interval: oneMin, Timestamp: time.Now(), Open: 1, High: 1, Low: 1, Close: 1}, 50)

	snap := sd.Snapshot()
	require.Contains(t, snap, "AAPL")
	snap["AAPL"].Intervals["1m"].Bars[0].Close = 999

	s, _ := sd.Get("AAPL")
	assert.NotEqual(t, 999.0, s.Intervals["1m"].Bars[0].Close, "mutating a snapshot must not affect live state")
}

package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestSessionClassification(t *testing.T) {
	loc := mustLoc(t)
	c := NewUSEquityCalendar()
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, loc) // a Thursday

	cases := []struct {
		hour, min int
		want      Session
	}{
		{3, 59, SessionClosed},
		{4, 0, SessionPreMarket},
		{9, 29, SessionPreMarket},
		{9, 30, SessionRegular},
		{15, 59, SessionRegular},
		{16, 0, SessionPostMarket},
		{19, 59, SessionPostMarket},
		{20, 0, SessionClosed},
	}
	for _, c2 := range cases {
		ts := time.Date(2026, 7, 30, c2.hour, c2.min, 0, 0, loc)
		assert.Equal(t, c2.want, c.Session(ts), "at %02d:%02d", c2.hour, c2.min)
	}
	_ = day
}

func TestWeekendIsClosed(t *testing.T) {
	loc := mustLoc(t)
	c := NewUSEquityCalendar()
	saturday := time.Date(2026, 8, 1, 10, 0, 0, 0, loc)
	assert.Equal(t, SessionClosed, c.Session(saturday))
	assert.False(t, c.IsTradingDay(saturday))
}

func TestHoliday(t *testing.T) {
	loc := mustLoc(t)
	c := NewUSEquityCalendar()
	newYears := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)
	c.AddHoliday(newYears)

	assert.False(t, c.IsTradingDay(newYears))
	assert.Equal(t, SessionClosed, c.Session(time.Date(2026, 1, 1, 10, 0, 0, 0, loc)))
}

func TestEarlyClose(t *testing.T) {
	loc := mustLoc(t)
	c := NewUSEquityCalendar()
	blackFriday := time.Date(2026, 11, 27, 0, 0, 0, 0, loc)
	c.AddEarlyClose(blackFriday, 13, 0)

	afterEarlyClose := time.Date(2026, 11, 27, 14, 0, 0, 0, loc)
	assert.Equal(t, SessionPostMarket, c.Session(afterEarlyClose), "should already be post-market under the early close")

	closeTime, ok := c.MarketClose(blackFriday)
	require.True(t, ok)
	assert.Equal(t, 13, closeTime.Hour())
}

func TestMinutesSinceOpen(t *testing.T) {
	loc := mustLoc(t)
	c := NewUSEquityCalendar()
	ts := time.Date(2026, 7, 30, 10, 0, 0, 0, loc)
	assert.Equal(t, 30, MinutesSinceOpen(c, ts))

	beforeOpen := time.Date(2026, 7, 30, 8, 0, 0, 0, loc)
	assert.Equal(t, 0, MinutesSinceOpen(c, beforeOpen))

	closed := time.Date(2026, 8, 1, 10, 0, 0, 0, loc)
	assert.Equal(t, 0, MinutesSinceOpen(c, closed))
}

func TestValidate(t *testing.T) {
	c := NewUSEquityCalendar()
	loc := mustLoc(t)
	assert.NoError(t, Validate(c, time.Date(2026, 7, 30, 10, 0, 0, 0, loc)))
	assert.Error(t, Validate(c, time.Date(2026, 8, 1, 10, 0, 0, 0, loc)))
}

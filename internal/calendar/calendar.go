// Package calendar is the time-manager collaborator: it tells the session
// coordinator which trading session a timestamp falls in, generalizing the
// teacher's fixed 9:30-16:00/4:00-20:00 America/New_York windows
// (internal/scanner/session.go) into a date-keyed table with holiday and
// early-close overrides.
package calendar

import (
	"fmt"
	"time"
)

// Session is the trading session a timestamp falls into.
type Session int

const (
	SessionClosed Session = iota
	SessionPreMarket
	SessionRegular
	SessionPostMarket
)

func (s Session) String() string {
	switch s {
	case SessionPreMarket:
		return "premarket"
	case SessionRegular:
		return "market"
	case SessionPostMarket:
		return "postmarket"
	default:
		return "closed"
	}
}

// Calendar classifies timestamps into trading sessions and exposes each
// trading day's open/close boundaries. Coordinator and calendar code depend
// only on this interface so tests can substitute a fixed calendar.
type Calendar interface {
	Session(t time.Time) Session
	IsTradingDay(t time.Time) bool
	MarketOpen(date time.Time) (time.Time, bool)
	MarketClose(date time.Time) (time.Time, bool)
	Location() *time.Location
}

// dayWindow is one trading day's pre-market/regular/post-market boundaries,
// all in the calendar's location.
type dayWindow struct {
	preOpen, open, close, postClose time.Time
}

// USEquityCalendar implements Calendar for the US equity trading calendar:
// weekday sessions at 4:00-9:30-16:00-20:00 America/New_York, with a table
// of full-day holidays and early closes.
type USEquityCalendar struct {
	loc         *time.Location
	holidays    map[string]bool      // "YYYY-MM-DD" -> true for market-closed days
	earlyCloses map[string]time.Time // "YYYY-MM-DD" -> close time override (still in loc)
}

// NewUSEquityCalendar builds a calendar in America/New_York, falling back to
// a fixed UTC-5 offset if tzdata is unavailable (mirrors the teacher's
// LoadLocation-with-fallback pattern).
func NewUSEquityCalendar() *USEquityCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	return &USEquityCalendar{
		loc:         loc,
		holidays:    make(map[string]bool),
		earlyCloses: make(map[string]time.Time),
	}
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// AddHoliday marks date as a full market closure.
func (c *USEquityCalendar) AddHoliday(date time.Time) {
	c.holidays[dateKey(date.In(c.loc))] = true
}

// AddEarlyClose overrides the regular session's close time for date (e.g.
// 13:00 ET the day after Thanksgiving). closeHour/closeMinute are in the
// calendar's location.
func (c *USEquityCalendar) AddEarlyClose(date time.Time, closeHour, closeMinute int) {
	d := date.In(c.loc)
	c.earlyCloses[dateKey(d)] = time.Date(d.Year(), d.Month(), d.Day(), closeHour, closeMinute, 0, 0, c.loc)
}

func (c *USEquityCalendar) window(date time.Time) (dayWindow, bool) {
	d := date.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return dayWindow{}, false
	}
	if c.holidays[dateKey(d)] {
		return dayWindow{}, false
	}
	y, m, day := d.Date()
	w := dayWindow{
		preOpen:   time.Date(y, m, day, 4, 0, 0, 0, c.loc),
		open:      time.Date(y, m, day, 9, 30, 0, 0, c.loc),
		close:     time.Date(y, m, day, 16, 0, 0, 0, c.loc),
		postClose: time.Date(y, m, day, 20, 0, 0, 0, c.loc),
	}
	if override, ok := c.earlyCloses[dateKey(d)]; ok {
		w.close = override
		// post-market still runs to the regular 20:00 boundary in practice,
		// but on an early-close day it is conventionally shortened too.
		w.postClose = override.Add(4 * time.Hour)
	}
	return w, true
}

// Session classifies t into pre-market/regular/post-market/closed using a
// half-open [open, close) window at every boundary, per the coordinator's
// "bar at exactly session close is excluded" decision.
func (c *USEquityCalendar) Session(t time.Time) Session {
	w, ok := c.window(t)
	if !ok {
		return SessionClosed
	}
	et := t.In(c.loc)
	switch {
	case !et.Before(w.preOpen) && et.Before(w.open):
		return SessionPreMarket
	case !et.Before(w.open) && et.Before(w.close):
		return SessionRegular
	case !et.Before(w.close) && et.Before(w.postClose):
		return SessionPostMarket
	default:
		return SessionClosed
	}
}

// Location returns the calendar's exchange-local timezone, for the JSON
// state export's system_manager.timezone field.
func (c *USEquityCalendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether t's calendar date is a weekday that is not a
// holiday.
func (c *USEquityCalendar) IsTradingDay(t time.Time) bool {
	_, ok := c.window(t)
	return ok
}

// MarketOpen returns the regular-session open time for date's calendar day.
func (c *USEquityCalendar) MarketOpen(date time.Time) (time.Time, bool) {
	w, ok := c.window(date)
	if !ok {
		return time.Time{}, false
	}
	return w.open, true
}

// MarketClose returns the regular-session close time for date's calendar
// day, honoring any early-close override.
func (c *USEquityCalendar) MarketClose(date time.Time) (time.Time, bool) {
	w, ok := c.window(date)
	if !ok {
		return time.Time{}, false
	}
	return w.close, true
}

// MinutesSinceOpen returns minutes elapsed since the regular session opened
// on t's calendar day, or 0 if the market has not opened yet or is closed.
func MinutesSinceOpen(c Calendar, t time.Time) int {
	if c.Session(t) == SessionClosed {
		return 0
	}
	open, ok := c.MarketOpen(t)
	if !ok || t.Before(open) {
		return 0
	}
	return int(t.Sub(open).Minutes())
}

// Validate returns an error if date is not a trading day, for fail-fast use
// in provisioning and CLI commands.
func Validate(c Calendar, date time.Time) error {
	if !c.IsTradingDay(date) {
		return fmt.Errorf("%s is not a trading day", dateKey(date))
	}
	return nil
}

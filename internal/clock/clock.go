// Package clock is the authoritative wall-clock and calendar for the
// monitoring substrate: a pure function of a timestamp and a configured
// holiday set, classifying any instant as closed/pre/open/post.
package clock

import (
	"log/slog"
	"time"
)

// IST is the Indian Standard Time zone (UTC+5:30), the default configured
// zone for every monitor in this system.
var IST = time.FixedZone("IST", 5*3600+30*60)

const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Phase is the closed 4-state session classification (spec §4.1).
type Phase string

const (
	PhaseClosed Phase = "closed"
	PhasePre    Phase = "pre"
	PhaseOpen   Phase = "open"
	PhasePost   Phase = "post"
)

// Clock is the calendar-aware phase classifier. Holidays are injected
// (never a package global) so the composition root owns the single
// instance, per Design Note §9.
type Clock struct {
	loc          *time.Location
	holidays     *HolidaySet
	failClosed   bool
	log          *slog.Logger
}

// New builds a Clock for the given zone and holiday set. failClosed governs
// the behavior when a calendar year has no configured holiday list: the
// spec's default is fail-open (treat as a trading day, log a WARNING);
// setting failClosed reverses that for operators who want the stricter
// behavior (see SPEC_FULL §3).
func New(loc *time.Location, holidays *HolidaySet, failClosed bool, log *slog.Logger) *Clock {
	if loc == nil {
		loc = IST
	}
	return &Clock{loc: loc, holidays: holidays, failClosed: failClosed, log: log}
}

// IsTradingDay reports whether date is a weekday and not a configured
// holiday. Fails open (or closed, per config) with a WARNING when the
// year has no configured holiday list.
func (c *Clock) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}

	known, isHoliday := c.holidays.Lookup(local)
	if !known {
		if c.log != nil {
			c.log.Warn("no holiday list configured for year; falling back to configured default",
				slog.Int("year", local.Year()), slog.Bool("fail_closed", c.failClosed))
		}
		return !c.failClosed
	}
	return !isHoliday
}

// Phase classifies ts into closed/pre/open/post for its calendar date.
// "pre" covers the window before today's open on a trading day; "post"
// covers the window after today's close on a trading day; a non-trading
// day is always "closed".
func (c *Clock) Phase(ts time.Time) Phase {
	local := ts.In(c.loc)
	if !c.IsTradingDay(local) {
		return PhaseClosed
	}

	open, close := c.SessionBoundaries(local)
	switch {
	case local.Before(open):
		return PhasePre
	case local.After(close):
		return PhasePost
	default:
		return PhaseOpen
	}
}

// SessionBoundaries returns today's open and close instants in the
// configured zone, for the calendar date of t.
func (c *Clock) SessionBoundaries(t time.Time) (open, close time.Time) {
	local := t.In(c.loc)
	open = time.Date(local.Year(), local.Month(), local.Day(), OpenHour, OpenMinute, 0, 0, c.loc)
	close = time.Date(local.Year(), local.Month(), local.Day(), CloseHour, CloseMinute, 0, 0, c.loc)
	return open, close
}

// TruncateToMinute aligns t down to the minute boundary in the configured
// zone — used by the collector to stamp cached_at (spec §4.4 step 3).
func (c *Clock) TruncateToMinute(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, c.loc)
}

// TradeDate returns the YYYY-MM-DD calendar date of t in the configured
// zone — the key used to detect day transitions for the snapshot ring
// (C6) and the OI baseline (C7).
func (c *Clock) TradeDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

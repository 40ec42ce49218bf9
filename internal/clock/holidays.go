package clock

import "time"

// HolidaySet is a configured, multi-year calendar of non-trading dates.
// Unlike the single-year hardcoded table it is adapted from, it tracks
// which years were actually configured so Clock can distinguish "this
// date is a holiday" from "this year has no data at all" (the fail-open
// case spec §4.1/§9 calls out).
type HolidaySet struct {
	dates map[string]bool // "YYYY-MM-DD" -> true
	years map[int]bool    // years with a configured list, even if empty
}

// NewHolidaySet returns an empty holiday set with no configured years.
// Dates are added with Add, which also marks their year as configured; a
// year with no holidays at all is marked with RegisterYear and is still
// "known".
func NewHolidaySet() *HolidaySet {
	return &HolidaySet{
		dates: make(map[string]bool),
		years: make(map[int]bool),
	}
}

// RegisterYear marks year as configured (possibly with no holidays),
// so IsTradingDay does not fail open for it.
func (h *HolidaySet) RegisterYear(year int) {
	h.years[year] = true
}

// Add registers date as a holiday and marks its year as configured.
func (h *HolidaySet) Add(date time.Time) {
	h.dates[date.Format("2006-01-02")] = true
	h.years[date.Year()] = true
}

// Lookup reports whether year has a configured list (known) and, if so,
// whether t falls on a holiday within it.
func (h *HolidaySet) Lookup(t time.Time) (known, isHoliday bool) {
	year := t.In(IST).Year()
	if !h.years[year] {
		return false, false
	}
	return true, h.dates[t.In(IST).Format("2006-01-02")]
}

// NSEHolidays2026 is the default configured NSE holiday calendar for 2026,
// as published by NSE India (month/day pairs, IST).
func NSEHolidays2026() *HolidaySet {
	h := NewHolidaySet()
	days := []struct {
		month time.Month
		day   int
	}{
		{time.January, 26},
		{time.February, 17},
		{time.March, 14},
		{time.March, 31},
		{time.April, 2},
		{time.April, 6},
		{time.April, 10},
		{time.April, 14},
		{time.May, 1},
		{time.June, 7},
		{time.July, 6},
		{time.August, 15},
		{time.August, 16},
		{time.September, 5},
		{time.October, 2},
		{time.October, 20},
		{time.October, 21},
		{time.November, 5},
		{time.November, 6},
		{time.November, 7},
		{time.November, 19},
		{time.December, 25},
	}
	for _, d := range days {
		h.Add(time.Date(2026, d.month, d.day, 0, 0, 0, 0, IST))
	}
	return h
}

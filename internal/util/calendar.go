package util

import (
	"time"
)

// IST is the exchange timezone. A fixed zone avoids depending on the host's
// tzdata; India has no daylight saving.
var IST = time.FixedZone("IST", 5*3600+30*60)

// TradingCalendar provides market-hours awareness for the NSE cash and
// derivatives segments.
type TradingCalendar struct {
	holidays map[string]bool // "2006-01-02" keys, exchange holidays
}

// NewTradingCalendar creates a TradingCalendar. Holiday dates are given in
// "2006-01-02" form; weekends are always closed regardless.
func NewTradingCalendar(holidays ...string) *TradingCalendar {
	hm := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		hm[h] = true
	}
	return &TradingCalendar{holidays: hm}
}

// IsTradingDay reports whether t falls on a weekday that is not an exchange
// holiday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	t = t.In(IST)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !tc.holidays[t.Format("2006-01-02")]
}

// IsMarketOpen returns whether the market is open at time t
// (NSE: 09:15-15:30 IST on trading days).
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	t = t.In(IST)
	mins := t.Hour()*60 + t.Minute()
	return mins >= 9*60+15 && mins < 15*60+30
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	t = t.In(IST)
	for i := 0; i < 366; i++ {
		open := time.Date(t.Year(), t.Month(), t.Day(), 9, 15, 0, 0, IST)
		if tc.IsTradingDay(open) && !open.Before(t) {
			return open
		}
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST).AddDate(0, 0, 1)
	}
	return time.Time{}
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	t = t.In(IST)
	for i := 0; i < 366; i++ {
		close := time.Date(t.Year(), t.Month(), t.Day(), 15, 30, 0, 0, IST)
		if tc.IsTradingDay(close) && !close.Before(t) {
			return close
		}
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST).AddDate(0, 0, 1)
	}
	return time.Time{}
}

// PrevTradingDay returns the last trading day strictly before t, truncated
// to midnight IST. Used to pick the reference close for mark-to-market.
func (tc *TradingCalendar) PrevTradingDay(t time.Time) time.Time {
	day := time.Date(t.In(IST).Year(), t.In(IST).Month(), t.In(IST).Day(), 0, 0, 0, 0, IST)
	for i := 0; i < 366; i++ {
		day = day.AddDate(0, 0, -1)
		if tc.IsTradingDay(day) {
			return day
		}
	}
	return time.Time{}
}

// MonthlyExpiry returns the last Thursday of the given month, the standard
// derivatives expiry. Exchange holidays shift it to the prior trading day.
func (tc *TradingCalendar) MonthlyExpiry(year int, month time.Month) time.Time {
	// Last day of month, walk back to Thursday.
	d := time.Date(year, month+1, 0, 0, 0, 0, 0, IST)
	for d.Weekday() != time.Thursday {
		d = d.AddDate(0, 0, -1)
	}
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

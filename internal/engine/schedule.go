package engine

import (
	"time"

	"shadowdesk/internal/util"
)

// Slot is one scheduled invocation of the driver.
type Slot struct {
	Shadow ShadowMode
	Trade  TradeMode
}

// scheduleEntry pins slots to a minute of the trading day.
type scheduleEntry struct {
	hour, minute int
	slots        []Slot
}

// schedule is the trading-day timetable. Times are IST. The driver must be
// invoked with exactly these pairs for the state machine to be correct:
// the reversal companion runs before the main slot at the same minute, so
// the main check sees the companion's fresh MTM mark and tracking snapshot.
var schedule = []scheduleEntry{
	{9, 15, []Slot{{ShadowValuesReset, TradeModeNoop}}},
	{9, 20, []Slot{{ShadowCapture, TradeModeShadowExit}}},
	{9, 30, []Slot{{ShadowMTM, TradeModeNoop}}},
	{9, 45, []Slot{
		{ShadowMTM, TradeModeCheckReverse},
		{ShadowNoop, TradeModeEntry},
	}},
	{15, 15, []Slot{{ShadowExitOnly, TradeModeExit}}},
}

// intraday slots repeat every 15 minutes: the reversal companion then the
// check from 10:00 to 14:15, exit-only wind-down from 14:30 to 15:00.
var (
	intradayCheckSlots = []Slot{
		{ShadowMTM, TradeModeCheckReverse},
		{ShadowNoop, TradeModeCheck},
	}
	intradayExitSlots = []Slot{
		{ShadowMTM, TradeModeCheckExit},
	}
)

// SlotsAt returns the scheduled invocations for the given wall-clock time,
// or nil when nothing runs at that minute. Non-trading days are always
// empty.
func SlotsAt(t time.Time, cal *util.TradingCalendar) []Slot {
	if !cal.IsTradingDay(t) {
		return nil
	}
	t = t.In(util.IST)
	h, m := t.Hour(), t.Minute()
	for _, e := range schedule {
		if e.hour == h && e.minute == m {
			return e.slots
		}
	}
	if m%15 != 0 {
		return nil
	}
	switch {
	case (h == 10 || h == 11 || h == 12 || h == 13) || (h == 14 && m <= 15):
		return intradayCheckSlots
	case (h == 14 && m >= 30) || (h == 15 && m == 0):
		return intradayExitSlots
	}
	return nil
}

// SplitActionAt returns the split variant's action for the given
// wall-clock time, or false when nothing runs at that minute. The split
// timetable trails the main one by one extra slot: the 15:20 rebalance.
func SplitActionAt(t time.Time, cal *util.TradingCalendar) (SplitAction, bool) {
	if !cal.IsTradingDay(t) {
		return "", false
	}
	t = t.In(util.IST)
	h, m := t.Hour(), t.Minute()
	switch {
	case h == 9 && m == 20:
		return SplitMorningReset, true
	case h == 9 && m == 30:
		return SplitPreview, true
	case h == 9 && m == 45:
		return SplitOpen, true
	case h == 15 && m == 15:
		return SplitSessionEnd, true
	case h == 15 && m == 20:
		return SplitRebalance, true
	}
	if m%15 != 0 {
		return "", false
	}
	switch {
	case (h == 10 || h == 11 || h == 12 || h == 13) || (h == 14 && m <= 15):
		return SplitIntraday, true
	case (h == 14 && m >= 30) || (h == 15 && m == 0):
		return SplitWindDown, true
	}
	return "", false
}

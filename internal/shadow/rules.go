package shadow

import (
	"math"

	"shadowdesk/internal/config"
)

// Rules evaluates the threshold predicates that drive state transitions.
// All methods are pure functions of the metrics passed in.
//
// Entry, exit, and value-at-risk levels are evaluated against the fixed
// reference investment from the config rather than the account's actual
// capital, so decisions are comparable across accounts of different sizes.
// The reversal rule is the one exception: it scales with real capital.
type Rules struct {
	cfg config.TradingConfig
}

// NewRules builds a rule engine from trading configuration.
func NewRules(cfg config.TradingConfig) *Rules {
	return &Rules{cfg: cfg}
}

// MaxValueAtRisk is the largest tolerated MTM before entries stop.
func (r *Rules) MaxValueAtRisk() float64 {
	return r.cfg.MaxVar * r.cfg.Investment
}

// TakeProfitLevel is the MTM at which an entered side is closed out.
func (r *Rules) TakeProfitLevel() float64 {
	return r.cfg.TakeProfit * r.cfg.Investment
}

// entryLevel is the minimum MTM required to enter, proportional to the
// number of live legs.
func (r *Rules) entryLevel(count int) float64 {
	return r.cfg.Investment * r.cfg.EntryFactor * float64(count)
}

// offDaysHigh reports whether MTM has fallen more than the configured
// fraction below the day's high. A zero high means the ratio is undefined;
// the rule treats that as "not fallen" so a tick with no history cannot
// force an exit.
func (r *Rules) offDaysHigh(m Metrics) bool {
	if m.DaysHigh == 0 {
		return false
	}
	return (m.MTM/m.DaysHigh)-1 < -r.cfg.DayHighDrawdownPct
}

// holdingDaysHigh is the entry-side counterpart: MTM is still strictly
// inside the drawdown band off the day's high. Falling exactly on the
// boundary does not qualify, and an undefined ratio blocks entry.
func (r *Rules) holdingDaysHigh(m Metrics) bool {
	if m.DaysHigh == 0 {
		return false
	}
	return (m.MTM/m.DaysHigh)-1 > -r.cfg.DayHighDrawdownPct
}

// ShouldEnter decides a plain entry: the side's MTM clears the per-count
// level, has not given back half its day's high, sits under the
// value-at-risk ceiling, the re-entry cap is not exhausted, and the book
// has gained since open.
func (r *Rules) ShouldEnter(m Metrics, entryCount int) bool {
	return m.MTM > r.entryLevel(m.Count) &&
		r.holdingDaysHigh(m) &&
		m.MTM < r.MaxValueAtRisk() &&
		entryCount <= r.cfg.MaxEntryCount &&
		m.ResetMTM > 0
}

// ShouldEnterWithSL decides the stop-loss entry variant: the same level,
// drawdown, cap, and reset conditions as ShouldEnter, but instead of the
// value-at-risk ceiling it requires a small current MTM after a big move
// off the open. Entries taken this way arm an explicit stop.
func (r *Rules) ShouldEnterWithSL(m Metrics, entryCount int) bool {
	return m.MTM > r.entryLevel(m.Count) &&
		r.holdingDaysHigh(m) &&
		entryCount <= r.cfg.MaxEntryCount &&
		m.ResetMTM > 0 &&
		math.Abs(m.MTM) < r.cfg.SLWindowLow &&
		math.Abs(m.StartMTM) > r.cfg.SLWindowHigh
}

// ShouldExit decides whether an entered side comes off. A side entered
// today exits on any loss, any give-back since open, or take-profit. A
// carried-over side gets the looser rule: small books exit purely on a
// negative MTM, large books only once MTM has fallen half off the day's
// high.
func (r *Rules) ShouldExit(m Metrics, onGoing bool) bool {
	if !onGoing {
		return m.MTM < 0 || m.ResetMTM < 0 || m.MTM > r.TakeProfitLevel()
	}
	if m.Count <= r.cfg.OngoingMaxPositions {
		return m.MTM < 0
	}
	return r.offDaysHigh(m)
}

// ShouldReverse decides whether momentum has firmly flipped against this
// side: the side must carry at least as many legs as its opposite, and one
// of three numeric regimes must hold — profit given back hard since open,
// a small loss after a big swing off the open, or a moderate loss within
// the reversal risk bound. Unlike the other rules this scales with the
// account's actual investment.
func (r *Rules) ShouldReverse(investment float64, m Metrics, oppositeCount int) bool {
	if m.Count < oppositeCount {
		return false
	}
	level := investment * r.cfg.EntryFactor * float64(m.Count)
	maxVar := r.cfg.ReverseVar
	return (m.MTM > 0 &&
		m.ResetMTM < 0 &&
		math.Abs(m.ResetMTM) > level &&
		m.ResetMTM > -maxVar &&
		m.MTM < maxVar*2) ||
		(m.MTM < 0 &&
			math.Abs(m.MTM) < level &&
			math.Abs(m.ResetMTM) > level &&
			m.ResetMTM > -maxVar) ||
		(m.MTM < 0 &&
			math.Abs(m.MTM) > level &&
			m.MTM > -maxVar)
}

// ShouldExitReverse closes a reversed side once both the MTM and the move
// since open have turned positive.
func (r *Rules) ShouldExitReverse(m Metrics) bool {
	return m.MTM > 0 && m.ResetMTM > 0
}

// ShouldAddStopLoss reports whether the day's history warrants arming a
// stop: at least three snapshots, a start MTM beyond the band in either
// direction, and a current MTM still inside the widest window.
func (r *Rules) ShouldAddStopLoss(tracking []float64) bool {
	if len(tracking) < 3 {
		return false
	}
	startMTM := max(tracking[0], tracking[1])
	nowMTM := tracking[len(tracking)-1]
	return (startMTM > r.cfg.SLWindowHigh || startMTM < -r.cfg.SLWindowHigh) &&
		nowMTM > -r.cfg.SLWindowMaxHigh && nowMTM < r.cfg.SLWindowMaxHigh
}

// StopLoss computes the stop level for a stop-loss entry: the configured
// offset below (or above) the current MTM, direction chosen by which side
// the start MTM leaned. No stop is armed when the start MTM sat inside the
// band.
func (r *Rules) StopLoss(startMTM, mtm float64) (float64, bool) {
	switch {
	case startMTM > r.cfg.SLWindowHigh:
		return mtm - r.cfg.StopLossOffset, true
	case startMTM < -r.cfg.SLWindowHigh:
		return mtm + r.cfg.StopLossOffset, true
	}
	return 0, false
}

// SLHit reports whether MTM has crossed the stop in the adverse direction.
// The sign of the stop decides which direction is adverse. An unarmed or
// zero stop, or an exactly zero MTM, never trips.
func (r *Rules) SLHit(stopLoss *float64, mtm float64) bool {
	if stopLoss == nil || *stopLoss == 0 || mtm == 0 {
		return false
	}
	sl := *stopLoss
	return (sl > 0 && mtm < sl) || (sl < 0 && mtm > sl)
}

// SplitJoinLevel is the per-side basket MTM sum that forces the split
// variant to close that side late in the day.
func (r *Rules) SplitJoinLevel() float64 {
	return r.cfg.SplitJoinLevel
}

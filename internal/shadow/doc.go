// Package shadow implements the simulated book that trades purely off
// signal: the per-subscription document of shadow legs with their
// mark-to-market history, the aggregate per-side metrics, and the threshold
// rules that promote shadow activity into real entries, exits, reversals,
// and stop-loss entries.
package shadow

import (
	"time"

	"shadowdesk/internal/domain"
)

// DocKey is the DocStore key under which a subscription's shadow document
// is persisted.
const DocKey = "shadow"

// Status is the per-side state of the shadow book.
type Status string

const (
	StatusEntered   Status = "ENTERED"
	StatusExited    Status = "EXITED"
	StatusReversed  Status = "REVERSED"
	StatusEnteredSL Status = "ENTEREDSL"
)

// Leg is one simulated open or closed position. Closed legs keep their exit
// fields set and are retained until the day rolls over so same-day exits
// still count toward the side's aggregate MTM.
type Leg struct {
	InstrumentID int64       `json:"inst_id"`
	StockID      int64       `json:"stock_id"`
	Ticker       string      `json:"ticker"`
	Side         domain.Side `json:"side"`
	Qty          int         `json:"qty"`
	EntryTime    time.Time   `json:"entry_time"`
	EntryPrice   float64     `json:"price"`
	OldPrice     float64     `json:"old_price"`
	ExitTime     *time.Time  `json:"exit_time,omitempty"`
	ExitPrice    *float64    `json:"exit_price,omitempty"`
	MTM          float64     `json:"mtm"`
}

// Live reports whether the leg is still open.
func (l *Leg) Live() bool {
	return l.ExitTime == nil
}

// SideState holds the decision state for one side of the book.
type SideState struct {
	Status Status `json:"status"`

	// EntryCount and ExitCount cap intraday re-entries; both reset at the
	// session-start values reset.
	EntryCount int `json:"entry_count"`
	ExitCount  int `json:"exit_count"`

	// KillSwitch forces the side to stay exited regardless of rule
	// outcomes until manually cleared.
	KillSwitch bool `json:"kill_switch"`

	// OnGoing marks a side whose position predates today's decision
	// cycle; the exit rule is looser for carried-over books.
	OnGoing bool `json:"on_going"`

	// StopLoss is armed on ENTEREDSL entries and on reversals.
	StopLoss *float64 `json:"stop_loss,omitempty"`

	// Tracking is the day's ordered aggregate MTM snapshots, one per
	// scheduled evaluation. The first two anchor the start-of-day MTM.
	Tracking []float64 `json:"mtm_tracking"`
}

// Doc is a subscription's whole shadow document. It is loaded, mutated, and
// written back atomically once per tick.
type Doc struct {
	Long  SideState `json:"long"`
	Short SideState `json:"short"`
	Legs  []Leg     `json:"positions"`

	// BannedStocks are tickers under an exchange F&O ban; legs on them
	// are closed and no new legs open.
	BannedStocks []string `json:"banned_stocks,omitempty"`

	// Halted blocks real entries while leaving the simulation running.
	Halted bool `json:"halted,omitempty"`
}

// NewDoc returns a fresh document with both sides exited.
func NewDoc() *Doc {
	d := &Doc{}
	d.Normalize()
	return d
}

// Normalize fills defaults for fields missing from an older stored
// document. A side with no status is treated as freshly exited.
func (d *Doc) Normalize() {
	if d.Long.Status == "" {
		d.Long.Status = StatusExited
	}
	if d.Short.Status == "" {
		d.Short.Status = StatusExited
	}
}

// State returns the side state for a trade side.
func (d *Doc) State(side domain.Side) *SideState {
	if side == domain.SideBuy {
		return &d.Long
	}
	return &d.Short
}

// IsBanned reports whether the ticker is on the document's ban list.
func (d *Doc) IsBanned(ticker string) bool {
	for _, b := range d.BannedStocks {
		if b == ticker {
			return true
		}
	}
	return false
}

// ResetForSession clears the day-scoped state at session start: MTM
// tracking, ban list, stop losses, counters, and kill switches. A side that
// ends the prior session ENTERED is flagged on-going so the looser exit
// rule applies to it today.
func (d *Doc) ResetForSession() {
	for _, s := range []*SideState{&d.Long, &d.Short} {
		s.Tracking = nil
		s.StopLoss = nil
		s.EntryCount = 0
		s.ExitCount = 0
		s.KillSwitch = false
		s.OnGoing = s.Status == StatusEntered
	}
	d.BannedStocks = nil
}

// Track appends the current aggregate MTM of both sides to their tracking
// history.
func (d *Doc) Track(longMTM, shortMTM float64) {
	d.Long.Tracking = append(d.Long.Tracking, longMTM)
	d.Short.Tracking = append(d.Short.Tracking, shortMTM)
}

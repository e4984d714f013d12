// Package engine drives the shadow state machine: per scheduled tick it
// updates each subscription's shadow book, evaluates the threshold rules,
// and converts rule decisions into real trades through the execution
// gateway.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
	"shadowdesk/internal/util"
)

// Compile-time interface checks.
var (
	_ shadow.Quoter   = (*Market)(nil)
	_ shadow.Universe = (*Market)(nil)
)

// maxCloseLookback bounds the walk back through trading days when looking
// for a prior close, so a symbol with no history fails fast.
const maxCloseLookback = 10

// Market adapts the stores into the price and contract lookups the shadow
// book needs: live prices from the quote store, prior closes from the daily
// bar history, and front-month contracts from the reference data.
type Market struct {
	ref    store.RefStore
	quotes store.QuoteStore
	bars   store.BarStore
	cal    *util.TradingCalendar

	// now is swappable for tests.
	now func() time.Time
}

// NewMarket builds a Market over the given stores and trading calendar.
func NewMarket(ref store.RefStore, quotes store.QuoteStore, bars store.BarStore, cal *util.TradingCalendar) *Market {
	return &Market{
		ref:    ref,
		quotes: quotes,
		bars:   bars,
		cal:    cal,
		now:    time.Now,
	}
}

// SetClock overrides the market's notion of now.
func (m *Market) SetClock(now func() time.Time) {
	m.now = now
}

// LTP returns the last traded price for an instrument.
func (m *Market) LTP(ctx context.Context, instrumentID int64) (float64, error) {
	return m.quotes.LTP(ctx, instrumentID)
}

// PriorClose returns the most recent end-of-day close before today for the
// instrument, walking back through trading days until a stored bar is
// found.
func (m *Market) PriorClose(ctx context.Context, instrumentID int64) (float64, error) {
	inst, err := m.ref.GetInstrument(ctx, instrumentID)
	if err != nil {
		return 0, err
	}
	return m.PriorCloseSymbol(ctx, inst.Symbol)
}

// PriorCloseSymbol is PriorClose for callers that already hold the symbol.
func (m *Market) PriorCloseSymbol(ctx context.Context, symbol string) (float64, error) {
	day := m.cal.PrevTradingDay(m.now())
	for range maxCloseLookback {
		c, err := m.bars.CloseOn(ctx, symbol, day)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return 0, err
		}
		day = m.cal.PrevTradingDay(day)
	}
	return 0, fmt.Errorf("no close for %s in the last %d trading days", symbol, maxCloseLookback)
}

// FrontInstrument returns the nearest unexpired contract's instrument for a
// stock.
func (m *Market) FrontInstrument(ctx context.Context, stockID int64) (*domain.Instrument, error) {
	return m.ref.FrontInstrument(ctx, stockID, domain.Day(m.now()))
}

// DailyCloses returns up to limit daily closes for the symbol, oldest
// first, ending before today. Signals consume this history.
func (m *Market) DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	end := m.cal.PrevTradingDay(m.now())
	// Calendar days overshoot trading days, so fetch a wide window and
	// trim from the back.
	start := end.AddDate(0, 0, -limit*7/4-10)
	bars, err := m.bars.ReadBars(ctx, symbol, start, end.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.Close)
	}
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	return closes, nil
}

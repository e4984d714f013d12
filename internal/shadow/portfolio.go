package shadow

import (
	"context"
	"log/slog"
	"time"

	"shadowdesk/internal/domain"
)

// Quoter supplies the two prices the simulation needs per instrument.
type Quoter interface {
	// LTP returns the current traded price.
	LTP(ctx context.Context, instrumentID int64) (float64, error)

	// PriorClose returns the previous trading day's closing price.
	PriorClose(ctx context.Context, instrumentID int64) (float64, error)
}

// Universe resolves stocks to tradeable contracts.
type Universe interface {
	// FrontInstrument returns the nearest unexpired contract's instrument
	// for a stock.
	FrontInstrument(ctx context.Context, stockID int64) (*domain.Instrument, error)
}

// Sizer computes order quantities for a contract.
type Sizer interface {
	// Qty is the full allocation for one stock, in lot-size multiples.
	Qty(ctx context.Context, inst *domain.Instrument) (int, error)

	// PartialQty is the reduced allocation used when entering only part
	// of the book, never below one lot.
	PartialQty(ctx context.Context, inst *domain.Instrument) (int, error)
}

// Call is a strategy's opinion on one stock for this tick.
type Call struct {
	StockID int64
	Ticker  string
	Side    domain.Side
}

// Portfolio maintains the set of simulated legs for one subscription:
// opening legs where the signal wants a side, marking them to market, and
// closing them when the signal flips or the underlying is banned.
type Portfolio struct {
	quotes   Quoter
	universe Universe
	sizer    Sizer
	log      *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewPortfolio builds a portfolio engine with its dependencies.
func NewPortfolio(quotes Quoter, universe Universe, sizer Sizer, log *slog.Logger) *Portfolio {
	return &Portfolio{
		quotes:   quotes,
		universe: universe,
		sizer:    sizer,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the portfolio's notion of now. Tests use this to pin
// the trading day.
func (p *Portfolio) SetClock(now func() time.Time) {
	p.now = now
}

// Save reconciles the document's legs against the tick's signal calls.
// Live legs whose call flipped away (or whose underlying is banned) are
// closed at the current price; legs closed on a prior day are dropped;
// every surviving leg is re-marked. Unless exitOnly is set, a new leg
// opens for every called stock not already represented.
//
// A price or instrument lookup failure skips that one leg or stock and
// processing continues; a failed lookup must not wedge the rest of the
// book.
func (p *Portfolio) Save(ctx context.Context, doc *Doc, calls map[int64]Call, exitOnly bool) {
	now := p.now()
	today := domain.Day(now)

	kept := doc.Legs[:0]
	inShadow := make(map[int64]bool)
	for i := range doc.Legs {
		leg := doc.Legs[i]
		if leg.ExitTime != nil && leg.ExitTime.Before(today) {
			// Closed on a prior day; drop from history.
			continue
		}

		call, called := calls[leg.StockID]
		banned := doc.IsBanned(leg.Ticker)
		switch {
		case !leg.Live():
			// Exited earlier today: retained for same-day accounting. If
			// the call has swung back to this leg's side, the stock stays
			// blocked so the leg is not reopened today.
			if called && call.Side == leg.Side {
				inShadow[leg.StockID] = true
			}
			if err := p.Mark(ctx, &leg); err != nil {
				p.log.Warn("marking exited shadow leg failed", "instrument", leg.InstrumentID, "error", err)
			}
		case !called || call.Side != leg.Side || banned:
			exitPrice, err := p.quotes.LTP(ctx, leg.InstrumentID)
			if err != nil {
				p.log.Warn("closing shadow leg failed, keeping live", "instrument", leg.InstrumentID, "error", err)
				inShadow[leg.StockID] = true
				break
			}
			t := now
			leg.ExitTime = &t
			leg.ExitPrice = &exitPrice
			if err := p.Mark(ctx, &leg); err != nil {
				p.log.Warn("marking closed shadow leg failed", "instrument", leg.InstrumentID, "error", err)
			}
		default:
			if err := p.Mark(ctx, &leg); err != nil {
				p.log.Warn("marking shadow leg failed", "instrument", leg.InstrumentID, "error", err)
			}
			inShadow[leg.StockID] = true
		}
		kept = append(kept, leg)
	}

	if !exitOnly {
		for stockID, call := range calls {
			if inShadow[stockID] || doc.IsBanned(call.Ticker) {
				continue
			}
			leg, err := p.open(ctx, call, now)
			if err != nil {
				p.log.Warn("opening shadow leg failed", "ticker", call.Ticker, "error", err)
				continue
			}
			kept = append(kept, *leg)
		}
	}
	doc.Legs = kept
}

// open builds a fresh leg for a called stock at the current price.
func (p *Portfolio) open(ctx context.Context, call Call, now time.Time) (*Leg, error) {
	inst, err := p.universe.FrontInstrument(ctx, call.StockID)
	if err != nil {
		return nil, err
	}
	price, err := p.quotes.LTP(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	qty, err := p.sizer.Qty(ctx, inst)
	if err != nil {
		return nil, err
	}
	return &Leg{
		InstrumentID: inst.ID,
		StockID:      call.StockID,
		Ticker:       call.Ticker,
		Side:         call.Side,
		Qty:          qty,
		EntryTime:    now,
		EntryPrice:   price,
		OldPrice:     price,
		MTM:          0,
	}, nil
}

// UpdateMTM re-marks every leg without touching entry/exit status. Failed
// lookups leave that leg's numbers unchanged for this tick.
func (p *Portfolio) UpdateMTM(ctx context.Context, doc *Doc) {
	for i := range doc.Legs {
		if err := p.Mark(ctx, &doc.Legs[i]); err != nil {
			p.log.Warn("updating shadow mtm failed", "instrument", doc.Legs[i].InstrumentID, "error", err)
		}
	}
}

// Mark recomputes one leg's MTM. Carried-over legs baseline against the
// prior day's close; same-day entries baseline against their own fill.
// Closed legs price at their exit fill instead of the live quote.
func (p *Portfolio) Mark(ctx context.Context, leg *Leg) error {
	today := domain.Day(p.now())

	oldPrice := leg.EntryPrice
	if leg.EntryTime.Before(today) {
		prior, err := p.quotes.PriorClose(ctx, leg.InstrumentID)
		if err != nil {
			return err
		}
		oldPrice = prior
	}
	leg.OldPrice = oldPrice

	var price float64
	if leg.ExitPrice != nil {
		price = *leg.ExitPrice
	} else {
		ltp, err := p.quotes.LTP(ctx, leg.InstrumentID)
		if err != nil {
			return err
		}
		price = ltp
	}

	if leg.Side == domain.SideBuy {
		leg.MTM = (price - oldPrice) * float64(leg.Qty)
	} else {
		leg.MTM = (oldPrice - price) * float64(leg.Qty)
	}
	return nil
}

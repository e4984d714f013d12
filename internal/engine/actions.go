package engine

import (
	"context"

	"shadowdesk/internal/domain"
)

// instSide keys a real position by contract and direction.
type instSide struct {
	instrumentID int64
	side         domain.Side
}

// activePositions returns the subscription's open positions with lookup
// maps by contract and by (contract, direction).
func (r *run) activePositions(ctx context.Context) ([]domain.Position, map[int64]*domain.Position, map[instSide]*domain.Position, error) {
	positions, err := r.d.trades.ListPositions(ctx, r.sub.ID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	byInst := make(map[int64]*domain.Position, len(positions))
	byKey := make(map[instSide]*domain.Position, len(positions))
	for i := range positions {
		p := &positions[i]
		byInst[p.InstrumentID] = p
		byKey[instSide{p.InstrumentID, p.Side}] = p
	}
	return positions, byInst, byKey, nil
}

// enterFromShadow opens a real position for every live shadow leg of the
// side that has no active position on its contract yet. That duplicate
// check is what makes a retried tick safe. Partial entries re-size against
// a third of the capital. A single failed lookup skips that leg only.
func (r *run) enterFromShadow(ctx context.Context, side domain.Side, partial bool) error {
	if r.doc.Halted {
		return nil
	}
	_, byInst, _, err := r.activePositions(ctx)
	if err != nil {
		return err
	}
	for i := range r.doc.Legs {
		leg := &r.doc.Legs[i]
		if leg.Side != side || !leg.Live() || byInst[leg.InstrumentID] != nil {
			continue
		}
		inst, err := r.d.ref.GetInstrument(ctx, leg.InstrumentID)
		if err != nil {
			r.d.log.Warn("entry skipped, instrument lookup failed", "instrument", leg.InstrumentID, "error", err)
			continue
		}
		price, err := r.d.quotes.LTP(ctx, inst.ID)
		if err != nil {
			r.d.log.Warn("entry skipped, no live price", "instrument", inst.Symbol, "error", err)
			continue
		}
		qty := leg.Qty
		if partial {
			qty, err = r.sizer.PartialQty(ctx, inst)
			if err != nil {
				r.d.log.Warn("entry skipped, partial sizing failed", "instrument", inst.Symbol, "error", err)
				continue
			}
		}
		if _, err := r.d.gateway.Entry(ctx, r.sub, inst, qty, side, price, false); err != nil {
			r.d.log.Warn("entry failed", "instrument", inst.Symbol, "error", err)
		}
	}
	return nil
}

// enterReverse opens the opposite side of every live shadow leg of the
// given side. A same-side real position is closed first; a contract already
// holding an opposite position is left alone.
func (r *run) enterReverse(ctx context.Context, side domain.Side) error {
	if r.doc.Halted {
		return nil
	}
	_, byInst, _, err := r.activePositions(ctx)
	if err != nil {
		return err
	}
	opposite := side.Opposite()
	for i := range r.doc.Legs {
		leg := &r.doc.Legs[i]
		if leg.Side != side || !leg.Live() {
			continue
		}
		inst, err := r.d.ref.GetInstrument(ctx, leg.InstrumentID)
		if err != nil {
			r.d.log.Warn("reverse entry skipped, instrument lookup failed", "instrument", leg.InstrumentID, "error", err)
			continue
		}
		price, err := r.d.quotes.LTP(ctx, inst.ID)
		if err != nil {
			r.d.log.Warn("reverse entry skipped, no live price", "instrument", inst.Symbol, "error", err)
			continue
		}
		if pos := byInst[leg.InstrumentID]; pos != nil {
			if pos.Side == opposite {
				continue
			}
			if _, err := r.d.gateway.Exit(ctx, pos, price); err != nil {
				r.d.log.Warn("reverse pre-exit failed", "instrument", inst.Symbol, "error", err)
				continue
			}
		}
		if _, err := r.d.gateway.Entry(ctx, r.sub, inst, leg.Qty, opposite, price, true); err != nil {
			r.d.log.Warn("reverse entry failed", "instrument", inst.Symbol, "error", err)
		}
	}
	return nil
}

// exitStale closes every real position of the side whose contract has no
// live shadow leg of the same side left.
func (r *run) exitStale(ctx context.Context, side domain.Side) error {
	inShadow := make(map[int64]bool)
	for i := range r.doc.Legs {
		leg := &r.doc.Legs[i]
		if leg.Side == side && leg.Live() {
			inShadow[leg.InstrumentID] = true
		}
	}
	positions, _, _, err := r.activePositions(ctx)
	if err != nil {
		return err
	}
	for i := range positions {
		pos := &positions[i]
		if pos.Side != side || inShadow[pos.InstrumentID] {
			continue
		}
		price, err := r.d.quotes.LTP(ctx, pos.InstrumentID)
		if err != nil {
			r.d.log.Warn("stale exit skipped, no live price", "instrument", pos.InstrumentID, "error", err)
			continue
		}
		if _, err := r.d.gateway.Exit(ctx, pos, price); err != nil {
			r.d.log.Warn("stale exit failed", "position", pos.ID, "error", err)
		}
	}
	return nil
}

// exitAll closes the real position behind every live shadow leg of the
// side.
func (r *run) exitAll(ctx context.Context, side domain.Side) error {
	return r.exitMatching(ctx, side, side, false)
}

// exitReversed closes the reversal positions opened against the side's
// shadow legs.
func (r *run) exitReversed(ctx context.Context, side domain.Side) error {
	return r.exitMatching(ctx, side, side.Opposite(), true)
}

func (r *run) exitMatching(ctx context.Context, legSide, posSide domain.Side, reversalOnly bool) error {
	_, _, byKey, err := r.activePositions(ctx)
	if err != nil {
		return err
	}
	for i := range r.doc.Legs {
		leg := &r.doc.Legs[i]
		if leg.Side != legSide || !leg.Live() {
			continue
		}
		pos := byKey[instSide{leg.InstrumentID, posSide}]
		if pos == nil || (reversalOnly && !pos.Reversal) {
			continue
		}
		price, err := r.d.quotes.LTP(ctx, pos.InstrumentID)
		if err != nil {
			r.d.log.Warn("exit skipped, no live price", "instrument", pos.InstrumentID, "error", err)
			continue
		}
		if _, err := r.d.gateway.Exit(ctx, pos, price); err != nil {
			r.d.log.Warn("exit failed", "position", pos.ID, "error", err)
		}
	}
	return nil
}

package engine

import (
	"context"
	"encoding/json"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
)

// Rollover moves the algo's book onto the next futures contract on expiry
// day: every active real position on an expiring contract is exited and
// re-entered on the next contract at its live price, then every shadow leg
// on an expiring contract is remapped to the next contract with its MTM
// baseline refreshed from that contract's prior close.
func (d *Driver) Rollover(ctx context.Context) error {
	subs, err := d.accounts.ListSubscriptions(ctx, true)
	if err != nil {
		return err
	}
	today := domain.Day(d.now())
	for _, sub := range subs {
		if sub.Algo != d.algo {
			continue
		}
		if err := d.rolloverPositions(ctx, sub, today); err != nil {
			d.log.Error("position rollover failed", "subscription", sub.ID, "error", err)
			continue
		}
		if err := d.rolloverShadow(ctx, sub, today); err != nil {
			d.log.Error("shadow rollover failed", "subscription", sub.ID, "error", err)
		}
	}
	return nil
}

// expiredOn compares calendar dates so a contract rolls on its expiry day
// regardless of the time zones the two values carry.
func expiredOn(expiry, today time.Time) bool {
	return domain.SameDay(expiry, today) || expiry.Before(today)
}

func (d *Driver) rolloverPositions(ctx context.Context, sub domain.Subscription, today time.Time) error {
	positions, err := d.trades.ListPositions(ctx, sub.ID, true)
	if err != nil {
		return err
	}
	for i := range positions {
		pos := &positions[i]
		inst, err := d.ref.GetInstrument(ctx, pos.InstrumentID)
		if err != nil {
			d.log.Warn("rollover skipped, instrument lookup failed", "instrument", pos.InstrumentID, "error", err)
			continue
		}
		if inst.Future == nil || !expiredOn(inst.Future.Expiry, today) {
			continue
		}
		next, err := d.ref.NextFutureInstrument(ctx, inst.ID)
		if err != nil {
			d.log.Warn("rollover skipped, no next contract", "instrument", inst.Symbol, "error", err)
			continue
		}
		exitPrice, err := d.quotes.LTP(ctx, inst.ID)
		if err != nil {
			d.log.Warn("rollover skipped, no price on expiring contract", "instrument", inst.Symbol, "error", err)
			continue
		}
		if _, err := d.gateway.Exit(ctx, pos, exitPrice); err != nil {
			d.log.Warn("rollover exit failed", "position", pos.ID, "error", err)
			continue
		}
		entryPrice, err := d.quotes.LTP(ctx, next.ID)
		if err != nil {
			d.log.Warn("rollover re-entry skipped, no price on next contract", "instrument", next.Symbol, "error", err)
			continue
		}
		if _, err := d.gateway.Entry(ctx, &sub, next, pos.Qty, pos.Side, entryPrice, pos.Reversal); err != nil {
			d.log.Warn("rollover re-entry failed", "instrument", next.Symbol, "error", err)
		}
	}
	return nil
}

func (d *Driver) rolloverShadow(ctx context.Context, sub domain.Subscription, today time.Time) error {
	doc, err := d.loadDoc(ctx, sub.ID)
	if err != nil {
		return err
	}
	changed := false
	for i := range doc.Legs {
		leg := &doc.Legs[i]
		inst, err := d.ref.GetInstrument(ctx, leg.InstrumentID)
		if err != nil {
			d.log.Warn("shadow rollover skipped a leg", "instrument", leg.InstrumentID, "error", err)
			continue
		}
		if inst.Future == nil || !expiredOn(inst.Future.Expiry, today) {
			continue
		}
		next, err := d.ref.NextFutureInstrument(ctx, inst.ID)
		if err != nil {
			d.log.Warn("shadow rollover skipped a leg, no next contract", "instrument", inst.Symbol, "error", err)
			continue
		}
		leg.InstrumentID = next.ID
		if leg.OldPrice != 0 {
			prior, err := d.market.PriorCloseSymbol(ctx, next.Symbol)
			if err != nil {
				d.log.Warn("shadow rollover kept stale old price", "instrument", next.Symbol, "error", err)
			} else {
				leg.OldPrice = prior
			}
		}
		changed = true
	}
	if !changed {
		return nil
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return d.docs.PutDoc(ctx, sub.ID, shadow.DocKey, buf)
}

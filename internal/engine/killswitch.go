package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
)

// KillSwitch is the manual circuit breaker for one account: it force-exits
// real positions across every non-hedge subscription and pins the shadow
// sides exited until released. While the switch is on, the intraday checks
// refuse to re-enter that side.
type KillSwitch struct {
	accounts store.AccountStore
	docs     store.DocStore
	trades   store.TradeStore
	ref      store.RefStore
	quotes   store.QuoteStore
	gateway  *Gateway
	log      *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewKillSwitch wires a KillSwitch.
func NewKillSwitch(accounts store.AccountStore, docs store.DocStore, trades store.TradeStore, ref store.RefStore, quotes store.QuoteStore, gateway *Gateway, log *slog.Logger) *KillSwitch {
	return &KillSwitch{
		accounts: accounts,
		docs:     docs,
		trades:   trades,
		ref:      ref,
		quotes:   quotes,
		gateway:  gateway,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the kill switch's notion of now.
func (k *KillSwitch) SetClock(now func() time.Time) {
	k.now = now
	k.gateway.SetClock(now)
}

// expand turns an optional side filter into the concrete side list.
func expand(sides []domain.Side) []domain.Side {
	if len(sides) == 0 {
		return bothSides
	}
	return sides
}

// Activate exits the account's positions on the given sides (both when none
// are named), raises the kill switches, and marks every shadow side exited.
func (k *KillSwitch) Activate(ctx context.Context, accountID int64, sides ...domain.Side) error {
	sides = expand(sides)

	account, err := k.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, side := range sides {
		if side == domain.SideBuy {
			account.KillSwitchLong = true
		} else {
			account.KillSwitchShort = true
		}
	}
	if err := k.accounts.SetAccountFlags(ctx, account); err != nil {
		return err
	}

	return k.eachSubscription(ctx, accountID, func(sub domain.Subscription, doc *shadow.Doc) error {
		positions, err := k.trades.ListPositions(ctx, sub.ID, true)
		if err != nil {
			return err
		}
		for i := range positions {
			pos := &positions[i]
			if !sideIn(pos.Side, sides) {
				continue
			}
			price, err := k.quotes.LTP(ctx, pos.InstrumentID)
			if err != nil {
				k.log.Warn("kill switch exit skipped, no live price", "instrument", pos.InstrumentID, "error", err)
				continue
			}
			if _, err := k.gateway.Exit(ctx, pos, price); err != nil {
				k.log.Warn("kill switch exit failed", "position", pos.ID, "error", err)
			}
		}
		for _, side := range sides {
			doc.State(side).KillSwitch = true
		}
		doc.Long.Status = shadow.StatusExited
		doc.Short.Status = shadow.StatusExited
		return nil
	})
}

// Release re-syncs the account's real book with the shadow book and clears
// the kill switches: live shadow legs with no position are entered, and
// positions whose shadow leg exited today are closed.
func (k *KillSwitch) Release(ctx context.Context, accountID int64, sides ...domain.Side) error {
	sides = expand(sides)

	account, err := k.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, side := range sides {
		if side == domain.SideBuy {
			account.KillSwitchLong = false
		} else {
			account.KillSwitchShort = false
		}
	}
	if err := k.accounts.SetAccountFlags(ctx, account); err != nil {
		return err
	}

	today := domain.Day(k.now())
	return k.eachSubscription(ctx, accountID, func(sub domain.Subscription, doc *shadow.Doc) error {
		positions, err := k.trades.ListPositions(ctx, sub.ID, true)
		if err != nil {
			return err
		}
		byInst := make(map[int64]*domain.Position, len(positions))
		for i := range positions {
			byInst[positions[i].InstrumentID] = &positions[i]
		}

		for i := range doc.Legs {
			leg := &doc.Legs[i]
			pos := byInst[leg.InstrumentID]
			switch {
			case leg.Live() && pos == nil:
				if !sideIn(leg.Side, sides) {
					continue
				}
				inst, err := k.ref.GetInstrument(ctx, leg.InstrumentID)
				if err != nil {
					k.log.Warn("release entry skipped, instrument lookup failed", "instrument", leg.InstrumentID, "error", err)
					continue
				}
				price, err := k.quotes.LTP(ctx, inst.ID)
				if err != nil {
					k.log.Warn("release entry skipped, no live price", "instrument", inst.Symbol, "error", err)
					continue
				}
				if _, err := k.gateway.Entry(ctx, &sub, inst, leg.Qty, leg.Side, price, false); err != nil {
					k.log.Warn("release entry failed", "instrument", inst.Symbol, "error", err)
				}
			case !leg.Live() && pos != nil:
				if pos.Side != leg.Side || !domain.SameDay(*leg.ExitTime, today) {
					continue
				}
				price, err := k.quotes.LTP(ctx, pos.InstrumentID)
				if err != nil {
					k.log.Warn("release exit skipped, no live price", "instrument", pos.InstrumentID, "error", err)
					continue
				}
				if _, err := k.gateway.Exit(ctx, pos, price); err != nil {
					k.log.Warn("release exit failed", "position", pos.ID, "error", err)
				}
			}
		}

		for _, side := range sides {
			doc.State(side).KillSwitch = false
		}
		return nil
	})
}

// eachSubscription runs fn against every active non-hedge subscription of
// the account with its shadow document loaded, writing the document back
// after.
func (k *KillSwitch) eachSubscription(ctx context.Context, accountID int64, fn func(domain.Subscription, *shadow.Doc) error) error {
	subs, err := k.accounts.ListAccountSubscriptions(ctx, accountID, true)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.IsHedge {
			continue
		}
		doc, err := loadDocFrom(ctx, k.docs, sub.ID)
		if err != nil {
			k.log.Error("loading shadow document failed", "subscription", sub.ID, "error", err)
			continue
		}
		if err := fn(sub, doc); err != nil {
			k.log.Error("kill switch step failed", "subscription", sub.ID, "error", err)
			continue
		}
		buf, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if err := k.docs.PutDoc(ctx, sub.ID, shadow.DocKey, buf); err != nil {
			return err
		}
	}
	return nil
}

func sideIn(side domain.Side, sides []domain.Side) bool {
	for _, s := range sides {
		if s == side {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
)

// SplitDocKey is the DocStore key for a subscription's split baskets.
const SplitDocKey = "split"

// splitReversalOppositeCount stands in for the opposite side's live count
// in the basket reversal rule; baskets track one side only so there is no
// real opposite book to compare against.
const splitReversalOppositeCount = 10

// SplitAction names the timer slots of the basket variant's trading day.
type SplitAction string

const (
	SplitMorningReset SplitAction = "9_20"
	SplitPreview      SplitAction = "9_30"
	SplitOpen         SplitAction = "9_45"
	SplitIntraday     SplitAction = "10_to_2_15"
	SplitWindDown     SplitAction = "2_30_to_3"
	SplitSessionEnd   SplitAction = "3_15"
	SplitRebalance    SplitAction = "3_20"
)

// BasketMeta is the per-basket decision state. The three statuses are
// independent: a basket can be in its normal cycle, reversed, or riding a
// stop-loss window entry at the same time.
type BasketMeta struct {
	Splitted   bool          `json:"splitted"`
	Tracking   []float64     `json:"mtm_tracking"`
	StopLoss   *float64      `json:"stop_loss,omitempty"`
	Investment float64       `json:"investment"`
	EntryCount int           `json:"entry_count"`
	ExitCount  int           `json:"exit_count"`
	OnGoing    bool          `json:"is_on_going"`
	Normal     shadow.Status `json:"normal_status"`
	Reversal   shadow.Status `json:"reversal_status"`
	SLWindow   shadow.Status `json:"sl_window_status"`
}

// PlannedTrade is one row of a preview basket: what a transfer of the
// basket's state into the real book would trade, priced at build time.
type PlannedTrade struct {
	InstrumentID int64       `json:"inst_id"`
	Symbol       string      `json:"symbol"`
	Side         domain.Side `json:"side"`
	Qty          int         `json:"qty"`
	Price        float64     `json:"price"`
}

// Basket is one independently managed slice of a side's shadow book.
type Basket struct {
	Side         domain.Side               `json:"side"`
	Legs         []shadow.Leg              `json:"positions"`
	Meta         BasketMeta                `json:"meta_data"`
	TradeBaskets map[string][]PlannedTrade `json:"trade_baskets,omitempty"`
}

// normalize fills defaults for a basket loaded from an older document.
func (b *Basket) normalize() {
	if b.Meta.Normal == "" {
		b.Meta.Normal = shadow.StatusExited
	}
	if b.Meta.Reversal == "" {
		b.Meta.Reversal = shadow.StatusExited
	}
	if b.Meta.SLWindow == "" {
		b.Meta.SLWindow = shadow.StatusExited
	}
}

// metrics derives the basket's rule inputs from its tracking history. With
// fewer than two snapshots the anchored values stay zero, matching the
// whole-book metrics.
func (b *Basket) metrics() shadow.Metrics {
	m := shadow.Metrics{Count: len(b.Legs)}
	if len(b.Meta.Tracking) == 0 {
		return m
	}
	m.MTM = b.Meta.Tracking[len(b.Meta.Tracking)-1]
	m.DaysHigh = m.MTM
	for _, v := range b.Meta.Tracking {
		if v > m.DaysHigh {
			m.DaysHigh = v
		}
	}
	if len(b.Meta.Tracking) >= 2 {
		m.StartMTM = max(b.Meta.Tracking[0], b.Meta.Tracking[1])
		m.ResetMTM = m.MTM - m.StartMTM
	}
	return m
}

// SplitDoc is a subscription's whole basket document.
type SplitDoc struct {
	Baskets []Basket `json:"position_maps"`
}

// newSplitDoc starts with one empty basket per side.
func newSplitDoc() *SplitDoc {
	doc := &SplitDoc{Baskets: []Basket{
		{Side: domain.SideBuy},
		{Side: domain.SideSell},
	}}
	for i := range doc.Baskets {
		doc.Baskets[i].normalize()
	}
	return doc
}

// SplitDriver runs the basket variant of the state machine: each side's
// shadow book is held in one or more baskets that enter and exit the real
// book independently, split in two when an entered basket turns profitable,
// and re-join once every sibling is exited.
type SplitDriver struct {
	*Driver
}

// NewSplitDriver wraps a Driver with the basket behaviors.
func NewSplitDriver(d *Driver) *SplitDriver {
	return &SplitDriver{Driver: d}
}

// Run executes one timer action for every active subscription of the
// driver's algo.
func (s *SplitDriver) Run(ctx context.Context, action SplitAction) error {
	var calls map[int64]shadow.Call
	if action == SplitMorningReset || action == SplitSessionEnd {
		var err error
		calls, err = s.stockCalls(ctx)
		if err != nil {
			return err
		}
	}

	subs, err := s.accounts.ListSubscriptions(ctx, true)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Algo != s.algo {
			continue
		}
		if err := s.runOneSplit(ctx, sub, action, calls); err != nil {
			s.log.Error("split action failed for subscription", "subscription", sub.ID, "error", err)
		}
	}
	return nil
}

func (s *SplitDriver) loadSplitDoc(ctx context.Context, subscriptionID int64) (*SplitDoc, error) {
	raw, err := s.docs.GetDoc(ctx, subscriptionID, SplitDocKey)
	if errors.Is(err, store.ErrNotFound) {
		return newSplitDoc(), nil
	}
	if err != nil {
		return nil, err
	}
	doc := &SplitDoc{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decoding split document: %w", err)
	}
	for i := range doc.Baskets {
		doc.Baskets[i].normalize()
	}
	return doc, nil
}

func (s *SplitDriver) runOneSplit(ctx context.Context, sub domain.Subscription, action SplitAction, calls map[int64]shadow.Call) error {
	doc, err := s.loadSplitDoc(ctx, sub.ID)
	if err != nil {
		return err
	}

	sizer := NewLotSizer(s.accounts, s.ref, s.quotes, sub.ID, s.group)
	portfolio := shadow.NewPortfolio(s.market, s.market, sizer, s.log)
	portfolio.SetClock(s.now)

	for i := range doc.Baskets {
		b := &doc.Baskets[i]
		if action == SplitMorningReset {
			if err := s.resetMeta(ctx, b, sub.ID); err != nil {
				return err
			}
		}
		s.markBasket(ctx, portfolio, b)

		switch action {
		case SplitMorningReset:
			s.exitTransform(ctx, portfolio, b, calls)
			s.banTransform(ctx, b)
			if !b.Meta.Splitted {
				s.entryTransform(ctx, b, calls, sizer)
			}
		case SplitPreview:
			baskets, err := s.buildTradeBaskets(ctx, sub.ID, b, sizer)
			if err != nil {
				return err
			}
			b.TradeBaskets = baskets
		case SplitOpen:
			if err := s.syncEntered(ctx, &sub, b); err != nil {
				return err
			}
		case SplitIntraday:
			if err := s.intraday(ctx, &sub, b); err != nil {
				return err
			}
		case SplitWindDown:
			if err := s.windDown(ctx, &sub, b); err != nil {
				return err
			}
		case SplitSessionEnd:
			if err := s.sessionEnd(ctx, &sub, b, portfolio, calls); err != nil {
				return err
			}
		}
	}

	if action == SplitRebalance {
		if err := s.rebalance(ctx, &sub, doc); err != nil {
			return err
		}
	}

	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.docs.PutDoc(ctx, sub.ID, SplitDocKey, buf)
}

// resetMeta clears the basket's day-scoped state at session start.
func (s *SplitDriver) resetMeta(ctx context.Context, b *Basket, subscriptionID int64) error {
	investment, err := s.accounts.Investment(ctx, subscriptionID)
	if err != nil {
		return err
	}
	b.Meta.EntryCount = 0
	b.Meta.ExitCount = 0
	b.Meta.Investment = investment
	b.Meta.OnGoing = b.Meta.Normal == shadow.StatusEntered
	b.Meta.Tracking = nil
	b.TradeBaskets = nil
	return nil
}

// markBasket re-marks every leg and appends the basket's aggregate MTM to
// its tracking history. Failed lookups leave that leg's numbers unchanged.
func (s *SplitDriver) markBasket(ctx context.Context, portfolio *shadow.Portfolio, b *Basket) {
	var mtm float64
	for i := range b.Legs {
		if err := portfolio.Mark(ctx, &b.Legs[i]); err != nil {
			s.log.Warn("marking basket leg failed", "instrument", b.Legs[i].InstrumentID, "error", err)
		}
		mtm += b.Legs[i].MTM
	}
	b.Meta.Tracking = append(b.Meta.Tracking, mtm)
}

// exitTransform closes legs whose signal call flipped away from the
// basket's side. Legs closed on a prior day stay untouched.
func (s *SplitDriver) exitTransform(ctx context.Context, portfolio *shadow.Portfolio, b *Basket, calls map[int64]shadow.Call) {
	now := s.now()
	today := domain.Day(now)
	for i := range b.Legs {
		leg := &b.Legs[i]
		if leg.ExitTime != nil && leg.ExitTime.Before(today) {
			continue
		}
		if !leg.Live() {
			continue
		}
		if call, ok := calls[leg.StockID]; ok && call.Side == leg.Side {
			continue
		}
		price, err := s.quotes.LTP(ctx, leg.InstrumentID)
		if err != nil {
			s.log.Warn("closing basket leg failed, keeping live", "instrument", leg.InstrumentID, "error", err)
			continue
		}
		t := now
		leg.ExitTime = &t
		leg.ExitPrice = &price
		if err := portfolio.Mark(ctx, leg); err != nil {
			s.log.Warn("marking closed basket leg failed", "instrument", leg.InstrumentID, "error", err)
		}
	}
}

// banTransform drops legs on banned stocks outright; a banned underlying
// cannot even be simulated.
func (s *SplitDriver) banTransform(ctx context.Context, b *Basket) {
	banned, err := s.bannedTickers(ctx)
	if err != nil || len(banned) == 0 {
		return
	}
	kept := b.Legs[:0]
	for _, leg := range b.Legs {
		if !banned[leg.Ticker] {
			kept = append(kept, leg)
		}
	}
	b.Legs = kept
}

// bannedTickers is the current exchange ban list, from the "banned" stock
// group the ban-list job maintains.
func (s *SplitDriver) bannedTickers(ctx context.Context) (map[string]bool, error) {
	stocks, err := s.ref.GroupMembers(ctx, "banned")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(stocks))
	for _, st := range stocks {
		out[st.Ticker] = true
	}
	return out, nil
}

// entryTransform appends a leg for every called stock on the basket's side
// not already represented.
func (s *SplitDriver) entryTransform(ctx context.Context, b *Basket, calls map[int64]shadow.Call, sizer *LotSizer) {
	now := s.now()
	present := make(map[int64]bool, len(b.Legs))
	for i := range b.Legs {
		present[b.Legs[i].InstrumentID] = true
	}
	for _, call := range calls {
		if call.Side != b.Side {
			continue
		}
		inst, err := s.market.FrontInstrument(ctx, call.StockID)
		if err != nil {
			s.log.Warn("basket entry skipped, no front contract", "ticker", call.Ticker, "error", err)
			continue
		}
		if present[inst.ID] {
			continue
		}
		price, err := s.quotes.LTP(ctx, inst.ID)
		if err != nil {
			s.log.Warn("basket entry skipped, no live price", "instrument", inst.Symbol, "error", err)
			continue
		}
		qty, err := sizer.Qty(ctx, inst)
		if err != nil {
			s.log.Warn("basket entry skipped, sizing failed", "instrument", inst.Symbol, "error", err)
			continue
		}
		b.Legs = append(b.Legs, shadow.Leg{
			InstrumentID: inst.ID,
			StockID:      call.StockID,
			Ticker:       call.Ticker,
			Side:         call.Side,
			Qty:          qty,
			EntryTime:    now,
			EntryPrice:   price,
			OldPrice:     price,
		})
	}
}

// buildTradeBaskets prices the preview baskets: what opening, closing, or
// reversing the basket would trade right now.
func (s *SplitDriver) buildTradeBaskets(ctx context.Context, subscriptionID int64, b *Basket, sizer *LotSizer) (map[string][]PlannedTrade, error) {
	positions, err := s.trades.ListPositions(ctx, subscriptionID, true)
	if err != nil {
		return nil, err
	}
	byKey := make(map[instSide]*domain.Position, len(positions))
	for i := range positions {
		byKey[instSide{positions[i].InstrumentID, positions[i].Side}] = &positions[i]
	}

	var sessionEntries, sessionExits, allEntries []PlannedTrade
	for i := range b.Legs {
		leg := &b.Legs[i]
		pos := byKey[instSide{leg.InstrumentID, leg.Side}]
		if !leg.Live() {
			if pos != nil {
				price, err := s.quotes.LTP(ctx, pos.InstrumentID)
				if err != nil {
					s.log.Warn("basket preview skipped a leg", "instrument", pos.InstrumentID, "error", err)
					continue
				}
				sessionExits = append(sessionExits, PlannedTrade{
					InstrumentID: pos.InstrumentID,
					Symbol:       leg.Ticker,
					Side:         pos.Side.Opposite(),
					Qty:          pos.Qty,
					Price:        price,
				})
			}
			continue
		}
		inst, err := s.ref.GetInstrument(ctx, leg.InstrumentID)
		if err != nil {
			s.log.Warn("basket preview skipped a leg", "instrument", leg.InstrumentID, "error", err)
			continue
		}
		price, err := s.quotes.LTP(ctx, inst.ID)
		if err != nil {
			s.log.Warn("basket preview skipped a leg", "instrument", inst.Symbol, "error", err)
			continue
		}
		qty, err := sizer.Qty(ctx, inst)
		if err != nil {
			s.log.Warn("basket preview skipped a leg", "instrument", inst.Symbol, "error", err)
			continue
		}
		entry := PlannedTrade{
			InstrumentID: inst.ID,
			Symbol:       inst.Symbol,
			Side:         leg.Side,
			Qty:          qty,
			Price:        price,
		}
		allEntries = append(allEntries, entry)
		if pos == nil {
			sessionEntries = append(sessionEntries, entry)
		}
	}

	allExits := make([]PlannedTrade, len(allEntries))
	for i, t := range allEntries {
		t.Side = t.Side.Opposite()
		allExits[i] = t
	}
	return map[string][]PlannedTrade{
		"session_entries":  sessionEntries,
		"session_exits":    sessionExits,
		"all_entries":      allEntries,
		"all_exits":        allExits,
		"reversal_entries": allExits,
		"reversal_exits":   allEntries,
	}, nil
}

// syncEntered reconciles the real book with an entered basket: positions
// on the wrong side or behind an exited leg come off, live legs with no
// same-side position go on.
func (s *SplitDriver) syncEntered(ctx context.Context, sub *domain.Subscription, b *Basket) error {
	if b.Meta.Normal != shadow.StatusEntered {
		return nil
	}
	positions, err := s.trades.ListPositions(ctx, sub.ID, true)
	if err != nil {
		return err
	}
	byInst := make(map[int64]*domain.Position, len(positions))
	for i := range positions {
		byInst[positions[i].InstrumentID] = &positions[i]
	}
	for i := range b.Legs {
		leg := &b.Legs[i]
		pos := byInst[leg.InstrumentID]
		if pos != nil && (pos.Side != leg.Side || !leg.Live()) {
			price, err := s.quotes.LTP(ctx, pos.InstrumentID)
			if err != nil {
				s.log.Warn("basket sync exit skipped, no live price", "instrument", pos.InstrumentID, "error", err)
				continue
			}
			if _, err := s.gateway.Exit(ctx, pos, price); err != nil {
				s.log.Warn("basket sync exit failed", "position", pos.ID, "error", err)
				continue
			}
		}
		if leg.Live() && (pos == nil || pos.Side != leg.Side) {
			inst, err := s.ref.GetInstrument(ctx, leg.InstrumentID)
			if err != nil {
				s.log.Warn("basket sync entry skipped, instrument lookup failed", "instrument", leg.InstrumentID, "error", err)
				continue
			}
			price, err := s.quotes.LTP(ctx, inst.ID)
			if err != nil {
				s.log.Warn("basket sync entry skipped, no live price", "instrument", inst.Symbol, "error", err)
				continue
			}
			if _, err := s.gateway.Entry(ctx, sub, inst, leg.Qty, leg.Side, price, false); err != nil {
				s.log.Warn("basket sync entry failed", "instrument", inst.Symbol, "error", err)
			}
		}
	}
	return nil
}

// processBasket is the generic basket transition: an exited status may
// enter, an entered one may exit. Reversal transitions trade the opposite
// side and leave the counters alone.
func (s *SplitDriver) processBasket(ctx context.Context, sub *domain.Subscription, b *Basket, status shadow.Status, shouldEnter, shouldExit func() bool, reversal bool) (shadow.Status, error) {
	side := b.Side
	if reversal {
		side = side.Opposite()
	}
	switch {
	case status == shadow.StatusExited && shouldEnter():
		if err := s.enterBasket(ctx, sub, b, side, reversal); err != nil {
			return status, err
		}
		if len(b.Meta.Tracking) >= 2 {
			b.Meta.StopLoss = stopPtr(s.rules.StopLoss(b.Meta.Tracking[1], b.Meta.Tracking[len(b.Meta.Tracking)-1]))
		} else {
			b.Meta.StopLoss = nil
		}
		if !reversal {
			b.Meta.EntryCount++
		}
		return shadow.StatusEntered, nil
	case status == shadow.StatusEntered && shouldExit():
		if err := s.exitBasket(ctx, sub, b, side); err != nil {
			return status, err
		}
		b.Meta.StopLoss = nil
		if !reversal {
			b.Meta.ExitCount++
			b.Meta.OnGoing = false
		}
		return shadow.StatusExited, nil
	}
	return status, nil
}

// enterBasket opens a real position per basket leg that has none on its
// contract yet.
func (s *SplitDriver) enterBasket(ctx context.Context, sub *domain.Subscription, b *Basket, side domain.Side, reversal bool) error {
	positions, err := s.trades.ListPositions(ctx, sub.ID, true)
	if err != nil {
		return err
	}
	active := make(map[int64]bool, len(positions))
	for i := range positions {
		active[positions[i].InstrumentID] = true
	}
	for i := range b.Legs {
		leg := &b.Legs[i]
		if active[leg.InstrumentID] {
			continue
		}
		inst, err := s.ref.GetInstrument(ctx, leg.InstrumentID)
		if err != nil {
			s.log.Warn("basket entry skipped, instrument lookup failed", "instrument", leg.InstrumentID, "error", err)
			continue
		}
		price, err := s.quotes.LTP(ctx, inst.ID)
		if err != nil {
			s.log.Warn("basket entry skipped, no live price", "instrument", inst.Symbol, "error", err)
			continue
		}
		if _, err := s.gateway.Entry(ctx, sub, inst, leg.Qty, side, price, reversal); err != nil {
			s.log.Warn("basket entry failed", "instrument", inst.Symbol, "error", err)
		}
	}
	return nil
}

// exitBasket closes the side's real position behind every basket leg.
func (s *SplitDriver) exitBasket(ctx context.Context, sub *domain.Subscription, b *Basket, side domain.Side) error {
	positions, err := s.trades.ListPositions(ctx, sub.ID, true)
	if err != nil {
		return err
	}
	byKey := make(map[instSide]*domain.Position, len(positions))
	for i := range positions {
		byKey[instSide{positions[i].InstrumentID, positions[i].Side}] = &positions[i]
	}
	for i := range b.Legs {
		pos := byKey[instSide{b.Legs[i].InstrumentID, side}]
		if pos == nil {
			continue
		}
		price, err := s.quotes.LTP(ctx, pos.InstrumentID)
		if err != nil {
			s.log.Warn("basket exit skipped, no live price", "instrument", pos.InstrumentID, "error", err)
			continue
		}
		if _, err := s.gateway.Exit(ctx, pos, price); err != nil {
			s.log.Warn("basket exit failed", "position", pos.ID, "error", err)
		}
	}
	return nil
}

// intraday runs the three status cycles in priority order: reversal first,
// then the normal cycle, then the stop-loss window, each only while no
// earlier cycle holds the basket entered.
func (s *SplitDriver) intraday(ctx context.Context, sub *domain.Subscription, b *Basket) error {
	m := b.metrics()
	rules := s.rules

	status, err := s.processBasket(ctx, sub, b, b.Meta.Reversal,
		func() bool { return rules.ShouldReverse(b.Meta.Investment, m, splitReversalOppositeCount) },
		func() bool { return rules.ShouldExitReverse(m) || rules.SLHit(b.Meta.StopLoss, m.MTM) },
		true)
	if err != nil {
		return err
	}
	b.Meta.Reversal = status
	if status == shadow.StatusEntered {
		return nil
	}

	status, err = s.processBasket(ctx, sub, b, b.Meta.Normal,
		func() bool { return rules.ShouldEnter(m, b.Meta.EntryCount) },
		func() bool { return rules.ShouldExit(m, b.Meta.OnGoing) },
		false)
	if err != nil {
		return err
	}
	b.Meta.Normal = status
	if status == shadow.StatusEntered {
		return nil
	}

	status, err = s.processBasket(ctx, sub, b, b.Meta.SLWindow,
		func() bool { return rules.ShouldEnterWithSL(m, b.Meta.EntryCount) },
		func() bool { return rules.ShouldExit(m, b.Meta.OnGoing) || rules.SLHit(b.Meta.StopLoss, m.MTM) },
		false)
	if err != nil {
		return err
	}
	b.Meta.SLWindow = status
	return nil
}

// windDown is the late-afternoon exit-only pass over all three cycles.
func (s *SplitDriver) windDown(ctx context.Context, sub *domain.Subscription, b *Basket) error {
	m := b.metrics()
	rules := s.rules
	never := func() bool { return false }

	status, err := s.processBasket(ctx, sub, b, b.Meta.Reversal,
		never,
		func() bool { return rules.ShouldExitReverse(m) },
		true)
	if err != nil {
		return err
	}
	b.Meta.Reversal = status

	status, err = s.processBasket(ctx, sub, b, b.Meta.SLWindow,
		never,
		func() bool { return rules.ShouldExit(m, b.Meta.OnGoing) || rules.SLHit(b.Meta.StopLoss, m.MTM) },
		false)
	if err != nil {
		return err
	}
	b.Meta.SLWindow = status

	status, err = s.processBasket(ctx, sub, b, b.Meta.Normal,
		never,
		func() bool { return rules.ShouldExit(m, b.Meta.OnGoing) },
		false)
	if err != nil {
		return err
	}
	b.Meta.Normal = status
	return nil
}

// sessionEnd force-exits the reversal and stop-loss cycles, re-runs the
// exit transform against closing signals, and re-syncs an entered basket.
func (s *SplitDriver) sessionEnd(ctx context.Context, sub *domain.Subscription, b *Basket, portfolio *shadow.Portfolio, calls map[int64]shadow.Call) error {
	always := func() bool { return true }
	never := func() bool { return false }

	status, err := s.processBasket(ctx, sub, b, b.Meta.Reversal, never, always, true)
	if err != nil {
		return err
	}
	b.Meta.Reversal = status

	status, err = s.processBasket(ctx, sub, b, b.Meta.SLWindow, never, always, false)
	if err != nil {
		return err
	}
	b.Meta.SLWindow = status

	s.exitTransform(ctx, portfolio, b, calls)
	return s.syncEntered(ctx, sub, b)
}

// rebalance is the 15:20 pass over the whole document: a side whose basket
// MTMs sum past the join level is force-exited, then baskets split or
// join. An entered, profitable, unsplit basket spawns an empty sibling; a
// side whose baskets are all exited collapses back to one.
func (s *SplitDriver) rebalance(ctx context.Context, sub *domain.Subscription, doc *SplitDoc) error {
	sums := map[domain.Side]float64{}
	for i := range doc.Baskets {
		sums[doc.Baskets[i].Side] += doc.Baskets[i].metrics().MTM
	}
	always := func() bool { return true }
	never := func() bool { return false }
	for i := range doc.Baskets {
		b := &doc.Baskets[i]
		if sums[b.Side] <= s.joinLevel() {
			continue
		}
		status, err := s.processBasket(ctx, sub, b, b.Meta.Normal, never, always, false)
		if err != nil {
			return err
		}
		b.Meta.Normal = status
	}

	anySplit := false
	for i := range doc.Baskets {
		if doc.Baskets[i].Meta.Splitted {
			anySplit = true
			break
		}
	}

	var next []Basket
	if anySplit {
		for _, side := range bothSides {
			next = append(next, joinSide(doc.Baskets, side)...)
		}
	} else {
		for _, b := range doc.Baskets {
			next = append(next, b)
			if b.Meta.Normal == shadow.StatusEntered && b.metrics().MTM > 0 {
				next[len(next)-1].Meta.Splitted = true
				sibling := b
				sibling.Legs = nil
				sibling.Meta.Splitted = false
				sibling.TradeBaskets = nil
				next = append(next, sibling)
			}
		}
	}
	doc.Baskets = next
	return nil
}

func (s *SplitDriver) joinLevel() float64 {
	return s.rules.SplitJoinLevel()
}

// joinSide collapses a side's baskets back into one empty basket once every
// sibling is exited; otherwise the side's baskets are kept as they stand.
func joinSide(baskets []Basket, side domain.Side) []Basket {
	var ours []Basket
	for _, b := range baskets {
		if b.Side == side {
			ours = append(ours, b)
		}
	}
	if len(ours) == 0 {
		b := Basket{Side: side}
		b.normalize()
		return []Basket{b}
	}
	for _, b := range ours {
		if b.Meta.Normal != shadow.StatusExited {
			return ours
		}
	}
	joined := ours[0]
	joined.Legs = nil
	joined.Meta.Splitted = false
	joined.TradeBaskets = nil
	return []Basket{joined}
}

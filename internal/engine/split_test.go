package engine

import (
	"testing"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
)

func newBasket(side domain.Side, legs ...shadow.Leg) Basket {
	b := Basket{Side: side, Legs: legs}
	b.normalize()
	return b
}

func TestSplitBasketIntradayEntersAndExits(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)

	b := newBasket(domain.SideBuy, liveLeg(inst, domain.SideBuy, 250, 5000))
	b.Meta.Investment = 15_000_000
	b.Meta.Tracking = []float64{1000, 1000, 5000}

	if err := s.intraday(e.ctx, &e.sub, &b); err != nil {
		t.Fatalf("intraday: %v", err)
	}
	if b.Meta.Normal != shadow.StatusEntered {
		t.Fatalf("normal status = %s, want ENTERED", b.Meta.Normal)
	}
	if b.Meta.EntryCount != 1 {
		t.Errorf("EntryCount = %d, want 1", b.Meta.EntryCount)
	}
	positions := e.activePositions()
	if len(positions) != 1 || positions[0].Side != domain.SideBuy || positions[0].Qty != 250 {
		t.Fatalf("positions = %+v, want one BUY x250", positions)
	}

	// The basket turns negative: the next pass exits it.
	b.Meta.Tracking = append(b.Meta.Tracking, -500)
	if err := s.intraday(e.ctx, &e.sub, &b); err != nil {
		t.Fatalf("intraday: %v", err)
	}
	if b.Meta.Normal != shadow.StatusExited {
		t.Fatalf("normal status = %s, want EXITED", b.Meta.Normal)
	}
	if b.Meta.ExitCount != 1 {
		t.Errorf("ExitCount = %d, want 1", b.Meta.ExitCount)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Errorf("basket exit left %d positions open", len(got))
	}
}

func TestSplitBasketEntryIsIdempotent(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)

	b := newBasket(domain.SideBuy, liveLeg(inst, domain.SideBuy, 250, 5000))
	b.Meta.Investment = 15_000_000
	b.Meta.Tracking = []float64{1000, 1000, 5000}

	if err := s.enterBasket(e.ctx, &e.sub, &b, domain.SideBuy, false); err != nil {
		t.Fatalf("enterBasket: %v", err)
	}
	if err := s.enterBasket(e.ctx, &e.sub, &b, domain.SideBuy, false); err != nil {
		t.Fatalf("enterBasket: %v", err)
	}
	if got := e.activePositions(); len(got) != 1 {
		t.Fatalf("got %d positions after double entry, want 1", len(got))
	}
}

func TestSplitWindDownExitsOnly(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)

	// An exited basket that qualifies for entry stays out.
	b := newBasket(domain.SideBuy, liveLeg(inst, domain.SideBuy, 250, 5000))
	b.Meta.Investment = 15_000_000
	b.Meta.Tracking = []float64{1000, 1000, 5000}
	if err := s.windDown(e.ctx, &e.sub, &b); err != nil {
		t.Fatalf("windDown: %v", err)
	}
	if b.Meta.Normal != shadow.StatusExited {
		t.Errorf("normal status = %s, want still EXITED", b.Meta.Normal)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Errorf("wind-down opened %d positions", len(got))
	}

	// An entered basket under water comes off.
	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}
	b.Meta.Normal = shadow.StatusEntered
	b.Meta.Tracking = append(b.Meta.Tracking, -500)
	if err := s.windDown(e.ctx, &e.sub, &b); err != nil {
		t.Fatalf("windDown: %v", err)
	}
	if b.Meta.Normal != shadow.StatusExited {
		t.Errorf("normal status = %s, want EXITED", b.Meta.Normal)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Errorf("wind-down left %d positions open", len(got))
	}
}

func TestSplitRebalanceSplitsProfitableBasket(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)

	doc := newSplitDoc()
	doc.Baskets[0].Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 5000)}
	doc.Baskets[0].Meta.Normal = shadow.StatusEntered
	doc.Baskets[0].Meta.Tracking = []float64{1000, 1000, 5000}

	if err := s.rebalance(e.ctx, &e.sub, doc); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if len(doc.Baskets) != 3 {
		t.Fatalf("got %d baskets after split, want 3", len(doc.Baskets))
	}
	if !doc.Baskets[0].Meta.Splitted {
		t.Error("profitable basket not marked splitted")
	}
	sibling := doc.Baskets[1]
	if sibling.Side != domain.SideBuy || len(sibling.Legs) != 0 || sibling.Meta.Splitted {
		t.Errorf("sibling = %+v, want an empty unsplit buy basket", sibling)
	}
}

func TestSplitRebalanceJoinsWhenAllExited(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)

	doc := newSplitDoc()
	doc.Baskets[0].Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 0)}
	doc.Baskets[0].Meta.Splitted = true
	doc.Baskets = append(doc.Baskets, newBasket(domain.SideBuy))

	if err := s.rebalance(e.ctx, &e.sub, doc); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if len(doc.Baskets) != 2 {
		t.Fatalf("got %d baskets after join, want 2", len(doc.Baskets))
	}
	for _, b := range doc.Baskets {
		if len(b.Legs) != 0 || b.Meta.Splitted {
			t.Errorf("joined basket = %+v, want empty and unsplit", b)
		}
	}
	if doc.Baskets[0].Side == doc.Baskets[1].Side {
		t.Error("joined document lost a side")
	}
}

func TestSplitRebalanceKeepsEnteredSiblings(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)

	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	// A splitted, already-exited basket next to a sibling that is still in
	// the market: no join happens until the whole side is out.
	stop := 300_000.0
	doc := newSplitDoc()
	doc.Baskets[0].Meta.Splitted = true
	sibling := newBasket(domain.SideBuy, liveLeg(inst, domain.SideBuy, 250, 5000))
	sibling.Meta.Normal = shadow.StatusEntered
	sibling.Meta.Tracking = []float64{1000, 1000, 5000}
	sibling.Meta.StopLoss = &stop
	doc.Baskets = append(doc.Baskets, sibling)

	if err := s.rebalance(e.ctx, &e.sub, doc); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	var buys []Basket
	for _, b := range doc.Baskets {
		if b.Side == domain.SideBuy {
			buys = append(buys, b)
		}
	}
	if len(buys) != 2 {
		t.Fatalf("got %d buy baskets after rebalance, want both kept", len(buys))
	}
	if !buys[0].Meta.Splitted {
		t.Error("splitted basket lost its split flag")
	}
	kept := buys[1]
	if kept.Meta.Normal != shadow.StatusEntered || len(kept.Legs) != 1 {
		t.Fatalf("entered sibling = %+v, want its leg and status kept", kept)
	}
	if kept.Meta.StopLoss == nil || *kept.Meta.StopLoss != stop {
		t.Error("entered sibling lost its stop-loss")
	}
	if len(kept.Meta.Tracking) != 3 {
		t.Errorf("tracking length = %d, want 3", len(kept.Meta.Tracking))
	}
	if got := e.activePositions(); len(got) != 1 {
		t.Errorf("rebalance left %d positions, want the sibling's 1", len(got))
	}
}

func TestSplitRebalanceForceExitsRichSide(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)

	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	doc := newSplitDoc()
	doc.Baskets[0].Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 800_000)}
	doc.Baskets[0].Meta.Normal = shadow.StatusEntered
	doc.Baskets[0].Meta.Splitted = true
	doc.Baskets[0].Meta.Tracking = []float64{1000, 1000, 800_000}

	if err := s.rebalance(e.ctx, &e.sub, doc); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("rich side still holds %d positions", len(got))
	}
	// All baskets exited, so the side joins back to one empty basket.
	for _, b := range doc.Baskets {
		if b.Meta.Normal != shadow.StatusExited {
			t.Errorf("basket status = %s, want EXITED", b.Meta.Normal)
		}
	}
}

func TestSplitMorningResetClearsMeta(t *testing.T) {
	e := newEnv(t)
	s := NewSplitDriver(e.driver)

	b := newBasket(domain.SideBuy)
	b.Meta.Normal = shadow.StatusEntered
	b.Meta.EntryCount = 2
	b.Meta.ExitCount = 1
	b.Meta.Tracking = []float64{1000, 2000}
	b.TradeBaskets = map[string][]PlannedTrade{"all_entries": nil}

	if err := s.resetMeta(e.ctx, &b, e.sub.ID); err != nil {
		t.Fatalf("resetMeta: %v", err)
	}
	if b.Meta.EntryCount != 0 || b.Meta.ExitCount != 0 || len(b.Meta.Tracking) != 0 {
		t.Errorf("day state not cleared: %+v", b.Meta)
	}
	if b.Meta.Investment != 15_000_000 {
		t.Errorf("Investment = %v, want refreshed to 15M", b.Meta.Investment)
	}
	if !b.Meta.OnGoing {
		t.Error("carried-over entered basket not flagged on-going")
	}
	if b.TradeBaskets != nil {
		t.Error("trade baskets survived the reset")
	}
}

func TestSplitBuildTradeBaskets(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)
	s := NewSplitDriver(e.driver)
	sizer := NewLotSizer(e.db, e.db, e.db, e.sub.ID, testGroup)

	b := newBasket(domain.SideBuy, liveLeg(inst, domain.SideBuy, 250, 5000))
	baskets, err := s.buildTradeBaskets(e.ctx, e.sub.ID, &b, sizer)
	if err != nil {
		t.Fatalf("buildTradeBaskets: %v", err)
	}

	entries := baskets["session_entries"]
	if len(entries) != 1 {
		t.Fatalf("session entries = %+v, want 1", entries)
	}
	if entries[0].Side != domain.SideBuy || entries[0].Qty != 330*250 || entries[0].Price != 1000 {
		t.Errorf("planned entry = %+v, want BUY x%d @1000", entries[0], 330*250)
	}
	if len(baskets["session_exits"]) != 0 {
		t.Errorf("session exits = %+v, want none", baskets["session_exits"])
	}
	exits := baskets["all_exits"]
	if len(exits) != 1 || exits[0].Side != domain.SideSell {
		t.Errorf("all exits = %+v, want one SELL mirror", exits)
	}
	if len(baskets["reversal_entries"]) != 1 || baskets["reversal_entries"][0].Side != domain.SideSell {
		t.Errorf("reversal entries = %+v, want the mirrored side", baskets["reversal_entries"])
	}
}

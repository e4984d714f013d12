package shadow

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"shadowdesk/internal/config"
	"shadowdesk/internal/domain"
)

func testRules() *Rules {
	return NewRules(config.Defaults())
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestComputeMetrics(t *testing.T) {
	exitTime := time.Now()
	doc := NewDoc()
	doc.Legs = []Leg{
		{Side: domain.SideBuy, MTM: 50_000},
		{Side: domain.SideBuy, MTM: 30_000},
		// Exited today: counts toward MTM but not toward Count.
		{Side: domain.SideBuy, MTM: 20_000, ExitTime: &exitTime},
		{Side: domain.SideSell, MTM: -10_000},
	}
	doc.Long.Tracking = []float64{60_000, 80_000, 120_000}
	doc.Short.Tracking = []float64{-5_000, -2_000}

	long, short := Compute(doc)

	if long.MTM != 100_000 {
		t.Errorf("long MTM = %v, want 100000", long.MTM)
	}
	if long.Count != 2 {
		t.Errorf("long Count = %d, want 2 (exited leg excluded)", long.Count)
	}
	if long.DaysHigh != 120_000 {
		t.Errorf("long DaysHigh = %v, want 120000", long.DaysHigh)
	}
	if long.StartMTM != 80_000 {
		t.Errorf("long StartMTM = %v, want max of first two snapshots", long.StartMTM)
	}
	if long.ResetMTM != 20_000 {
		t.Errorf("long ResetMTM = %v, want 20000", long.ResetMTM)
	}

	if short.MTM != -10_000 || short.Count != 1 {
		t.Errorf("short = %+v, want MTM -10000 Count 1", short)
	}
	// Current MTM below every snapshot: the high is the best snapshot.
	if short.DaysHigh != -2_000 {
		t.Errorf("short DaysHigh = %v, want -2000", short.DaysHigh)
	}
	if short.StartMTM != -2_000 || short.ResetMTM != -8_000 {
		t.Errorf("short anchors = %v/%v, want -2000/-8000", short.StartMTM, short.ResetMTM)
	}
}

func TestComputeMetricsShortTracking(t *testing.T) {
	doc := NewDoc()
	doc.Legs = []Leg{{Side: domain.SideBuy, MTM: 40_000}}
	doc.Long.Tracking = []float64{40_000} // only one snapshot so far

	long, _ := Compute(doc)
	if long.StartMTM != 0 || long.ResetMTM != 0 {
		t.Errorf("anchors with <2 snapshots = %v/%v, want zeros", long.StartMTM, long.ResetMTM)
	}
	if long.DaysHigh != 40_000 {
		t.Errorf("DaysHigh = %v, want 40000", long.DaysHigh)
	}
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

func TestShouldEnter(t *testing.T) {
	r := testRules()
	// Entry level for 5 legs: 15000000 * 10*0.01*0.15*0.01 * 5 = 11250.
	base := Metrics{MTM: 50_000, Count: 5, DaysHigh: 60_000, StartMTM: 10_000, ResetMTM: 40_000}

	if !r.ShouldEnter(base, 0) {
		t.Error("expected entry for profitable book under the ceiling")
	}
	if r.ShouldEnter(base, 3) {
		t.Error("entry count above cap must block entry")
	}
	if !r.ShouldEnter(base, 2) {
		t.Error("entry count at the cap is still allowed")
	}

	noGain := base
	noGain.ResetMTM = 0
	if r.ShouldEnter(noGain, 0) {
		t.Error("zero reset MTM must block entry")
	}

	over := base
	over.MTM = 250_000
	over.DaysHigh = 250_000
	if r.ShouldEnter(over, 0) {
		t.Error("MTM above value-at-risk ceiling must block entry")
	}

	// 50% off the day's high blocks entry; the boundary itself is exclusive.
	drawn := base
	drawn.MTM = 30_000
	drawn.DaysHigh = 60_000
	if r.ShouldEnter(drawn, 0) {
		t.Error("exactly half the day's high must block entry")
	}
	drawn.MTM = 30_001
	if !r.ShouldEnter(drawn, 0) {
		t.Error("just inside the drawdown band should allow entry")
	}

	small := base
	small.MTM = 11_000 // under level for count 5
	small.DaysHigh = 11_000
	if r.ShouldEnter(small, 0) {
		t.Error("MTM under the per-count level must block entry")
	}

	empty := Metrics{}
	if r.ShouldEnter(empty, 0) {
		t.Error("empty metrics must never enter")
	}
}

func TestShouldEnterWithSL(t *testing.T) {
	r := testRules()
	m := Metrics{MTM: 300_000, Count: 5, DaysHigh: 320_000, StartMTM: 250_000, ResetMTM: 50_000}

	if !r.ShouldEnterWithSL(m, 0) {
		t.Error("expected SL entry: small continuation after big start move")
	}

	// Note MTM 300000 exceeds the plain-entry VaR ceiling, so plain entry
	// is off while the SL variant fires.
	if r.ShouldEnter(m, 0) {
		t.Error("plain entry must be blocked above the VaR ceiling")
	}

	wide := m
	wide.MTM = 400_000
	wide.DaysHigh = 420_000
	if r.ShouldEnterWithSL(wide, 0) {
		t.Error("|MTM| at the window bound must block SL entry")
	}

	flat := m
	flat.StartMTM = 200_000
	if r.ShouldEnterWithSL(flat, 0) {
		t.Error("|start MTM| at the band bound must block SL entry")
	}
	flat.StartMTM = -250_000
	if !r.ShouldEnterWithSL(flat, 0) {
		t.Error("start MTM leaning short still qualifies via absolute value")
	}
}

func TestShouldExit(t *testing.T) {
	r := testRules()

	fresh := Metrics{MTM: 10_000, Count: 5, DaysHigh: 20_000, ResetMTM: 5_000}
	if r.ShouldExit(fresh, false) {
		t.Error("profitable fresh book must stay")
	}
	if !r.ShouldExit(Metrics{MTM: -1, DaysHigh: 100, ResetMTM: 10}, false) {
		t.Error("negative MTM exits a fresh book")
	}
	if !r.ShouldExit(Metrics{MTM: 10, DaysHigh: 100, ResetMTM: -1}, false) {
		t.Error("negative reset MTM exits a fresh book")
	}
	if !r.ShouldExit(Metrics{MTM: 750_001, DaysHigh: 750_001, ResetMTM: 10}, false) {
		t.Error("MTM above take profit exits a fresh book")
	}
	if r.ShouldExit(Metrics{MTM: 750_000, DaysHigh: 750_000, ResetMTM: 10}, false) {
		t.Error("take-profit boundary is exclusive")
	}

	// Carried-over small book: only a loss exits.
	small := Metrics{MTM: 10, Count: 20, DaysHigh: 100_000, ResetMTM: -50_000}
	if r.ShouldExit(small, true) {
		t.Error("on-going small book ignores reset MTM")
	}
	small.MTM = -10
	if !r.ShouldExit(small, true) {
		t.Error("on-going small book exits on loss")
	}

	// Carried-over large book: only the drawdown rule applies.
	large := Metrics{MTM: 60_000, Count: 21, DaysHigh: 100_000}
	if r.ShouldExit(large, true) {
		t.Error("on-going large book holding near its high must stay")
	}
	large.MTM = 49_000
	if !r.ShouldExit(large, true) {
		t.Error("on-going large book exits >50%% off the day's high")
	}
	// Any loss against a positive high is a full drawdown for a large book.
	large.MTM = -10
	if !r.ShouldExit(large, true) {
		t.Error("on-going large book exits on a loss via the drawdown rule")
	}

	// reset_mtm == 0 with a positive book: no exit (exact boundary).
	boundary := Metrics{MTM: 150_000, Count: 5, DaysHigh: 150_000, StartMTM: 150_000, ResetMTM: 0}
	if r.ShouldExit(boundary, false) {
		t.Error("zero reset MTM must not exit a fresh profitable book")
	}
}

func TestShouldReverse(t *testing.T) {
	r := testRules()
	inv := 15_000_000.0
	// level for count 4: 15000000 * 0.00015 * 4 = 9000.

	// Regime 1: profit given back hard since open.
	m := Metrics{MTM: 100_000, Count: 4, ResetMTM: -50_000}
	if !r.ShouldReverse(inv, m, 4) {
		t.Error("expected reversal: profit with hard give-back")
	}
	if r.ShouldReverse(inv, m, 5) {
		t.Error("fewer legs than the opposite side blocks reversal")
	}
	deep := m
	deep.ResetMTM = -180_000
	if r.ShouldReverse(inv, deep, 4) {
		t.Error("reset at the reversal VaR bound blocks regime 1")
	}
	rich := m
	rich.MTM = 360_000
	if r.ShouldReverse(inv, rich, 4) {
		t.Error("MTM at twice the reversal VaR blocks regime 1")
	}

	// Regime 2: small loss after a big swing.
	m2 := Metrics{MTM: -5_000, Count: 4, ResetMTM: -100_000}
	if !r.ShouldReverse(inv, m2, 4) {
		t.Error("expected reversal: small loss, big swing")
	}

	// Regime 3: moderate loss within bounds.
	m3 := Metrics{MTM: -50_000, Count: 4, ResetMTM: 0}
	if !r.ShouldReverse(inv, m3, 4) {
		t.Error("expected reversal: moderate loss within VaR")
	}
	m3.MTM = -180_000
	if r.ShouldReverse(inv, m3, 4) {
		t.Error("loss at the reversal VaR bound blocks regime 3")
	}
}

func TestShouldExitReverse(t *testing.T) {
	r := testRules()
	if !r.ShouldExitReverse(Metrics{MTM: 1, ResetMTM: 1}) {
		t.Error("both positive should exit the reversal")
	}
	if r.ShouldExitReverse(Metrics{MTM: 1, ResetMTM: 0}) {
		t.Error("zero reset MTM keeps the reversal")
	}
	if r.ShouldExitReverse(Metrics{MTM: -1, ResetMTM: 5}) {
		t.Error("negative MTM keeps the reversal")
	}
}

func TestStopLossAndHit(t *testing.T) {
	r := testRules()

	sl, ok := r.StopLoss(250_000, 300_000)
	if !ok || sl != 100_000 {
		t.Errorf("long-leaning stop = %v, %v; want 100000, true", sl, ok)
	}
	sl, ok = r.StopLoss(-250_000, -300_000)
	if !ok || sl != -100_000 {
		t.Errorf("short-leaning stop = %v, %v; want -100000, true", sl, ok)
	}
	if _, ok := r.StopLoss(100_000, 300_000); ok {
		t.Error("start MTM inside the band must not arm a stop")
	}

	pos := 100_000.0
	if !r.SLHit(&pos, 99_999) {
		t.Error("MTM below a positive stop trips it")
	}
	if r.SLHit(&pos, 100_000) {
		t.Error("MTM at the stop does not trip it")
	}
	neg := -100_000.0
	if !r.SLHit(&neg, -99_999) {
		t.Error("MTM above a negative stop trips it")
	}
	if r.SLHit(nil, -500_000) {
		t.Error("unarmed stop never trips")
	}
	if r.SLHit(&pos, 0) {
		t.Error("exactly zero MTM never trips")
	}
}

func TestShouldAddStopLoss(t *testing.T) {
	r := testRules()

	if r.ShouldAddStopLoss([]float64{300_000, 250_000}) {
		t.Error("fewer than three snapshots cannot arm a stop")
	}
	if !r.ShouldAddStopLoss([]float64{300_000, 250_000, 100_000}) {
		t.Error("big start plus in-window current MTM should arm a stop")
	}
	if r.ShouldAddStopLoss([]float64{300_000, 250_000, 600_000}) {
		t.Error("current MTM at the window edge must not arm a stop")
	}
	if r.ShouldAddStopLoss([]float64{100_000, 50_000, 10_000}) {
		t.Error("start inside the band must not arm a stop")
	}
}

// ---------------------------------------------------------------------------
// Document lifecycle
// ---------------------------------------------------------------------------

func TestDocNormalizeAndReset(t *testing.T) {
	doc := &Doc{}
	doc.Normalize()
	if doc.Long.Status != StatusExited || doc.Short.Status != StatusExited {
		t.Fatalf("fresh doc statuses = %s/%s, want EXITED/EXITED", doc.Long.Status, doc.Short.Status)
	}

	sl := 50_000.0
	doc.Long.Status = StatusEntered
	doc.Long.EntryCount = 2
	doc.Long.KillSwitch = true
	doc.Long.StopLoss = &sl
	doc.Long.Tracking = []float64{1, 2, 3}
	doc.Short.Status = StatusExited
	doc.Short.OnGoing = true
	doc.BannedStocks = []string{"SBIN"}

	doc.ResetForSession()

	if doc.Long.EntryCount != 0 || doc.Long.ExitCount != 0 || doc.Long.KillSwitch || doc.Long.StopLoss != nil || doc.Long.Tracking != nil {
		t.Errorf("long state not reset: %+v", doc.Long)
	}
	if !doc.Long.OnGoing {
		t.Error("entered side must be flagged on-going at reset")
	}
	if doc.Short.OnGoing {
		t.Error("exited side must not be on-going after reset")
	}
	if doc.BannedStocks != nil {
		t.Error("ban list must clear at reset")
	}
	// Statuses survive the reset.
	if doc.Long.Status != StatusEntered {
		t.Errorf("status must survive reset, got %s", doc.Long.Status)
	}
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

type fakeMarket struct {
	ltp     map[int64]float64
	prior   map[int64]float64
	instsBy map[int64]*domain.Instrument // stockID -> front instrument
	qty     int
}

func (f *fakeMarket) LTP(_ context.Context, id int64) (float64, error) {
	p, ok := f.ltp[id]
	if !ok {
		return 0, fmt.Errorf("no ltp for %d", id)
	}
	return p, nil
}

func (f *fakeMarket) PriorClose(_ context.Context, id int64) (float64, error) {
	p, ok := f.prior[id]
	if !ok {
		return 0, fmt.Errorf("no prior close for %d", id)
	}
	return p, nil
}

func (f *fakeMarket) FrontInstrument(_ context.Context, stockID int64) (*domain.Instrument, error) {
	inst, ok := f.instsBy[stockID]
	if !ok {
		return nil, fmt.Errorf("no instrument for stock %d", stockID)
	}
	return inst, nil
}

func (f *fakeMarket) Qty(_ context.Context, _ *domain.Instrument) (int, error) {
	return f.qty, nil
}

func (f *fakeMarket) PartialQty(_ context.Context, _ *domain.Instrument) (int, error) {
	return f.qty / 3, nil
}

func testPortfolio(m *fakeMarket, now time.Time) *Portfolio {
	p := NewPortfolio(m, m, m, slog.Default())
	p.SetClock(func() time.Time { return now })
	return p
}

func TestPortfolioOpensLegFromCall(t *testing.T) {
	now := time.Date(2026, 3, 9, 9, 20, 0, 0, time.UTC)
	m := &fakeMarket{
		ltp:     map[int64]float64{10: 2500},
		instsBy: map[int64]*domain.Instrument{1: {ID: 10, Symbol: "RELFUT"}},
		qty:     250,
	}
	p := testPortfolio(m, now)
	doc := NewDoc()

	calls := map[int64]Call{1: {StockID: 1, Ticker: "RELIANCE", Side: domain.SideBuy}}
	p.Save(context.Background(), doc, calls, false)

	if len(doc.Legs) != 1 {
		t.Fatalf("got %d legs, want 1", len(doc.Legs))
	}
	leg := doc.Legs[0]
	if leg.InstrumentID != 10 || leg.Side != domain.SideBuy || leg.Qty != 250 {
		t.Errorf("leg = %+v", leg)
	}
	if leg.EntryPrice != 2500 || leg.OldPrice != 2500 || leg.MTM != 0 {
		t.Errorf("fresh leg must baseline at its own fill with zero MTM: %+v", leg)
	}
	if !leg.Live() {
		t.Error("fresh leg must be live")
	}
}

func TestPortfolioClosesOnSignalFlip(t *testing.T) {
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	m := &fakeMarket{
		ltp:     map[int64]float64{10: 2400},
		instsBy: map[int64]*domain.Instrument{1: {ID: 10}},
		qty:     250,
	}
	p := testPortfolio(m, now)

	doc := NewDoc()
	doc.Legs = []Leg{{
		InstrumentID: 10, StockID: 1, Ticker: "RELIANCE",
		Side: domain.SideBuy, Qty: 250,
		EntryTime: now.Add(-30 * time.Minute), EntryPrice: 2500, OldPrice: 2500,
	}}

	// Signal flipped to SELL: the BUY leg closes, a SELL leg opens.
	calls := map[int64]Call{1: {StockID: 1, Ticker: "RELIANCE", Side: domain.SideSell}}
	p.Save(context.Background(), doc, calls, false)

	if len(doc.Legs) != 2 {
		t.Fatalf("got %d legs, want closed BUY + new SELL", len(doc.Legs))
	}
	closed := doc.Legs[0]
	if closed.Live() || closed.ExitPrice == nil || *closed.ExitPrice != 2400 {
		t.Errorf("closed leg = %+v", closed)
	}
	if closed.MTM != (2400-2500)*250 {
		t.Errorf("closed BUY MTM = %v, want -25000", closed.MTM)
	}
	opened := doc.Legs[1]
	if opened.Side != domain.SideSell || !opened.Live() {
		t.Errorf("new leg = %+v", opened)
	}
}

func TestPortfolioNoReopenSameDay(t *testing.T) {
	now := time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC)
	exitAt := now.Add(-time.Hour)
	exitPrice := 2400.0
	m := &fakeMarket{
		ltp:     map[int64]float64{10: 2450},
		instsBy: map[int64]*domain.Instrument{1: {ID: 10}},
		qty:     250,
	}
	p := testPortfolio(m, now)

	doc := NewDoc()
	doc.Legs = []Leg{{
		InstrumentID: 10, StockID: 1, Ticker: "RELIANCE",
		Side: domain.SideBuy, Qty: 250,
		EntryTime: now.Add(-2 * time.Hour), EntryPrice: 2500, OldPrice: 2500,
		ExitTime: &exitAt, ExitPrice: &exitPrice,
	}}

	// Signal swung back to BUY: the same-day exited leg blocks a reopen.
	calls := map[int64]Call{1: {StockID: 1, Ticker: "RELIANCE", Side: domain.SideBuy}}
	p.Save(context.Background(), doc, calls, false)

	if len(doc.Legs) != 1 {
		t.Fatalf("got %d legs, want just the exited one", len(doc.Legs))
	}
	if doc.Legs[0].Live() {
		t.Error("exited leg must stay exited")
	}
	// Its MTM stays priced at the exit fill, not the newer LTP.
	if doc.Legs[0].MTM != (2400-2500)*250 {
		t.Errorf("exited leg MTM = %v, want frozen at exit fill", doc.Legs[0].MTM)
	}
}

func TestPortfolioDropsPriorDayExits(t *testing.T) {
	now := time.Date(2026, 3, 9, 9, 20, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	exitPrice := 2400.0
	m := &fakeMarket{instsBy: map[int64]*domain.Instrument{}}
	p := testPortfolio(m, now)

	doc := NewDoc()
	doc.Legs = []Leg{{
		InstrumentID: 10, StockID: 1, Side: domain.SideBuy, Qty: 250,
		EntryTime: yesterday.Add(-time.Hour), ExitTime: &yesterday, ExitPrice: &exitPrice,
	}}

	p.Save(context.Background(), doc, map[int64]Call{}, false)
	if len(doc.Legs) != 0 {
		t.Errorf("prior-day exit must be dropped, got %d legs", len(doc.Legs))
	}
}

func TestPortfolioBannedStock(t *testing.T) {
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	m := &fakeMarket{
		ltp:     map[int64]float64{10: 2500, 20: 800},
		instsBy: map[int64]*domain.Instrument{1: {ID: 10}, 2: {ID: 20}},
		qty:     250,
	}
	p := testPortfolio(m, now)

	doc := NewDoc()
	doc.BannedStocks = []string{"SBIN"}
	doc.Legs = []Leg{{
		InstrumentID: 20, StockID: 2, Ticker: "SBIN",
		Side: domain.SideBuy, Qty: 750,
		EntryTime: now.Add(-time.Hour), EntryPrice: 800, OldPrice: 800,
	}}

	calls := map[int64]Call{
		1: {StockID: 1, Ticker: "RELIANCE", Side: domain.SideBuy},
		2: {StockID: 2, Ticker: "SBIN", Side: domain.SideBuy},
	}
	p.Save(context.Background(), doc, calls, false)

	var sbinLive, relOpened bool
	for _, leg := range doc.Legs {
		if leg.Ticker == "SBIN" && leg.Live() {
			sbinLive = true
		}
		if leg.StockID == 1 && leg.Live() {
			relOpened = true
		}
	}
	if sbinLive {
		t.Error("banned stock's leg must be closed even with a matching call")
	}
	if !relOpened {
		t.Error("unbanned call should still open")
	}
}

func TestPortfolioExitOnly(t *testing.T) {
	now := time.Date(2026, 3, 9, 15, 15, 0, 0, time.UTC)
	m := &fakeMarket{
		ltp:     map[int64]float64{10: 2500},
		instsBy: map[int64]*domain.Instrument{1: {ID: 10}},
		qty:     250,
	}
	p := testPortfolio(m, now)
	doc := NewDoc()

	calls := map[int64]Call{1: {StockID: 1, Ticker: "RELIANCE", Side: domain.SideBuy}}
	p.Save(context.Background(), doc, calls, true)

	if len(doc.Legs) != 0 {
		t.Errorf("exit-only must not open legs, got %d", len(doc.Legs))
	}
}

func TestMarkMTMFormula(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	m := &fakeMarket{
		ltp:   map[int64]float64{10: 2550},
		prior: map[int64]float64{10: 2480},
	}
	p := testPortfolio(m, now)

	// Same-day BUY leg: baseline is its own fill.
	buy := &Leg{InstrumentID: 10, Side: domain.SideBuy, Qty: 100, EntryTime: now.Add(-time.Hour), EntryPrice: 2500}
	if err := p.Mark(context.Background(), buy); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if buy.MTM != (2550-2500)*100 {
		t.Errorf("same-day BUY MTM = %v, want 5000", buy.MTM)
	}
	if buy.OldPrice != 2500 {
		t.Errorf("same-day baseline = %v, want entry fill", buy.OldPrice)
	}

	// Carried-over SELL leg: baseline is the prior close.
	sell := &Leg{InstrumentID: 10, Side: domain.SideSell, Qty: 100, EntryTime: now.AddDate(0, 0, -3), EntryPrice: 2500}
	if err := p.Mark(context.Background(), sell); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if sell.OldPrice != 2480 {
		t.Errorf("carried-over baseline = %v, want prior close 2480", sell.OldPrice)
	}
	if sell.MTM != (2480-2550)*100 {
		t.Errorf("carried-over SELL MTM = %v, want -7000", sell.MTM)
	}

	// Closed leg prices at its exit fill.
	exitAt := now.Add(-time.Minute)
	exitPrice := 2530.0
	closed := &Leg{InstrumentID: 10, Side: domain.SideBuy, Qty: 100, EntryTime: now.Add(-time.Hour), EntryPrice: 2500, ExitTime: &exitAt, ExitPrice: &exitPrice}
	if err := p.Mark(context.Background(), closed); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if closed.MTM != (2530-2500)*100 {
		t.Errorf("closed BUY MTM = %v, want 3000", closed.MTM)
	}
}

func TestUpdateMTMSkipsFailedLookups(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	m := &fakeMarket{ltp: map[int64]float64{10: 2550}}
	p := testPortfolio(m, now)

	doc := NewDoc()
	doc.Legs = []Leg{
		{InstrumentID: 10, Side: domain.SideBuy, Qty: 100, EntryTime: now.Add(-time.Hour), EntryPrice: 2500},
		{InstrumentID: 99, Side: domain.SideBuy, Qty: 100, EntryTime: now.Add(-time.Hour), EntryPrice: 900, MTM: 123},
	}
	p.UpdateMTM(context.Background(), doc)

	if doc.Legs[0].MTM != 5000 {
		t.Errorf("healthy leg MTM = %v, want 5000", doc.Legs[0].MTM)
	}
	// The failed lookup leaves the leg untouched rather than wedging the run.
	if doc.Legs[1].MTM != 123 {
		t.Errorf("failed leg MTM = %v, want unchanged 123", doc.Legs[1].MTM)
	}
}

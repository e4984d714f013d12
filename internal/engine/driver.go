package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
	"shadowdesk/internal/strategy"
)

// ShadowMode selects which shadow-book update runs this tick.
type ShadowMode string

const (
	ShadowCapture     ShadowMode = "SHADOW"       // reconcile the book against fresh signal calls
	ShadowMTM         ShadowMode = "SHADOW_MTM"   // re-mark existing legs only
	ShadowExitOnly    ShadowMode = "SHADOW_EXIT"  // reconcile but open no new legs
	ShadowNoop        ShadowMode = "NOOP"         // leave the book untouched
	ShadowValuesReset ShadowMode = "VALUES_RESET" // clear day-scoped state at session start
)

// TradeMode selects which real-trade decision runs this tick.
type TradeMode string

const (
	TradeModeNoop         TradeMode = "NOOP"
	TradeModeEntry        TradeMode = "ENTRY"
	TradeModeExit         TradeMode = "EXIT"
	TradeModeCheck        TradeMode = "SHADOWCHECK"
	TradeModeCheckExit    TradeMode = "SHADOWCHECKEXITONLY"
	TradeModeCheckReverse TradeMode = "SHADOWCHECKREVERSE"
	TradeModeShadowExit   TradeMode = "SHADOWEXIT"
)

// closeHistoryDays is how much daily history signals are fed.
const closeHistoryDays = 365

var bothSides = []domain.Side{domain.SideBuy, domain.SideSell}

// tradeHandlers dispatches a trade mode to its handler. A nil handler is a
// deliberate no-op; an absent key is a configuration error.
var tradeHandlers = map[TradeMode]func(*run, context.Context) error{
	TradeModeNoop:         nil,
	TradeModeEntry:        (*run).sessionEntry,
	TradeModeExit:         (*run).sessionExit,
	TradeModeCheck:        (*run).intradayCheck,
	TradeModeCheckExit:    (*run).intradayExitOnly,
	TradeModeCheckReverse: (*run).reversalCheck,
	TradeModeShadowExit:   (*run).shadowExit,
}

// DriverConfig wires a Driver for one algo.
type DriverConfig struct {
	Algo   string
	Group  string
	Signal strategy.Signal

	Ref      store.RefStore
	Quotes   store.QuoteStore
	Accounts store.AccountStore
	Docs     store.DocStore
	Trades   store.TradeStore

	Market  *Market
	Gateway *Gateway
	Rules   *shadow.Rules
	Log     *slog.Logger
}

// Driver runs the shadow state machine for every active subscription of one
// algo. Each tick is a stateless invocation: the scheduler supplies the
// (shadow mode, trade mode) pair for the current time slot and the driver
// loads, advances, and persists each subscription's shadow document.
type Driver struct {
	algo   string
	group  string
	signal strategy.Signal

	ref      store.RefStore
	quotes   store.QuoteStore
	accounts store.AccountStore
	docs     store.DocStore
	trades   store.TradeStore

	market  *Market
	gateway *Gateway
	rules   *shadow.Rules
	log     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewDriver builds a driver from its wiring.
func NewDriver(c DriverConfig) *Driver {
	return &Driver{
		algo:     c.Algo,
		group:    c.Group,
		signal:   c.Signal,
		ref:      c.Ref,
		quotes:   c.Quotes,
		accounts: c.Accounts,
		docs:     c.Docs,
		trades:   c.Trades,
		market:   c.Market,
		gateway:  c.Gateway,
		rules:    c.Rules,
		log:      c.Log.With("algo", c.Algo),
		now:      time.Now,
	}
}

// SetClock overrides the driver's notion of now, and propagates it to the
// market and gateway so the whole tick shares one clock.
func (d *Driver) SetClock(now func() time.Time) {
	d.now = now
	d.market.SetClock(now)
	d.gateway.SetClock(now)
}

// Run executes one tick for every active subscription of the driver's
// algo. A failing subscription is logged and skipped; it must not block the
// others.
func (d *Driver) Run(ctx context.Context, shadowMode ShadowMode, tradeMode TradeMode) error {
	if _, ok := tradeHandlers[tradeMode]; !ok {
		return fmt.Errorf("unknown trade mode %q", tradeMode)
	}

	var calls map[int64]shadow.Call
	if shadowMode == ShadowCapture || shadowMode == ShadowExitOnly {
		var err error
		calls, err = d.stockCalls(ctx)
		if err != nil {
			return err
		}
	}

	subs, err := d.accounts.ListSubscriptions(ctx, true)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Algo != d.algo {
			continue
		}
		if err := d.runOne(ctx, sub, shadowMode, tradeMode, calls); err != nil {
			d.log.Error("tick failed for subscription", "subscription", sub.ID, "error", err)
		}
	}
	return nil
}

// stockCalls evaluates the signal for every stock in the group. A stock
// whose data or signal fails is skipped; HOLD calls are dropped.
func (d *Driver) stockCalls(ctx context.Context) (map[int64]shadow.Call, error) {
	stocks, err := d.ref.GroupMembers(ctx, d.group)
	if err != nil {
		return nil, err
	}
	calls := make(map[int64]shadow.Call, len(stocks))
	for _, stock := range stocks {
		closes, err := d.market.DailyCloses(ctx, stock.Ticker, closeHistoryDays)
		if err != nil {
			d.log.Warn("no close history for stock", "ticker", stock.Ticker, "error", err)
			continue
		}
		price, err := d.stockPrice(ctx, stock.ID)
		if err != nil {
			d.log.Warn("no live price for stock", "ticker", stock.Ticker, "error", err)
			continue
		}
		call, err := d.signal.Evaluate(closes, price)
		if err != nil {
			d.log.Warn("signal failed for stock", "ticker", stock.Ticker, "error", err)
			continue
		}
		side, ok := call.Side()
		if !ok {
			continue
		}
		calls[stock.ID] = shadow.Call{StockID: stock.ID, Ticker: stock.Ticker, Side: side}
	}
	return calls, nil
}

// stockPrice is the live price of the stock's front contract.
func (d *Driver) stockPrice(ctx context.Context, stockID int64) (float64, error) {
	inst, err := d.market.FrontInstrument(ctx, stockID)
	if err != nil {
		return 0, err
	}
	return d.quotes.LTP(ctx, inst.ID)
}

// loadDoc reads the subscription's shadow document, creating a fresh one on
// first run.
func (d *Driver) loadDoc(ctx context.Context, subscriptionID int64) (*shadow.Doc, error) {
	return loadDocFrom(ctx, d.docs, subscriptionID)
}

func loadDocFrom(ctx context.Context, docs store.DocStore, subscriptionID int64) (*shadow.Doc, error) {
	raw, err := docs.GetDoc(ctx, subscriptionID, shadow.DocKey)
	if errors.Is(err, store.ErrNotFound) {
		return shadow.NewDoc(), nil
	}
	if err != nil {
		return nil, err
	}
	doc := &shadow.Doc{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decoding shadow document: %w", err)
	}
	doc.Normalize()
	return doc, nil
}

// runOne advances one subscription through the tick: shadow phase, metric
// snapshot, trade phase, then a single write-back of the whole document.
func (d *Driver) runOne(ctx context.Context, sub domain.Subscription, shadowMode ShadowMode, tradeMode TradeMode, calls map[int64]shadow.Call) error {
	doc, err := d.loadDoc(ctx, sub.ID)
	if err != nil {
		return err
	}

	sizer := NewLotSizer(d.accounts, d.ref, d.quotes, sub.ID, d.group)
	portfolio := shadow.NewPortfolio(d.market, d.market, sizer, d.log)
	portfolio.SetClock(d.now)

	switch shadowMode {
	case ShadowCapture:
		portfolio.Save(ctx, doc, calls, false)
	case ShadowMTM:
		portfolio.UpdateMTM(ctx, doc)
	case ShadowExitOnly:
		portfolio.Save(ctx, doc, calls, true)
	}

	long, short := shadow.Compute(doc)
	if shadowMode != ShadowNoop {
		doc.Track(long.MTM, short.MTM)
	}
	if shadowMode == ShadowValuesReset {
		doc.ResetForSession()
	}

	investment, err := d.accounts.Investment(ctx, sub.ID)
	if err != nil {
		return err
	}

	if handler := tradeHandlers[tradeMode]; handler != nil {
		acct, err := d.accounts.GetAccount(ctx, sub.AccountID)
		if err != nil {
			return err
		}
		r := &run{
			d:          d,
			sub:        &sub,
			acct:       acct,
			doc:        doc,
			sizer:      sizer,
			investment: investment,
			long:       long,
			short:      short,
		}
		if err := handler(r, ctx); err != nil {
			return err
		}
	}

	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return d.docs.PutDoc(ctx, sub.ID, shadow.DocKey, buf)
}

// run is the per-subscription context for one tick's trade phase.
type run struct {
	d          *Driver
	sub        *domain.Subscription
	acct       *domain.Account
	doc        *shadow.Doc
	sizer      *LotSizer
	investment float64
	long       shadow.Metrics
	short      shadow.Metrics
}

func (r *run) metrics(side domain.Side) shadow.Metrics {
	if side == domain.SideBuy {
		return r.long
	}
	return r.short
}

// indexExited reports whether the opening-gap check has forced this side
// flat for the day.
func (r *run) indexExited(side domain.Side) bool {
	if side == domain.SideBuy {
		return r.acct.LongIndexExit
	}
	return r.acct.ShortIndexExit
}

// stopPtr boxes a stop level, or clears it when no stop applies.
func stopPtr(level float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &level
}

// sessionEntry is the once-a-day ENTRY decision shortly after open. An
// entered side is either closed out or refreshed against the shadow book; an
// exited side may enter, plainly or with a stop armed. Entries taken here do
// not count against the intraday re-entry cap.
func (r *run) sessionEntry(ctx context.Context) error {
	rules := r.d.rules
	for _, side := range bothSides {
		st := r.doc.State(side)
		m := r.metrics(side)
		if r.indexExited(side) {
			if st.Status != shadow.StatusExited {
				if err := r.exitAll(ctx, side); err != nil {
					return err
				}
				st.Status = shadow.StatusExited
			}
			continue
		}
		switch {
		case st.Status == shadow.StatusEntered && rules.ShouldExit(m, st.OnGoing):
			if err := r.exitAll(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
		case st.Status == shadow.StatusEntered:
			if err := r.exitStale(ctx, side); err != nil {
				return err
			}
			if err := r.enterFromShadow(ctx, side, false); err != nil {
				return err
			}
		case st.Status == shadow.StatusExited && rules.ShouldEnter(m, st.EntryCount):
			if err := r.enterFromShadow(ctx, side, false); err != nil {
				return err
			}
			st.Status = shadow.StatusEntered
		case st.Status == shadow.StatusExited && rules.ShouldEnterWithSL(m, st.EntryCount):
			if err := r.enterFromShadow(ctx, side, false); err != nil {
				return err
			}
			st.Status = shadow.StatusEnteredSL
			st.StopLoss = stopPtr(rules.StopLoss(m.StartMTM, m.MTM))
		}
	}
	return nil
}

// intradayCheck is the every-fifteen-minutes SHADOWCHECK: entered sides are
// tested for exit (stop-loss entries also against their stop), exited sides
// for re-entry unless kill-switched or index-exited. Transitions here move
// the intraday entry/exit counters.
func (r *run) intradayCheck(ctx context.Context) error {
	rules := r.d.rules
	for _, side := range bothSides {
		st := r.doc.State(side)
		m := r.metrics(side)
		switch {
		case st.Status == shadow.StatusEntered && rules.ShouldExit(m, st.OnGoing):
			if err := r.exitAll(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
			st.ExitCount++
			st.OnGoing = false
		case st.Status == shadow.StatusEnteredSL &&
			(rules.ShouldExit(m, st.OnGoing) || rules.SLHit(st.StopLoss, m.MTM)):
			if err := r.exitAll(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
			st.ExitCount++
			st.OnGoing = false
		case st.Status == shadow.StatusExited && !st.KillSwitch && !r.indexExited(side) && rules.ShouldEnter(m, st.EntryCount):
			if err := r.enterFromShadow(ctx, side, false); err != nil {
				return err
			}
			st.Status = shadow.StatusEntered
			st.EntryCount++
		case st.Status == shadow.StatusExited && !st.KillSwitch && !r.indexExited(side) && rules.ShouldEnterWithSL(m, st.EntryCount):
			if err := r.enterFromShadow(ctx, side, false); err != nil {
				return err
			}
			st.Status = shadow.StatusEnteredSL
			st.StopLoss = stopPtr(rules.StopLoss(m.StartMTM, m.MTM))
			st.EntryCount++
		}
	}
	return nil
}

// intradayExitOnly is the late-afternoon wind-down: no new entries, exits
// only. Plain exits here do not move the exit counter; stop-loss exits do.
func (r *run) intradayExitOnly(ctx context.Context) error {
	rules := r.d.rules
	for _, side := range bothSides {
		st := r.doc.State(side)
		m := r.metrics(side)
		switch {
		case st.Status == shadow.StatusEntered && rules.ShouldExit(m, st.OnGoing):
			if err := r.exitAll(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
			st.OnGoing = false
		case st.Status == shadow.StatusEnteredSL &&
			(rules.ShouldExit(m, st.OnGoing) || rules.SLHit(st.StopLoss, m.MTM)):
			if err := r.exitAll(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
			st.ExitCount++
			st.OnGoing = false
		}
	}
	return nil
}

// reversalCheck flips a side whose momentum has firmly turned: its real
// positions are closed and re-entered on the opposite side with a stop
// armed off the worse of MTM and reset MTM. A reversed side comes off once
// both measures turn positive, or on its stop.
func (r *run) reversalCheck(ctx context.Context) error {
	rules := r.d.rules
	for _, side := range bothSides {
		st := r.doc.State(side)
		m := r.metrics(side)
		opposite := r.metrics(side.Opposite())
		switch {
		case st.Status != shadow.StatusReversed && rules.ShouldReverse(r.investment, m, opposite.Count):
			st.StopLoss = stopPtr(rules.StopLoss(math.Min(m.MTM, m.ResetMTM), m.MTM))
			if err := r.exitAll(ctx, side); err != nil {
				return err
			}
			if err := r.enterReverse(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusReversed
		case st.Status == shadow.StatusReversed &&
			(rules.ShouldExitReverse(m) || rules.SLHit(st.StopLoss, m.MTM)):
			if err := r.exitReversed(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
		}
	}
	return nil
}

// sessionExit is the end-of-day EXIT: reversed and stop-loss sides always
// come off, entered sides only when the exit rule fires, and any real
// position no longer represented in the shadow book is closed.
func (r *run) sessionExit(ctx context.Context) error {
	rules := r.d.rules
	for _, side := range bothSides {
		st := r.doc.State(side)
		m := r.metrics(side)
		switch st.Status {
		case shadow.StatusReversed:
			if err := r.exitReversed(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
		case shadow.StatusEnteredSL:
			if err := r.exitAll(ctx, side); err != nil {
				return err
			}
			st.Status = shadow.StatusExited
		case shadow.StatusEntered:
			if rules.ShouldExit(m, st.OnGoing) {
				if err := r.exitAll(ctx, side); err != nil {
					return err
				}
				st.Status = shadow.StatusExited
			}
		}
	}
	return r.shadowExit(ctx)
}

// shadowExit closes every real position whose shadow leg is gone.
func (r *run) shadowExit(ctx context.Context) error {
	for _, side := range bothSides {
		if err := r.exitStale(ctx, side); err != nil {
			return err
		}
	}
	return nil
}

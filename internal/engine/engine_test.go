package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"shadowdesk/internal/config"
	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
	"shadowdesk/internal/util"
)

// testNow is a Wednesday, mid-session.
var testNow = time.Date(2026, time.September, 2, 11, 0, 0, 0, util.IST)

const (
	testAlgo  = "shadow"
	testGroup = "testuniverse"
)

// staticSignal always answers the same call.
type staticSignal struct {
	call domain.Call
}

func (s staticSignal) Name() string { return "static" }

func (s staticSignal) Evaluate([]float64, float64) (domain.Call, error) {
	return s.call, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// env is a full driver wired over real stores in a temp dir.
type env struct {
	t   *testing.T
	ctx context.Context

	db      *store.SQLiteStore
	bars    *store.ParquetStore
	market  *Market
	gateway *Gateway
	driver  *Driver

	account domain.Account
	sub     domain.Subscription
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bars := store.NewParquetStore(t.TempDir())
	cal := util.NewTradingCalendar()
	market := NewMarket(db, db, bars, cal)
	gateway := NewGateway(db, db, nil, discardLogger())

	e := &env{
		t:       t,
		ctx:     ctx,
		db:      db,
		bars:    bars,
		market:  market,
		gateway: gateway,
	}

	e.account = domain.Account{Name: "test account", StartDate: testNow}
	if err := db.SaveAccount(ctx, &e.account); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	e.sub = domain.Subscription{
		AccountID: e.account.ID,
		Algo:      testAlgo,
		Active:    true,
		StartDate: testNow,
	}
	if err := db.SaveSubscription(ctx, &e.sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	if err := db.SetInvestment(ctx, e.sub.ID, 15_000_000); err != nil {
		t.Fatalf("SetInvestment: %v", err)
	}

	e.driver = NewDriver(DriverConfig{
		Algo:     testAlgo,
		Group:    testGroup,
		Signal:   staticSignal{call: domain.CallHold},
		Ref:      db,
		Quotes:   db,
		Accounts: db,
		Docs:     db,
		Trades:   db,
		Market:   market,
		Gateway:  gateway,
		Rules:    shadow.NewRules(config.Defaults()),
		Log:      discardLogger(),
	})
	e.driver.SetClock(func() time.Time { return testNow })
	return e
}

// addContract seeds a stock, its front contract expiring later this month,
// group membership, and a live quote. Returns the hydrated instrument.
func (e *env) addContract(ticker string, lotSize int, price float64) *domain.Instrument {
	e.t.Helper()
	stock := &domain.Stock{Ticker: ticker}
	if err := e.db.UpsertStock(e.ctx, stock); err != nil {
		e.t.Fatalf("UpsertStock: %v", err)
	}
	fut := &domain.Future{
		StockID: stock.ID,
		Expiry:  time.Date(2026, time.September, 24, 0, 0, 0, 0, util.IST),
		LotSize: lotSize,
	}
	if err := e.db.UpsertFuture(e.ctx, fut); err != nil {
		e.t.Fatalf("UpsertFuture: %v", err)
	}
	inst := &domain.Instrument{Symbol: ticker + "26SEPFUT", Stock: stock, Future: fut}
	if err := e.db.UpsertInstrument(e.ctx, inst); err != nil {
		e.t.Fatalf("UpsertInstrument: %v", err)
	}
	if err := e.db.AddToGroup(e.ctx, testGroup, []int64{stock.ID}); err != nil {
		e.t.Fatalf("AddToGroup: %v", err)
	}
	e.setPrice(inst.ID, price)
	return inst
}

func (e *env) setPrice(instrumentID int64, price float64) {
	e.t.Helper()
	err := e.db.SaveQuotes(e.ctx, []domain.Quote{
		{InstrumentID: instrumentID, Price: price, Timestamp: testNow},
	})
	if err != nil {
		e.t.Fatalf("SaveQuotes: %v", err)
	}
}

func (e *env) putShadowDoc(doc *shadow.Doc) {
	e.t.Helper()
	buf, err := json.Marshal(doc)
	if err != nil {
		e.t.Fatalf("marshal doc: %v", err)
	}
	if err := e.db.PutDoc(e.ctx, e.sub.ID, shadow.DocKey, buf); err != nil {
		e.t.Fatalf("PutDoc: %v", err)
	}
}

func (e *env) shadowDoc() *shadow.Doc {
	e.t.Helper()
	doc, err := loadDocFrom(e.ctx, e.db, e.sub.ID)
	if err != nil {
		e.t.Fatalf("loadDocFrom: %v", err)
	}
	return doc
}

func (e *env) activePositions() []domain.Position {
	e.t.Helper()
	positions, err := e.db.ListPositions(e.ctx, e.sub.ID, true)
	if err != nil {
		e.t.Fatalf("ListPositions: %v", err)
	}
	return positions
}

// liveLeg is an open shadow leg entered earlier today.
func liveLeg(inst *domain.Instrument, side domain.Side, qty int, mtm float64) shadow.Leg {
	return shadow.Leg{
		InstrumentID: inst.ID,
		StockID:      inst.Stock.ID,
		Ticker:       inst.Stock.Ticker,
		Side:         side,
		Qty:          qty,
		EntryTime:    testNow.Add(-90 * time.Minute),
		EntryPrice:   1000,
		OldPrice:     1000,
		MTM:          mtm,
	}
}

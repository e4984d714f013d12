// Package domain defines the core entities shared across the shadowdesk
// platform: instruments and their futures, accounts and subscriptions,
// executed trades, real positions, and market data bars.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a trade or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide converts a string into a Side, accepting any casing.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// Call is a strategy's directional opinion on a stock.
type Call string

const (
	CallBuy  Call = "BUY"
	CallSell Call = "SELL"
	CallHold Call = "HOLD"
)

// Side converts a directional call into a trade side. The second return
// value is false for HOLD (and anything unrecognised).
func (c Call) Side() (Side, bool) {
	switch c {
	case CallBuy:
		return SideBuy, true
	case CallSell:
		return SideSell, true
	}
	return "", false
}

// Stock is a listed equity or index underlying.
type Stock struct {
	ID      int64  `json:"id"`
	Ticker  string `json:"ticker"`
	Name    string `json:"name"`
	ISIN    string `json:"isin"`
	IsIndex bool   `json:"is_index"`
}

// Future is a dated futures contract on a stock.
type Future struct {
	ID      int64     `json:"id"`
	StockID int64     `json:"stock_id"`
	Expiry  time.Time `json:"expiry"`
	LotSize int       `json:"lot_size"`
}

// Instrument is a tradeable: either a cash instrument on a stock or a
// futures contract. Stock is always the underlying; Future is nil for cash
// instruments.
type Instrument struct {
	ID     int64   `json:"id"`
	Symbol string  `json:"symbol"`
	Stock  *Stock  `json:"stock,omitempty"`
	Future *Future `json:"future,omitempty"`
}

// Quote is the latest traded price for an instrument.
type Quote struct {
	InstrumentID int64     `json:"instrument_id"`
	Price        float64   `json:"price"`
	Timestamp    time.Time `json:"timestamp"`
}

// Bar is one OHLCV bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Account is a client account enrolled in one or more algos. The four flag
// fields are operational circuit breakers: the kill switches suppress new
// entries on a side across every subscription of the account, and the index
// exit flags are raised by the opening-gap check to force one side flat.
type Account struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	StartDate       time.Time `json:"start_date"`
	KillSwitchLong  bool      `json:"kill_switch_long"`
	KillSwitchShort bool      `json:"kill_switch_short"`
	LongIndexExit   bool      `json:"long_index_exit"`
	ShortIndexExit  bool      `json:"short_index_exit"`
}

// Subscription is an account's enrollment in a trading algo.
type Subscription struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Algo      string    `json:"algo"`
	IsHedge   bool      `json:"is_hedge"`
	Active    bool      `json:"active"`
	StartDate time.Time `json:"start_date"`
}

// Trade is an immutable executed leg.
type Trade struct {
	ID             string    `json:"id"`
	SubscriptionID int64     `json:"subscription_id"`
	InstrumentID   int64     `json:"instrument_id"`
	Timestamp      time.Time `json:"timestamp"`
	Side           Side      `json:"side"`
	Qty            int       `json:"qty"`
	Price          float64   `json:"price"`
}

// Position is an authoritative real holding. BuyPrice/SellPrice are set as
// the respective sides fill; EODPrice is the last end-of-day snapshot price.
type Position struct {
	ID             string    `json:"id"`
	SubscriptionID int64     `json:"subscription_id"`
	InstrumentID   int64     `json:"instrument_id"`
	Qty            int       `json:"qty"`
	Side           Side      `json:"side"`
	BuyPrice       *float64  `json:"buy_price,omitempty"`
	SellPrice      *float64  `json:"sell_price,omitempty"`
	EODPrice       *float64  `json:"eod_price,omitempty"`
	Charges        float64   `json:"charges"`
	PnL            float64   `json:"pnl"`
	Active         bool      `json:"active"`
	Reversal       bool      `json:"reversal"`
	OpenedAt       time.Time `json:"opened_at"`
}

// TradeExit links a position's entry trade with its eventual exit trade.
// ExitTradeID is empty while the position is open.
type TradeExit struct {
	ID           int64  `json:"id"`
	EntryTradeID string `json:"entry_trade_id"`
	ExitTradeID  string `json:"exit_trade_id,omitempty"`
	PositionID   string `json:"position_id"`
}

// PnLSnapshot is a per-account end-of-day P&L row.
type PnLSnapshot struct {
	AccountID     int64     `json:"account_id"`
	Date          time.Time `json:"date"`
	Investment    float64   `json:"investment"`
	UnrealisedPnL float64   `json:"unrealised_pnl"`
	RealisedPnL   float64   `json:"realised_pnl"`
}

// Day truncates t to its calendar date in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Package store defines storage interfaces for persisting and retrieving
// domain objects: instruments and quotes, accounts and subscriptions, per
// subscription JSON documents, real trades and positions, P&L snapshots,
// and daily bar history.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shadowdesk/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// RefStore persists reference data: stocks, futures, instruments, and named
// stock groups (trading universes, ban lists).
type RefStore interface {
	// UpsertStock inserts or updates a stock keyed by ticker, filling the ID.
	UpsertStock(ctx context.Context, s *domain.Stock) error

	// GetStockByTicker retrieves a stock by its exchange ticker.
	GetStockByTicker(ctx context.Context, ticker string) (*domain.Stock, error)

	// UpsertFuture inserts or updates a contract keyed by (stock, expiry).
	UpsertFuture(ctx context.Context, f *domain.Future) error

	// UpsertInstrument inserts or updates an instrument keyed by symbol.
	UpsertInstrument(ctx context.Context, inst *domain.Instrument) error

	// GetInstrument retrieves an instrument with its stock and future.
	GetInstrument(ctx context.Context, id int64) (*domain.Instrument, error)

	// InstrumentBySymbol retrieves an instrument by its trading symbol.
	InstrumentBySymbol(ctx context.Context, symbol string) (*domain.Instrument, error)

	// FutureInstrument returns the instrument for the contract on stockID
	// expiring at expiry.
	FutureInstrument(ctx context.Context, stockID int64, expiry time.Time) (*domain.Instrument, error)

	// FrontInstrument returns the instrument for the nearest contract on
	// stockID expiring strictly after the given day.
	FrontInstrument(ctx context.Context, stockID int64, after time.Time) (*domain.Instrument, error)

	// NextFutureInstrument returns the instrument for the earliest contract
	// on the same underlying expiring strictly after the given instrument's
	// contract. Used on rollover day.
	NextFutureInstrument(ctx context.Context, instrumentID int64) (*domain.Instrument, error)

	// ReplaceGroup sets the membership of a named stock group.
	ReplaceGroup(ctx context.Context, name string, stockIDs []int64) error

	// AddToGroup adds members to a named group, creating it if needed.
	AddToGroup(ctx context.Context, name string, stockIDs []int64) error

	// GroupMembers returns the stocks in the named group, or empty if the
	// group does not exist.
	GroupMembers(ctx context.Context, name string) ([]domain.Stock, error)
}

// QuoteStore persists last traded prices.
type QuoteStore interface {
	// SaveQuotes upserts the latest price per instrument.
	SaveQuotes(ctx context.Context, quotes []domain.Quote) error

	// LTP returns the last traded price for an instrument.
	LTP(ctx context.Context, instrumentID int64) (float64, error)

	// LTPs returns last traded prices for a set of instruments. Missing
	// instruments are simply absent from the result.
	LTPs(ctx context.Context, instrumentIDs []int64) (map[int64]float64, error)
}

// AccountStore persists accounts, their algo subscriptions, and per
// subscription capital allocations.
type AccountStore interface {
	SaveAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)

	// SetAccountFlags persists the circuit-breaker flags of an account.
	SetAccountFlags(ctx context.Context, a *domain.Account) error

	SaveSubscription(ctx context.Context, s *domain.Subscription) error
	GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error)

	// ListSubscriptions returns subscriptions, optionally only active ones.
	ListSubscriptions(ctx context.Context, onlyActive bool) ([]domain.Subscription, error)

	// ListAccountSubscriptions returns an account's subscriptions.
	ListAccountSubscriptions(ctx context.Context, accountID int64, onlyActive bool) ([]domain.Subscription, error)

	// SetInvestment records the capital allocated to a subscription.
	SetInvestment(ctx context.Context, subscriptionID int64, amount float64) error

	// Investment returns the capital allocated to a subscription.
	Investment(ctx context.Context, subscriptionID int64) (float64, error)
}

// DocStore persists per-subscription JSON documents keyed by name. The
// shadow book, split baskets, and basket metadata live here; each tick loads
// the document, mutates it, and writes it back whole.
type DocStore interface {
	// GetDoc returns the raw document, or ErrNotFound.
	GetDoc(ctx context.Context, subscriptionID int64, key string) (json.RawMessage, error)

	// PutDoc replaces the document.
	PutDoc(ctx context.Context, subscriptionID int64, key string, doc json.RawMessage) error
}

// TradeStore persists executed trades, real positions, and the entry/exit
// trade pairing.
type TradeStore interface {
	SaveTrade(ctx context.Context, t *domain.Trade) error

	// SavePosition inserts or replaces a position by ID.
	SavePosition(ctx context.Context, p *domain.Position) error

	GetPosition(ctx context.Context, id string) (*domain.Position, error)

	// ListPositions returns a subscription's positions, optionally only
	// active ones, ordered by open time.
	ListPositions(ctx context.Context, subscriptionID int64, onlyActive bool) ([]domain.Position, error)

	// CountActivePositions returns how many positions are open for the
	// subscription.
	CountActivePositions(ctx context.Context, subscriptionID int64) (int, error)

	// SaveTradeExit records an entry trade awaiting its exit, or completes
	// the pair once the exit fills.
	SaveTradeExit(ctx context.Context, te *domain.TradeExit) error

	// OpenTradeExits returns the pairs for a position that still lack an
	// exit trade.
	OpenTradeExits(ctx context.Context, positionID string) ([]domain.TradeExit, error)

	// ListTrades returns a subscription's trades within [start, end].
	ListTrades(ctx context.Context, subscriptionID int64, start, end time.Time) ([]domain.Trade, error)
}

// PnLStore persists end-of-day account P&L snapshots.
type PnLStore interface {
	SavePnL(ctx context.Context, snap *domain.PnLSnapshot) error
	ListPnL(ctx context.Context, accountID int64, start, end time.Time) ([]domain.PnLSnapshot, error)
}

// BarStore persists daily OHLCV history.
type BarStore interface {
	// WriteBars persists a batch of daily bars.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// CloseOn returns the closing price for symbol on the given trading
	// day, or ErrNotFound if no bar exists for that date.
	CloseOn(ctx context.Context, symbol string, day time.Time) (float64, error)

	// ListSymbols returns all symbols with stored history.
	ListSymbols(ctx context.Context) ([]string, error)
}

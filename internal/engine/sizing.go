package engine

import (
	"context"
	"fmt"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
)

// Compile-time interface check.
var _ shadow.Sizer = (*LotSizer)(nil)

const (
	// nifty50Group sizes against a fixed divisor rather than the group's
	// actual membership.
	nifty50Group   = "Nifty50"
	nifty50Divisor = 40

	// oneLotInvestment is the capital level that trades exactly one lot
	// per stock regardless of price.
	oneLotInvestment = 5_000_000

	// perStockMultiple scales the per-stock allocation: five times the
	// equal-weight share, plus a 10% margin headroom.
	perStockMultiple = 5
	perStockHeadroom = 1.10

	// partialDivisor shrinks the book for partial entries.
	partialDivisor = 3
)

// LotSizer computes futures order quantities from a subscription's capital:
// the capital is split across the stock group, levered, and rounded down to
// whole lots.
type LotSizer struct {
	accounts store.AccountStore
	ref      store.RefStore
	quotes   store.QuoteStore

	subscriptionID int64
	group          string
}

// NewLotSizer builds a sizer for one subscription trading one stock group.
func NewLotSizer(accounts store.AccountStore, ref store.RefStore, quotes store.QuoteStore, subscriptionID int64, group string) *LotSizer {
	return &LotSizer{
		accounts:       accounts,
		ref:            ref,
		quotes:         quotes,
		subscriptionID: subscriptionID,
		group:          group,
	}
}

// perStock returns the rupee allocation for a single stock.
func (s *LotSizer) perStock(ctx context.Context, investment float64) (float64, error) {
	divisor := nifty50Divisor
	if s.group != nifty50Group {
		members, err := s.ref.GroupMembers(ctx, s.group)
		if err != nil {
			return 0, err
		}
		if len(members) == 0 {
			return 0, fmt.Errorf("stock group %q is empty", s.group)
		}
		divisor = len(members)
	}
	return investment * perStockMultiple / float64(divisor) * perStockHeadroom, nil
}

// Qty is the full allocation for one contract, in lot-size multiples. At
// the one-lot investment level it is always exactly one lot.
func (s *LotSizer) Qty(ctx context.Context, inst *domain.Instrument) (int, error) {
	if inst.Future == nil {
		return 0, fmt.Errorf("instrument %d (%s) has no futures contract", inst.ID, inst.Symbol)
	}
	investment, err := s.accounts.Investment(ctx, s.subscriptionID)
	if err != nil {
		return 0, err
	}
	if investment == oneLotInvestment {
		return inst.Future.LotSize, nil
	}
	perStock, err := s.perStock(ctx, investment)
	if err != nil {
		return 0, err
	}
	price, err := s.quotes.LTP(ctx, inst.ID)
	if err != nil {
		return 0, err
	}
	lot := inst.Future.LotSize
	return int(perStock/(float64(lot)*price)) * lot, nil
}

// PartialQty sizes against a third of the capital and never returns less
// than one lot.
func (s *LotSizer) PartialQty(ctx context.Context, inst *domain.Instrument) (int, error) {
	if inst.Future == nil {
		return 0, fmt.Errorf("instrument %d (%s) has no futures contract", inst.ID, inst.Symbol)
	}
	investment, err := s.accounts.Investment(ctx, s.subscriptionID)
	if err != nil {
		return 0, err
	}
	perStock, err := s.perStock(ctx, investment/partialDivisor)
	if err != nil {
		return 0, err
	}
	price, err := s.quotes.LTP(ctx, inst.ID)
	if err != nil {
		return 0, err
	}
	lot := inst.Future.LotSize
	lots := int(perStock / (float64(lot) * price))
	if lots < 1 {
		lots = 1
	}
	return lots * lot, nil
}

package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"shadowdesk/internal/broker"
	"shadowdesk/internal/domain"
	"shadowdesk/internal/store"
)

// Charges is the statutory cost of one fill: brokerage, STT (sell side),
// exchange transaction charge, stamp duty (buy side), SEBI turnover fee,
// and GST on the service components.
func Charges(qty int, price float64, side domain.Side) float64 {
	value := math.Abs(float64(qty)) * price
	brokerage := 0.0001 * value
	var stt float64
	if side == domain.SideSell {
		stt = 0.000125 * value
	}
	exchange := 0.000019 * value
	var stampDuty float64
	if side == domain.SideBuy {
		stampDuty = 0.00002 * value
	}
	sebi := (value / 10000000) * 10
	gst := 0.18 * (brokerage + sebi + exchange)
	return brokerage + stt + exchange + stampDuty + sebi + gst
}

// Gateway turns rule decisions into executed, persisted trades: every entry
// books a Trade, an active Position, and an open TradeExit pair; every exit
// books the closing Trade, completes the pair, and realises the position's
// P&L net of round-trip charges.
type Gateway struct {
	trades store.TradeStore
	ref    store.RefStore
	broker broker.Broker
	log    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewGateway builds a gateway. A nil broker books trades at the reference
// price without routing them anywhere.
func NewGateway(trades store.TradeStore, ref store.RefStore, b broker.Broker, log *slog.Logger) *Gateway {
	return &Gateway{
		trades: trades,
		ref:    ref,
		broker: b,
		log:    log,
		now:    time.Now,
	}
}

// SetClock overrides the gateway's notion of now.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// Entry opens a real position. A zero qty is a silent no-op so undersized
// allocations never reach the broker.
func (g *Gateway) Entry(ctx context.Context, sub *domain.Subscription, inst *domain.Instrument, qty int, side domain.Side, price float64, reversal bool) (*domain.Trade, error) {
	if qty == 0 {
		return nil, nil
	}
	if g.broker != nil {
		fill, err := g.broker.PlaceOrder(ctx, broker.Order{
			Symbol:   inst.Symbol,
			Side:     side,
			Qty:      qty,
			RefPrice: price,
		})
		if err != nil {
			return nil, err
		}
		price = fill.Price
	}

	now := g.now()
	trade := &domain.Trade{
		ID:             ulid.Make().String(),
		SubscriptionID: sub.ID,
		InstrumentID:   inst.ID,
		Timestamp:      now,
		Side:           side,
		Qty:            qty,
		Price:          price,
	}
	if err := g.trades.SaveTrade(ctx, trade); err != nil {
		return nil, err
	}

	pos := &domain.Position{
		ID:             ulid.Make().String(),
		SubscriptionID: sub.ID,
		InstrumentID:   inst.ID,
		Qty:            qty,
		Side:           side,
		Charges:        Charges(qty, price, side),
		Active:         true,
		Reversal:       reversal,
		OpenedAt:       now,
	}
	p := price
	if side == domain.SideBuy {
		pos.BuyPrice = &p
	} else {
		pos.SellPrice = &p
	}
	if err := g.trades.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	if err := g.trades.SaveTradeExit(ctx, &domain.TradeExit{
		EntryTradeID: trade.ID,
		PositionID:   pos.ID,
	}); err != nil {
		return nil, err
	}

	g.log.Info("entered position",
		"subscription", sub.ID, "instrument", inst.Symbol,
		"side", side, "qty", qty, "price", price, "reversal", reversal)
	return trade, nil
}

// Exit closes a real position at the given price, completing its open
// entry/exit pairs and realising P&L.
func (g *Gateway) Exit(ctx context.Context, pos *domain.Position, price float64) (*domain.Trade, error) {
	side := pos.Side.Opposite()
	if g.broker != nil {
		inst, err := g.ref.GetInstrument(ctx, pos.InstrumentID)
		if err != nil {
			return nil, err
		}
		fill, err := g.broker.PlaceOrder(ctx, broker.Order{
			Symbol:   inst.Symbol,
			Side:     side,
			Qty:      pos.Qty,
			RefPrice: price,
		})
		if err != nil {
			return nil, err
		}
		price = fill.Price
	}

	trade := &domain.Trade{
		ID:             ulid.Make().String(),
		SubscriptionID: pos.SubscriptionID,
		InstrumentID:   pos.InstrumentID,
		Timestamp:      g.now(),
		Side:           side,
		Qty:            pos.Qty,
		Price:          price,
	}
	if err := g.trades.SaveTrade(ctx, trade); err != nil {
		return nil, err
	}

	pairs, err := g.trades.OpenTradeExits(ctx, pos.ID)
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		pairs[i].ExitTradeID = trade.ID
		if err := g.trades.SaveTradeExit(ctx, &pairs[i]); err != nil {
			return nil, err
		}
	}

	p := price
	if pos.Side == domain.SideBuy {
		pos.SellPrice = &p
	} else {
		pos.BuyPrice = &p
	}
	pos.Charges = Charges(pos.Qty, *pos.BuyPrice, domain.SideBuy) +
		Charges(pos.Qty, *pos.SellPrice, domain.SideSell)
	pos.PnL = (*pos.SellPrice - *pos.BuyPrice) * float64(pos.Qty)
	pos.Active = false
	if err := g.trades.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	g.log.Info("exited position",
		"subscription", pos.SubscriptionID, "position", pos.ID,
		"side", pos.Side, "qty", pos.Qty, "price", price, "pnl", pos.PnL)
	return trade, nil
}

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"shadowdesk/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker routes orders to the Alpaca trading API as day market
// orders and waits for the fill.
type AlpacaBroker struct {
	client *alpaca.Client
}

// NewAlpacaBroker creates an AlpacaBroker from API credentials. An empty
// baseURL uses the client's default endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}
	return &AlpacaBroker{client: alpaca.NewClient(opts)}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// PlaceOrder submits a market order and polls until it fills. If the order
// has not filled within a few seconds the reference price stands in for the
// fill price so the caller can still book the trade.
func (b *AlpacaBroker) PlaceOrder(ctx context.Context, o Order) (*Fill, error) {
	if o.Qty <= 0 {
		return nil, fmt.Errorf("alpaca: invalid qty %d for %s", o.Qty, o.Symbol)
	}
	side := alpaca.Buy
	if o.Side == domain.SideSell {
		side = alpaca.Sell
	}
	qty := decimal.NewFromInt(int64(o.Qty))
	ord, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      o.Symbol,
		Qty:         &qty,
		Side:        side,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: placing %s %s x%d: %w", o.Side, o.Symbol, o.Qty, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for ord.FilledAvgPrice == nil && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		ord, err = b.client.GetOrder(ord.ID)
		if err != nil {
			return nil, fmt.Errorf("alpaca: polling order %s: %w", ord.ID, err)
		}
	}

	fill := &Fill{OrderID: ord.ID, Price: o.RefPrice, FilledAt: time.Now()}
	if ord.FilledAvgPrice != nil {
		fill.Price = ord.FilledAvgPrice.InexactFloat64()
	}
	if ord.FilledAt != nil {
		fill.FilledAt = *ord.FilledAt
	}
	return fill, nil
}

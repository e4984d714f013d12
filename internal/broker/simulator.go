package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills every order immediately at its reference price.
// Used for paper trading; all orders are retained in memory so tests can
// assert on what was sent.
type SimulatorBroker struct {
	mu    sync.Mutex
	fills []Fill
}

// NewSimulatorBroker creates an empty SimulatorBroker.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// PlaceOrder fills the order at its reference price.
func (b *SimulatorBroker) PlaceOrder(_ context.Context, o Order) (*Fill, error) {
	if o.Qty <= 0 {
		return nil, fmt.Errorf("simulator: invalid qty %d for %s", o.Qty, o.Symbol)
	}
	if o.RefPrice <= 0 {
		return nil, fmt.Errorf("simulator: no reference price for %s", o.Symbol)
	}
	fill := Fill{
		OrderID:  ulid.Make().String(),
		Price:    o.RefPrice,
		FilledAt: time.Now(),
	}
	b.mu.Lock()
	b.fills = append(b.fills, fill)
	b.mu.Unlock()
	return &fill, nil
}

// Fills returns a copy of every fill recorded so far.
func (b *SimulatorBroker) Fills() []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

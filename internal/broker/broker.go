// Package broker abstracts order execution. The engine persists every fill
// it is handed back; the broker decides how (and whether) the order reaches
// a real market.
package broker

import (
	"context"
	"time"

	"shadowdesk/internal/domain"
)

// Order is a request to trade one instrument.
type Order struct {
	Symbol string
	Side   domain.Side
	Qty    int

	// RefPrice is the price the decision was made at. Paper brokers fill
	// at it; live brokers ignore it and report the actual fill.
	RefPrice float64
}

// Fill confirms an executed order.
type Fill struct {
	OrderID  string
	Price    float64
	FilledAt time.Time
}

// Broker executes orders.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// PlaceOrder submits the order and blocks until it fills or fails.
	PlaceOrder(ctx context.Context, o Order) (*Fill, error)
}

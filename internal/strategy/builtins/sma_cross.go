// Package builtins provides the signal implementations that ship with the
// shadowdesk platform.
package builtins

import (
	"fmt"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Signal = (*SMACross)(nil)

// SMACross is a moving-average crossover signal: BUY while the short-period
// average of closes sits above the long-period average, SELL while below,
// HOLD when they are equal.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates an SMACross signal with the specified short and long
// moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Evaluate compares the short and long averages over the close history with
// the current price folded in as the latest observation.
func (s *SMACross) Evaluate(closes []float64, price float64) (domain.Call, error) {
	if len(closes)+1 < s.longPeriod {
		return domain.CallHold, fmt.Errorf("sma-cross: need %d closes, have %d", s.longPeriod-1, len(closes))
	}
	series := append(append([]float64{}, closes...), price)
	short := mean(series[len(series)-s.shortPeriod:])
	long := mean(series[len(series)-s.longPeriod:])
	switch {
	case short > long:
		return domain.CallBuy, nil
	case short < long:
		return domain.CallSell, nil
	}
	return domain.CallHold, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

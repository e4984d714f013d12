package builtins

import (
	"fmt"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Signal = (*Breakout)(nil)

// Breakout is a trailing channel signal: BUY when price clears the highest
// close of the lookback window, SELL when it breaks the lowest, HOLD inside
// the band.
type Breakout struct {
	lookback int
}

// NewBreakout creates a Breakout signal over the given lookback window.
func NewBreakout(lookback int) *Breakout {
	return &Breakout{lookback: lookback}
}

// Name returns "breakout".
func (b *Breakout) Name() string {
	return "breakout"
}

// Evaluate compares the current price to the lookback window's extremes.
func (b *Breakout) Evaluate(closes []float64, price float64) (domain.Call, error) {
	if len(closes) < b.lookback {
		return domain.CallHold, fmt.Errorf("breakout: need %d closes, have %d", b.lookback, len(closes))
	}
	window := closes[len(closes)-b.lookback:]
	high, low := window[0], window[0]
	for _, c := range window[1:] {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}
	switch {
	case price > high:
		return domain.CallBuy, nil
	case price < low:
		return domain.CallSell, nil
	}
	return domain.CallHold, nil
}

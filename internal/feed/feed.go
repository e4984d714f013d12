// Package feed refreshes market data: daily OHLCV history into the bar
// store and last traded prices into the quote store, for every stock group
// the platform trades.
package feed

import (
	"context"
	"time"
)

// Refresher is a scheduled market-data refresh job.
type Refresher interface {
	// Name returns the refresher identifier.
	Name() string

	// Run performs one refresh pass. It returns early when ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// chunk splits symbols into API-call sized batches.
func chunk(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var out [][]string
	for len(symbols) > size {
		out = append(out, symbols[:size])
		symbols = symbols[size:]
	}
	if len(symbols) > 0 {
		out = append(out, symbols)
	}
	return out
}

// dayEnd is the last instant of t's calendar date.
func dayEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// Package jobs holds the scheduled housekeeping tasks that run outside the
// tick loop: the opening-gap circuit breaker, the exchange F&O ban list
// refresh, and the end-of-day P&L snapshot.
package jobs

import "context"

// Job is a named housekeeping task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/store"
)

// Compile-time interface check.
var _ Job = (*GapExitJob)(nil)

// DefaultIndexSymbol is the benchmark index instrument the gap check
// watches.
const DefaultIndexSymbol = "NIFTY50"

// DefaultGapThresholdPct is the index move, in percent of the prior close,
// beyond which one side of the book is forced flat at the open.
const DefaultGapThresholdPct = 0.25

// gapLookbackDays bounds the bar history scanned for the prior close.
const gapLookbackDays = 14

// GapExitJob compares the index's opening price against its prior close
// and raises the account-level index exit flags when the gap exceeds the
// threshold: a gap up forces shorts out, a gap down forces longs out. Both
// flags are rewritten on every run, so a quiet open clears them.
type GapExitJob struct {
	ref      store.RefStore
	quotes   store.QuoteStore
	bars     store.BarStore
	accounts store.AccountStore

	algo      string
	symbol    string
	threshold float64
	log       *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewGapExitJob builds a gap check over the given index instrument symbol
// for accounts subscribed to algo.
func NewGapExitJob(ref store.RefStore, quotes store.QuoteStore, bars store.BarStore, accounts store.AccountStore, algo, symbol string, threshold float64, log *slog.Logger) *GapExitJob {
	return &GapExitJob{
		ref:       ref,
		quotes:    quotes,
		bars:      bars,
		accounts:  accounts,
		algo:      algo,
		symbol:    symbol,
		threshold: threshold,
		log:       log.With("job", "gapexit"),
		now:       time.Now,
	}
}

// SetClock overrides the job's notion of now.
func (j *GapExitJob) SetClock(now func() time.Time) {
	j.now = now
}

// Name implements Job.
func (j *GapExitJob) Name() string { return "gapexit" }

// Run evaluates the gap and persists the index exit flags on every account
// with an active subscription to the job's algo.
func (j *GapExitJob) Run(ctx context.Context) error {
	pct, err := j.gapPercent(ctx)
	if err != nil {
		return fmt.Errorf("gap percent: %w", err)
	}
	shortExit := pct > j.threshold
	longExit := pct < -j.threshold
	j.log.Info("index gap checked",
		"symbol", j.symbol, "gap_pct", pct,
		"long_exit", longExit, "short_exit", shortExit)

	subs, err := j.accounts.ListSubscriptions(ctx, true)
	if err != nil {
		return err
	}
	seen := make(map[int64]bool)
	for _, sub := range subs {
		if sub.Algo != j.algo || seen[sub.AccountID] {
			continue
		}
		seen[sub.AccountID] = true
		acct, err := j.accounts.GetAccount(ctx, sub.AccountID)
		if err != nil {
			j.log.Error("loading account", "account", sub.AccountID, "error", err)
			continue
		}
		acct.LongIndexExit = longExit
		acct.ShortIndexExit = shortExit
		if err := j.accounts.SetAccountFlags(ctx, acct); err != nil {
			j.log.Error("saving account flags", "account", acct.ID, "error", err)
		}
	}
	return nil
}

// gapPercent is the index move since the prior close, in percent. The
// latest stored bar is skipped when it already carries today's date, so a
// bar feed that has run early does not zero the gap.
func (j *GapExitJob) gapPercent(ctx context.Context) (float64, error) {
	inst, err := j.ref.InstrumentBySymbol(ctx, j.symbol)
	if err != nil {
		return 0, fmt.Errorf("resolving index %s: %w", j.symbol, err)
	}
	ltp, err := j.quotes.LTP(ctx, inst.ID)
	if err != nil {
		return 0, fmt.Errorf("index price: %w", err)
	}
	today := j.now()
	bars, err := j.bars.ReadBars(ctx, inst.Symbol, today.AddDate(0, 0, -gapLookbackDays), today)
	if err != nil {
		return 0, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if domain.SameDay(bars[i].Timestamp.In(today.Location()), today) {
			continue
		}
		return (ltp - bars[i].Close) * 100 / bars[i].Close, nil
	}
	return 0, fmt.Errorf("no prior close for %s", inst.Symbol)
}

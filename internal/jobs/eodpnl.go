package jobs

import (
	"context"
	"log/slog"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/engine"
	"shadowdesk/internal/store"
)

// Compile-time interface check.
var _ Job = (*EODPnLJob)(nil)

// EODPnLJob closes the books for the day: every open position gets the
// last traded price stamped as its end-of-day mark, with charges and P&L
// recomputed as if it were exited there, then each account gets a P&L
// snapshot row covering its whole subscription set.
type EODPnLJob struct {
	accounts store.AccountStore
	trades   store.TradeStore
	quotes   store.QuoteStore
	pnl      store.PnLStore
	log      *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewEODPnLJob builds the end-of-day snapshot job.
func NewEODPnLJob(accounts store.AccountStore, trades store.TradeStore, quotes store.QuoteStore, pnl store.PnLStore, log *slog.Logger) *EODPnLJob {
	return &EODPnLJob{
		accounts: accounts,
		trades:   trades,
		quotes:   quotes,
		pnl:      pnl,
		log:      log.With("job", "eodpnl"),
		now:      time.Now,
	}
}

// SetClock overrides the job's notion of now.
func (j *EODPnLJob) SetClock(now func() time.Time) {
	j.now = now
}

// Name implements Job.
func (j *EODPnLJob) Name() string { return "eodpnl" }

// Run marks open positions and writes one snapshot per account. A failing
// account is logged and skipped.
func (j *EODPnLJob) Run(ctx context.Context) error {
	accts, err := j.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for i := range accts {
		if err := j.snapshotAccount(ctx, &accts[i]); err != nil {
			j.log.Error("snapshotting account", "account", accts[i].ID, "error", err)
		}
	}
	return nil
}

func (j *EODPnLJob) snapshotAccount(ctx context.Context, acct *domain.Account) error {
	subs, err := j.accounts.ListAccountSubscriptions(ctx, acct.ID, false)
	if err != nil {
		return err
	}
	var investment, realised, unrealised float64
	for _, sub := range subs {
		amount, err := j.accounts.Investment(ctx, sub.ID)
		if err != nil {
			return err
		}
		investment += amount

		positions, err := j.trades.ListPositions(ctx, sub.ID, false)
		if err != nil {
			return err
		}
		for i := range positions {
			pos := &positions[i]
			if !pos.Active {
				realised += pos.PnL
				continue
			}
			if err := j.markPosition(ctx, pos); err != nil {
				j.log.Error("marking position", "position", pos.ID, "error", err)
				continue
			}
			unrealised += pos.PnL
		}
	}

	snap := &domain.PnLSnapshot{
		AccountID:     acct.ID,
		Date:          domain.Day(j.now()),
		Investment:    investment,
		UnrealisedPnL: unrealised,
		RealisedPnL:   realised,
	}
	if err := j.pnl.SavePnL(ctx, snap); err != nil {
		return err
	}
	j.log.Info("account snapshot",
		"account", acct.ID, "realised", realised, "unrealised", unrealised)
	return nil
}

// markPosition stamps the last traded price as the position's end-of-day
// mark and recomputes charges and P&L against it, round trip included.
func (j *EODPnLJob) markPosition(ctx context.Context, pos *domain.Position) error {
	ltp, err := j.quotes.LTP(ctx, pos.InstrumentID)
	if err != nil {
		return err
	}
	pos.EODPrice = &ltp
	if pos.BuyPrice != nil {
		pos.Charges = engine.Charges(pos.Qty, *pos.BuyPrice, domain.SideBuy) +
			engine.Charges(pos.Qty, ltp, domain.SideSell)
	} else if pos.SellPrice != nil {
		pos.Charges = engine.Charges(pos.Qty, *pos.SellPrice, domain.SideSell) +
			engine.Charges(pos.Qty, ltp, domain.SideBuy)
	}
	switch {
	case pos.Side == domain.SideBuy && pos.BuyPrice != nil:
		pos.PnL = (ltp - *pos.BuyPrice) * float64(pos.Qty)
	case pos.Side == domain.SideSell && pos.SellPrice != nil:
		pos.PnL = (*pos.SellPrice - ltp) * float64(pos.Qty)
	}
	return j.trades.SavePosition(ctx, pos)
}

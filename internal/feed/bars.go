package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"shadowdesk/internal/config"
	"shadowdesk/internal/domain"
	"shadowdesk/internal/store"
	"shadowdesk/internal/util"
)

// Compile-time interface check.
var _ Refresher = (*BarRefresher)(nil)

// BarRefresher pulls daily bars for every stock in the configured groups
// into the bar store. Each pass resumes from the last stored bar per
// symbol; re-fetched days merge over the existing records, so the pass is
// idempotent within a day.
type BarRefresher struct {
	client  *marketdata.Client
	ref     store.RefStore
	bars    store.BarStore
	cal     *util.TradingCalendar
	groups  []string
	start   string
	batch   int
	limiter *util.RateLimiter
	log     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewBarRefresher builds a bar refresher from the Alpaca credentials and
// feed parameters.
func NewBarRefresher(alpacaCfg config.Alpaca, feedCfg config.FeedConfig, ref store.RefStore, bars store.BarStore, cal *util.TradingCalendar, groups []string, log *slog.Logger) *BarRefresher {
	opts := marketdata.ClientOpts{
		APIKey:    alpacaCfg.APIKey,
		APISecret: alpacaCfg.APISecret,
	}
	if alpacaCfg.DataURL != "" {
		opts.BaseURL = alpacaCfg.DataURL
	}
	return &BarRefresher{
		client:  marketdata.NewClient(opts),
		ref:     ref,
		bars:    bars,
		cal:     cal,
		groups:  groups,
		start:   feedCfg.StartDate,
		batch:   feedCfg.BatchSize,
		limiter: util.NewRateLimiter(feedCfg.RateLimitPerMin),
		log:     log.With("refresher", "bars"),
	}
}

// Name returns the refresher identifier.
func (r *BarRefresher) Name() string { return "bars" }

// SetClock overrides the refresher's notion of now.
func (r *BarRefresher) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *BarRefresher) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run fetches daily bars for the whole universe through the last finished
// trading day.
func (r *BarRefresher) Run(ctx context.Context) error {
	floor, err := time.Parse("2006-01-02", r.start)
	if err != nil {
		return fmt.Errorf("parsing feed start date %q: %w", r.start, err)
	}
	end := dayEnd(r.cal.PrevTradingDay(r.clock()))

	symbols, err := universeTickers(ctx, r.ref, r.groups)
	if err != nil {
		return err
	}
	runStart := r.clock()
	var total int
	for _, batch := range chunk(symbols, r.batch) {
		start, err := r.batchStart(ctx, batch, floor, end)
		if err != nil {
			return err
		}
		if !start.Before(end) {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		bars, err := r.fetch(batch, start, end)
		if err != nil {
			r.log.Error("bar batch failed", "symbols", len(batch), "error", err)
			continue
		}
		if err := r.bars.WriteBars(ctx, bars); err != nil {
			return err
		}
		total += len(bars)
		r.log.Info("bar batch stored", "symbols", len(batch), "bars", len(bars), "from", start.Format("2006-01-02"))
	}
	r.log.Info("bar refresh finished",
		"symbols", len(symbols),
		"bars", total,
		"elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// batchStart is the earliest day any symbol in the batch still needs:
// the day after its last stored bar, or the configured floor for a symbol
// with no history.
func (r *BarRefresher) batchStart(ctx context.Context, symbols []string, floor, end time.Time) (time.Time, error) {
	start := end.Add(24 * time.Hour)
	for _, symbol := range symbols {
		stored, err := r.bars.ReadBars(ctx, symbol, floor, end)
		if err != nil {
			return time.Time{}, err
		}
		next := floor
		if len(stored) > 0 {
			next = stored[len(stored)-1].Timestamp.Add(24 * time.Hour)
		}
		if next.Before(start) {
			start = next
		}
	}
	return start, nil
}

func (r *BarRefresher) fetch(symbols []string, start, end time.Time) ([]domain.Bar, error) {
	multiBars, err := r.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	var bars []domain.Bar
	for symbol, sbars := range multiBars {
		for _, b := range sbars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  b.Timestamp,
				Open:       b.Open,
				High:       b.High,
				Low:        b.Low,
				Close:      b.Close,
				Volume:     int64(b.Volume),
				TradeCount: int64(b.TradeCount),
				VWAP:       b.VWAP,
			})
		}
	}
	return bars, nil
}

// universeTickers is the deduplicated, sorted ticker list across groups.
func universeTickers(ctx context.Context, ref store.RefStore, groups []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, group := range groups {
		stocks, err := ref.GroupMembers(ctx, group)
		if err != nil {
			return nil, err
		}
		for _, st := range stocks {
			if seen[st.Ticker] {
				continue
			}
			seen[st.Ticker] = true
			out = append(out, st.Ticker)
		}
	}
	sort.Strings(out)
	return out, nil
}

package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"shadowdesk/internal/config"
	"shadowdesk/internal/domain"
	"shadowdesk/internal/store"
	"shadowdesk/internal/util"
)

// Compile-time interface check.
var _ Refresher = (*QuoteRefresher)(nil)

// QuoteRefresher pulls the latest traded price for every front contract in
// the configured groups into the quote store.
type QuoteRefresher struct {
	client  *marketdata.Client
	ref     store.RefStore
	quotes  store.QuoteStore
	groups  []string
	batch   int
	limiter *util.RateLimiter
	log     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewQuoteRefresher builds a quote refresher from the Alpaca credentials
// and feed parameters.
func NewQuoteRefresher(alpacaCfg config.Alpaca, feedCfg config.FeedConfig, ref store.RefStore, quotes store.QuoteStore, groups []string, log *slog.Logger) *QuoteRefresher {
	opts := marketdata.ClientOpts{
		APIKey:    alpacaCfg.APIKey,
		APISecret: alpacaCfg.APISecret,
	}
	if alpacaCfg.DataURL != "" {
		opts.BaseURL = alpacaCfg.DataURL
	}
	return &QuoteRefresher{
		client:  marketdata.NewClient(opts),
		ref:     ref,
		quotes:  quotes,
		groups:  groups,
		batch:   feedCfg.BatchSize,
		limiter: util.NewRateLimiter(feedCfg.RateLimitPerMin),
		log:     log.With("refresher", "quotes"),
	}
}

// Name returns the refresher identifier.
func (r *QuoteRefresher) Name() string { return "quotes" }

// SetClock overrides the refresher's notion of now.
func (r *QuoteRefresher) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *QuoteRefresher) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run snapshots the latest trade for every front contract. A symbol with
// no trade in the response keeps its prior quote.
func (r *QuoteRefresher) Run(ctx context.Context) error {
	symbols, byVenueSymbol, err := r.frontContracts(ctx)
	if err != nil {
		return err
	}
	var saved int
	for _, batch := range chunk(symbols, r.batch) {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		trades, err := r.client.GetLatestTrades(batch, marketdata.GetLatestTradeRequest{})
		if err != nil {
			r.log.Error("quote batch failed", "symbols", len(batch), "error", err)
			continue
		}
		quotes := make([]domain.Quote, 0, len(trades))
		for symbol, trade := range trades {
			id, ok := byVenueSymbol[symbol]
			if !ok {
				continue
			}
			quotes = append(quotes, domain.Quote{
				InstrumentID: id,
				Price:        trade.Price,
				Timestamp:    trade.Timestamp,
			})
		}
		if err := r.quotes.SaveQuotes(ctx, quotes); err != nil {
			return err
		}
		saved += len(quotes)
	}
	r.log.Info("quote refresh finished", "contracts", len(symbols), "quotes", saved)
	return nil
}

// frontContracts resolves every group member to its front contract,
// returning the venue symbols and the symbol to instrument mapping.
func (r *QuoteRefresher) frontContracts(ctx context.Context) ([]string, map[string]int64, error) {
	today := domain.Day(r.clock())
	byVenueSymbol := map[string]int64{}
	var symbols []string
	for _, group := range r.groups {
		stocks, err := r.ref.GroupMembers(ctx, group)
		if err != nil {
			return nil, nil, err
		}
		for _, st := range stocks {
			inst, err := r.ref.FrontInstrument(ctx, st.ID, today)
			if err != nil {
				r.log.Warn("no front contract for stock", "ticker", st.Ticker, "error", err)
				continue
			}
			if _, dup := byVenueSymbol[inst.Symbol]; dup {
				continue
			}
			byVenueSymbol[inst.Symbol] = inst.ID
			symbols = append(symbols, inst.Symbol)
		}
	}
	return symbols, byVenueSymbol, nil
}

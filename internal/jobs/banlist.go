package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
)

// Compile-time interface check.
var _ Job = (*BanListJob)(nil)

// BanGroup is the stock group holding the tickers currently under an
// exchange F&O ban.
const BanGroup = "banned"

// DefaultBanListURL is the NSE archive publishing the daily security ban
// list.
const DefaultBanListURL = "https://nsearchives.nseindia.com/content/fo/fo_secban.csv"

// BanListJob pulls the exchange's daily F&O ban CSV, replaces the banned
// stock group with it, and folds the tickers into every active non-hedge
// subscription's shadow document. Tickers already on a document stay; a
// stock only leaves the list at the morning reset.
type BanListJob struct {
	client   *http.Client
	url      string
	ref      store.RefStore
	accounts store.AccountStore
	docs     store.DocStore
	log      *slog.Logger
}

// NewBanListJob builds a ban list refresh against the given URL. A nil
// client falls back to http.DefaultClient.
func NewBanListJob(client *http.Client, url string, ref store.RefStore, accounts store.AccountStore, docs store.DocStore, log *slog.Logger) *BanListJob {
	if client == nil {
		client = http.DefaultClient
	}
	return &BanListJob{
		client:   client,
		url:      url,
		ref:      ref,
		accounts: accounts,
		docs:     docs,
		log:      log.With("job", "banlist"),
	}
}

// Name implements Job.
func (j *BanListJob) Name() string { return "banlist" }

// Run fetches the ban list and applies it.
func (j *BanListJob) Run(ctx context.Context) error {
	tickers, err := j.fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching ban list: %w", err)
	}
	j.log.Info("ban list fetched", "tickers", tickers)

	if err := j.replaceGroup(ctx, tickers); err != nil {
		return err
	}

	subs, err := j.accounts.ListSubscriptions(ctx, true)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.IsHedge {
			continue
		}
		if err := j.mergeIntoDoc(ctx, sub.ID, tickers); err != nil {
			j.log.Error("updating ban list", "subscription", sub.ID, "error", err)
		}
	}
	return nil
}

// fetch downloads and parses the ban CSV. The ticker sits in the second
// column; the first line is a header.
func (j *BanListJob) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, err
	}
	// The archive rejects non-browser clients.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", "https://www.bseindia.com/")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ban list returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	var tickers []string
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		if t := strings.TrimSpace(fields[1]); t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers, nil
}

// replaceGroup rewrites the banned stock group. Tickers without reference
// data are logged and skipped.
func (j *BanListJob) replaceGroup(ctx context.Context, tickers []string) error {
	ids := make([]int64, 0, len(tickers))
	for _, t := range tickers {
		st, err := j.ref.GetStockByTicker(ctx, t)
		if errors.Is(err, store.ErrNotFound) {
			j.log.Warn("banned ticker unknown", "ticker", t)
			continue
		}
		if err != nil {
			return err
		}
		ids = append(ids, st.ID)
	}
	return j.ref.ReplaceGroup(ctx, BanGroup, ids)
}

// mergeIntoDoc unions the tickers into the subscription's shadow ban list.
func (j *BanListJob) mergeIntoDoc(ctx context.Context, subscriptionID int64, tickers []string) error {
	doc := shadow.NewDoc()
	raw, err := j.docs.GetDoc(ctx, subscriptionID, shadow.DocKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(raw, doc); err != nil {
			return fmt.Errorf("decoding shadow document: %w", err)
		}
		doc.Normalize()
	}

	merged := make(map[string]bool, len(doc.BannedStocks)+len(tickers))
	for _, t := range doc.BannedStocks {
		merged[t] = true
	}
	for _, t := range tickers {
		merged[t] = true
	}
	doc.BannedStocks = doc.BannedStocks[:0]
	for t := range merged {
		doc.BannedStocks = append(doc.BannedStocks, t)
	}
	sort.Strings(doc.BannedStocks)

	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return j.docs.PutDoc(ctx, subscriptionID, shadow.DocKey, buf)
}

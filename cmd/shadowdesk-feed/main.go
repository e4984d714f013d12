// shadowdesk-feed refreshes market data: daily bars into the parquet
// history and live front-contract prices into the quote store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shadowdesk/internal/config"
	"shadowdesk/internal/feed"
	"shadowdesk/internal/store"
	"shadowdesk/internal/util"
)

func main() {
	names := flag.String("refreshers", "bars,quotes", "comma-separated refreshers to run")
	flag.Parse()

	cfgPath := "config/shadowdesk.yaml"
	if p := os.Getenv("SHADOWDESK_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()

	cal := util.NewTradingCalendar()
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	groups := []string{cfg.Trading.StockGroup}

	byName := map[string]feed.Refresher{
		"bars":   feed.NewBarRefresher(cfg.Alpaca, cfg.Feed, db, bars, cal, groups, logger),
		"quotes": feed.NewQuoteRefresher(cfg.Alpaca, cfg.Feed, db, db, groups, logger),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, name := range strings.Split(*names, ",") {
		r, ok := byName[strings.TrimSpace(name)]
		if !ok {
			log.Fatalf("unknown refresher %q", name)
		}
		logger.Info("running refresher", "refresher", r.Name())
		if err := r.Run(ctx); err != nil {
			log.Fatalf("refresher %s: %v", r.Name(), err)
		}
	}
}

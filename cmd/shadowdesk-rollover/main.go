// shadowdesk-rollover moves every book onto the next futures contract.
// Run once on expiry day, after the session.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shadowdesk/internal/broker"
	"shadowdesk/internal/config"
	"shadowdesk/internal/engine"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
	"shadowdesk/internal/strategy/builtins"
	"shadowdesk/internal/util"
)

func main() {
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
	market := engine.NewMarket(db, db, bars, cal)

	var b broker.Broker
	if cfg.Trading.PaperMode {
		b = broker.NewSimulatorBroker()
	} else {
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}
	gateway := engine.NewGateway(db, db, b, logger)

	sig, err := builtins.Default().Resolve(cfg.Trading.Signal)
	if err != nil {
		log.Fatalf("resolving signal: %v", err)
	}

	driver := engine.NewDriver(engine.DriverConfig{
		Algo:     cfg.Trading.Algo,
		Group:    cfg.Trading.StockGroup,
		Signal:   sig,
		Ref:      db,
		Quotes:   db,
		Accounts: db,
		Docs:     db,
		Trades:   db,
		Market:   market,
		Gateway:  gateway,
		Rules:    shadow.NewRules(cfg.Trading),
		Log:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := driver.Rollover(ctx); err != nil {
		log.Fatalf("rollover: %v", err)
	}
}

// shadowdesk-tick runs one scheduled invocation of the trading drivers.
// With no flags the shadow and trade modes are derived from the wall clock
// via the session timetable; explicit -shadow/-trade (or -split) flags run
// a single slot, which is how backfills and reruns are done.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shadowdesk/internal/broker"
	"shadowdesk/internal/config"
	"shadowdesk/internal/engine"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
	"shadowdesk/internal/strategy/builtins"
	"shadowdesk/internal/util"
)

func main() {
	var (
		shadowMode = flag.String("shadow", "", "explicit shadow mode (e.g. SHADOW, SHADOW_MTM)")
		tradeMode  = flag.String("trade", "", "explicit trade mode (e.g. ENTRY, SHADOWCHECK)")
		splitMode  = flag.String("split", "", "explicit split action (e.g. 9_20, 3_20)")
		at         = flag.String("at", "", "override the clock, IST (2006-01-02 15:04)")
	)
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

	now := time.Now
	if *at != "" {
		t, err := time.ParseInLocation("2006-01-02 15:04", *at, util.IST)
		if err != nil {
			log.Fatalf("parsing -at: %v", err)
		}
		now = func() time.Time { return t }
	}

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
	driver.SetClock(now)
	split := engine.NewSplitDriver(driver)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *splitMode != "":
		if err := split.Run(ctx, engine.SplitAction(*splitMode)); err != nil {
			log.Fatalf("split tick: %v", err)
		}
	case *shadowMode != "" || *tradeMode != "":
		if *shadowMode == "" || *tradeMode == "" {
			log.Fatal("-shadow and -trade must be given together")
		}
		err := driver.Run(ctx, engine.ShadowMode(*shadowMode), engine.TradeMode(*tradeMode))
		if err != nil {
			log.Fatalf("tick: %v", err)
		}
	default:
		t := now()
		slots := engine.SlotsAt(t, cal)
		action, haveSplit := engine.SplitActionAt(t, cal)
		if len(slots) == 0 && !haveSplit {
			logger.Info("nothing scheduled", "time", t.In(util.IST).Format("15:04"))
			return
		}
		for _, slot := range slots {
			if err := driver.Run(ctx, slot.Shadow, slot.Trade); err != nil {
				log.Fatalf("tick %s/%s: %v", slot.Shadow, slot.Trade, err)
			}
		}
		if haveSplit {
			if err := split.Run(ctx, action); err != nil {
				log.Fatalf("split tick %s: %v", action, err)
			}
		}
	}
}

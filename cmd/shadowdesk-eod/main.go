// shadowdesk-eod runs the housekeeping jobs. The default set is the
// end-of-day snapshot; -jobs selects others (gapexit and banlist run in
// the morning, before the session entry slot).
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
	"shadowdesk/internal/jobs"
	"shadowdesk/internal/store"
	"shadowdesk/internal/util"
)

func main() {
	names := flag.String("jobs", "eodpnl", "comma-separated jobs to run (eodpnl, gapexit, banlist)")
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
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	indexSymbol := cfg.Jobs.IndexSymbol
	if indexSymbol == "" {
		indexSymbol = jobs.DefaultIndexSymbol
	}
	threshold := cfg.Jobs.GapThresholdPct
	if threshold == 0 {
		threshold = jobs.DefaultGapThresholdPct
	}
	banURL := cfg.Jobs.BanListURL
	if banURL == "" {
		banURL = jobs.DefaultBanListURL
	}

	byName := map[string]jobs.Job{
		"eodpnl":  jobs.NewEODPnLJob(db, db, db, db, logger),
		"gapexit": jobs.NewGapExitJob(db, db, bars, db, cfg.Trading.Algo, indexSymbol, threshold, logger),
		"banlist": jobs.NewBanListJob(nil, banURL, db, db, db, logger),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, name := range strings.Split(*names, ",") {
		job, ok := byName[strings.TrimSpace(name)]
		if !ok {
			log.Fatalf("unknown job %q", name)
		}
		logger.Info("running job", "job", job.Name())
		if err := job.Run(ctx); err != nil {
			log.Fatalf("job %s: %v", job.Name(), err)
		}
	}
}

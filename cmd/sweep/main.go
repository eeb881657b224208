package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"avsar.org/internal/obs"
	"avsar.org/internal/opportunity"
	"avsar.org/internal/store/pg"
)

// sweep runs the trust decay pass over every stored opportunity. With no
// flags it sweeps once and exits, which suits cron; -interval keeps it
// running as a daemon.
func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("AVSAR_PG_DSN"), "PostgreSQL DSN")
		interval = flag.Duration("interval", 0, "Rerun the sweep on this interval (0 = run once)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AVSAR_PG_DSN")
	}

	obs.Init()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	svc := opportunity.NewService(store, store.Users())
	sw := opportunity.NewSweeper(store, svc)

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		stats, err := sw.Sweep(ctx, time.Now().UTC())
		if err != nil {
			log.Fatalf("sweep: %v", err)
		}
		log.Printf("sweep: scanned=%d due=%d recomputed=%d failed=%d",
			stats.Scanned, stats.Due, stats.Recomputed, stats.Failed)
	}

	run()
	if *interval <= 0 {
		return
	}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		run()
	}
}

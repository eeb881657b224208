package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"avsar.org/internal/auth"
	"avsar.org/internal/discovery"
	"avsar.org/internal/geocode"
	"avsar.org/internal/httpapi"
	"avsar.org/internal/obs"
	"avsar.org/internal/opportunity"
	"avsar.org/internal/store/pg"
	"avsar.org/internal/stream"
	"avsar.org/internal/users"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store opportunity.Store
		dir   users.Directory
		probe httpapi.ReadyProbe
		pgs   *pg.Store
	)
	if dsn := os.Getenv("AVSAR_PG_DSN"); dsn != "" {
		var err error
		pgs, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgs
		dir = pgs.Users()
		probe = httpapi.ReadyProbe{DB: pgs.DB()}
	} else {
		// In-memory mode for local development and demos.
		store = opportunity.NewInMemory()
		dir = users.NewInMemory()
	}

	svc := opportunity.NewService(store, dir)
	searcher := discovery.NewSearcher(store)

	geocodeOpts := []geocode.Option{}
	if base := os.Getenv("AVSAR_GEOCODE_URL"); base != "" {
		geocodeOpts = append(geocodeOpts, geocode.WithBaseURL(base))
	}
	if name := os.Getenv("AVSAR_GEOCODE_COUNTRY"); name != "" {
		geocodeOpts = append(geocodeOpts, geocode.WithCountry(name, os.Getenv("AVSAR_GEOCODE_COUNTRY_CODE")))
	}
	geocoder := geocode.NewClient(geocodeOpts...)

	var verifier *auth.Verifier
	if secret := os.Getenv("AVSAR_AUTH_SECRET"); secret != "" {
		var err error
		verifier, err = auth.NewVerifier([]byte(secret))
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
	} else if pgs == nil {
		// Dev mode: mint an ephemeral secret so the write endpoints stay
		// usable without configuration.
		var err error
		verifier, err = auth.NewEphemeralVerifier()
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		token, err := verifier.Sign(auth.Principal{UserID: "dev-user", DisplayName: "Dev User"}, 24*time.Hour)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		log.Printf("AVSAR_AUTH_SECRET not set; signing with an ephemeral dev secret")
		log.Printf("dev bearer token (dev-user, 24h): %s", token)
	} else {
		log.Printf("AVSAR_AUTH_SECRET not set; write endpoints will reject every request")
	}

	api := httpapi.New(probe, version, httpapi.Deps{
		Service:  svc,
		Searcher: searcher,
		Geocoder: geocoder,
		Users:    dir,
		Stream:   stream.New(),
		Verifier: verifier,
	})

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE connections stay open
		IdleTimeout:       60 * time.Second,
	}

	// Background decay sweep, unless a dedicated sweep deployment handles it.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	if interval := sweepInterval(); interval > 0 {
		go runSweepLoop(sweepCtx, opportunity.NewSweeper(store, svc), interval)
	}

	log.Printf("Starting avsar-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgs != nil {
		_ = pgs.Close()
	}
	log.Println("Stopped")
}

func listenAddr() string {
	if addr := os.Getenv("AVSAR_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func sweepInterval() time.Duration {
	raw := os.Getenv("AVSAR_SWEEP_INTERVAL")
	if raw == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("invalid AVSAR_SWEEP_INTERVAL %q: %v", raw, err)
	}
	return d
}

func runSweepLoop(ctx context.Context, sw *opportunity.Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := sw.Sweep(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("decay sweep failed: %v", err)
				continue
			}
			log.Printf("decay sweep: scanned=%d due=%d recomputed=%d failed=%d",
				stats.Scanned, stats.Due, stats.Recomputed, stats.Failed)
		}
	}
}

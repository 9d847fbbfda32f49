package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/dashboard"
	"caseline.org/internal/httpapi"
	"caseline.org/internal/notify"
	"caseline.org/internal/obs"
	"caseline.org/internal/store/pg"
	"caseline.org/internal/stream"
	"caseline.org/internal/triage"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := envOr("CASELINE_ADDR", ":8080")
	schedule := envOr("CASELINE_SWEEP_SCHEDULE", "@every 1m")
	cfg := notify.DefaultConfig()
	if lead := envDuration("CASELINE_ALERT_LEAD"); lead > 0 {
		cfg.AlertLead = lead
	}
	if window := envDuration("CASELINE_VOLUME_WINDOW"); window > 0 {
		cfg.VolumeWindow = window
	}
	if threshold := envInt("CASELINE_VOLUME_THRESHOLD"); threshold > 0 {
		cfg.VolumeThreshold = threshold
	}

	clk := clock.System()
	strm := stream.New()

	// Either everything lives in PostgreSQL or everything lives in memory.
	// The engine, dashboard and API are wired identically in both modes.
	var (
		db          *sql.DB
		caseSvc     casefile.Service
		sweepSource casefile.SweepSource
		notifyStore notify.Store
		ticketSvc   triage.Service
	)
	if dsn := os.Getenv("CASELINE_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		caseSvc = store
		sweepSource = store
		notifyStore = store
		ticketSvc = store.Tickets()
	} else {
		log.Println("CASELINE_PG_DSN not set, using in-memory stores")
		mem := casefile.NewInMemory(clk)
		caseSvc = mem
		sweepSource = mem
		notifyStore = notify.NewInMemoryStore()
	}

	engine := notify.NewEngine(cfg, sweepSource, notifyStore, clk, strm)
	observed := casefile.Observe(caseSvc, engine)
	if ticketSvc == nil {
		ticketSvc = triage.NewInMemory(clk, observed)
	}
	dash := dashboard.New(observed, engine, clk)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, observed, ticketSvc, engine, dash, strm)

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						1<<20)))))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE subscribers hold the response open
		IdleTimeout:       60 * time.Second,
	}

	sweeper := notify.NewSweeper(engine, schedule)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("start sweeper: %v", err)
	}

	log.Printf("Starting caseline-api %s on %s (sweep %s)", version, srv.Addr, schedule)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sweeper.Stop()
	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return n
}

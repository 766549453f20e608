package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sentra.org/internal/authn"
	"sentra.org/internal/config"
	"sentra.org/internal/httpapi"
	"sentra.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Without a DSN the service runs against an in-memory store. Useful for
	// local development, useless for anything else: sessions vanish on restart.
	var (
		db    *sql.DB
		store authn.Store
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = authn.NewPGStore(db)
	} else {
		log.Print("SENTRA_PG_DSN not set, using in-memory store")
		store = authn.NewMemStore()
	}

	issuer, err := authn.NewIssuer([]byte(cfg.SigningSecret),
		authn.WithIssuerName(cfg.Issuer),
		authn.WithAccessTTL(cfg.AccessTTL),
		authn.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	svc := authn.NewService(store, issuer)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, svc, version,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSecond))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sentra-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.SetReady(false)
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

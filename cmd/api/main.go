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

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
	"authgate.dev/internal/config"
	"authgate.dev/internal/httpapi"
	"authgate.dev/internal/obs"
)

var version = "0.3.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres when a DSN is configured, in-memory stores otherwise. The
	// in-memory mode keeps local development and smoke tests standalone.
	var (
		db         *sql.DB
		store      auth.Store
		auditStore audit.Store
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		log.Println("AUTHGATE_PG_DSN not set; using in-memory stores")
		store = auth.NewInMemory()
		auditStore = audit.NewInMemory()
	}

	signer, err := auth.NewTokenSigner(cfg.JWTSecret,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	recorder := audit.NewRecorder(auditStore, audit.WithBufferLen(cfg.AuditBufferLen))

	svc, err := auth.NewService(store, signer, recorder)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	// Role seeding is idempotent, so it runs in both modes; the migrate CLI
	// seeds them for Postgres as well.
	if err := svc.Bootstrap(context.Background()); err != nil {
		log.Fatalf("bootstrap roles: %v", err)
	}
	if cfg.AdminPassword != "" {
		if err := svc.EnsureAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
	} else {
		log.Println("AUTHGATE_ADMIN_PASSWORD not set; skipping admin account bootstrap")
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, auditStore)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	recorder.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jodi.app/internal/audit"
	"jodi.app/internal/auth"
	"jodi.app/internal/config"
	"jodi.app/internal/httpapi"
	"jodi.app/internal/obs"
	"jodi.app/internal/store/pg"
	"jodi.app/internal/store/redisstore"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}

	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	// Sessions live in Redis when an address is configured, otherwise in
	// Postgres alongside everything else.
	var sessions auth.SessionStore = store
	if cfg.RedisAddr != "" {
		rs, err := redisstore.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer rs.Close()
		sessions = rs
	}

	tokens, err := auth.NewTokenManager(cfg.AuthSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	recorder := audit.NewRecorder(store)

	svc, err := auth.NewService(store, sessions, tokens, auth.WithAuditSink(recorder))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, recorder, httpapi.ReadyProbe{DB: store.DB()}, httpapi.Limits{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}, cfg.Version)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting jodi-auth %s on %s", cfg.Version, srv.Addr)

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
	log.Println("Stopped")
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/internal/api"
	"github.com/scrapeworks/osint-worker/internal/cache"
	"github.com/scrapeworks/osint-worker/internal/config"
	"github.com/scrapeworks/osint-worker/internal/jobserver"
	"github.com/scrapeworks/osint-worker/internal/scraper"
	"github.com/scrapeworks/osint-worker/internal/session"
	"github.com/scrapeworks/osint-worker/internal/store"
	"github.com/scrapeworks/osint-worker/internal/vault"
)

func main() {
	jc := config.ReadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	databaseURL := jc.GetString("database_url", "")
	if databaseURL == "" {
		logrus.Fatal("DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logrus.Fatalf("Failed to create database pool: %v", err)
	}
	defer pool.Close()

	db, err := store.New(ctx, pool)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	db.LogSchema(ctx)

	credentials := vault.New(jc.GetString("master_encryption_key", ""), db)
	sessions := session.NewStore(jc.DataDir(), jc.GetDuration("session_ttl_seconds", 86400))
	resultCache := cache.New(cache.ConfigFrom(jc))
	driver := scraper.NewTwitterDriver()

	server := jobserver.NewJobServer(jc.GetInt("max_jobs", 4), jc, jobserver.Dependencies{
		Store:       db,
		Credentials: credentials,
		Sessions:    sessions,
		Cache:       resultCache,
		Driver:      driver,
	})
	go server.Run(ctx)

	if err := api.Start(ctx, jc, server, credentials); err != nil {
		logrus.Fatalf("Server exited: %v", err)
	}
	logrus.Info("Shutdown complete")
}

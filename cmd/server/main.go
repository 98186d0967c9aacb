// Package main is the entry point for the starline optimizer service.
//
// The service wraps a portfolio optimization engine behind an HTTP API:
// clients post a ticker universe and a policy, the engine fetches market
// data, solves the allocation problem and returns target weights with
// whole-share trade lists. A cron job keeps a local price history database
// in sync with Yahoo Finance so optimizations can run offline.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tksohan/starline-optimizer/internal/clients/yahoo"
	"github.com/tksohan/starline-optimizer/internal/config"
	"github.com/tksohan/starline-optimizer/internal/database"
	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
	"github.com/tksohan/starline-optimizer/internal/scheduler"
	"github.com/tksohan/starline-optimizer/internal/server"
	"github.com/tksohan/starline-optimizer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.AppEnv != "production",
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("env", cfg.AppEnv).Msg("Starting starline optimizer")

	// Databases: durable price history plus an ephemeral cache
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	historyRepo, err := marketdata.NewHistoryRepository(historyDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history repository")
	}

	cache, err := marketdata.NewCache(cacheDB.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache")
	}

	// Yahoo in front, synced history behind it: when the upstream API is
	// down or rate limiting, panels come from the local database instead.
	yahooClient := yahoo.NewClient(log)
	yahooProvider := marketdata.NewYahooProvider(yahooClient, cache, log)
	historyProvider := marketdata.NewHistoryProvider(historyRepo, log)
	provider := marketdata.NewFallbackProvider(yahooProvider, historyProvider, log)

	// Background price sync into the history database
	sched := scheduler.New(log)
	syncJob := scheduler.NewPriceSyncJob(yahooClient, historyRepo, cfg.SyncSymbols, cfg.LookbackDays, log)
	if err := sched.AddJob(cfg.SyncSchedule, syncJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.SyncSchedule).Msg("Failed to register price sync job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		HistoryDB: historyDB,
		CacheDB:   cacheDB,
		Cache:     cache,
		Provider:  provider,
		Scheduler: sched,
		SyncJob:   syncJob,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Block until SIGINT or SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

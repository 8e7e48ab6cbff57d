// Package main is the entry point for the QuantDesk trading dashboard backend.
// It wires the two databases (durable state and ephemeral cache), the broker
// client, the domain services, the job scheduler and the HTTP server, then
// runs until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/karanmehta/quantdesk/internal/auth"
	"github.com/karanmehta/quantdesk/internal/broker/upstox"
	"github.com/karanmehta/quantdesk/internal/cache"
	"github.com/karanmehta/quantdesk/internal/config"
	"github.com/karanmehta/quantdesk/internal/database"
	"github.com/karanmehta/quantdesk/internal/marketdata"
	"github.com/karanmehta/quantdesk/internal/orders"
	"github.com/karanmehta/quantdesk/internal/portfolio"
	"github.com/karanmehta/quantdesk/internal/reliability"
	"github.com/karanmehta/quantdesk/internal/scheduler"
	"github.com/karanmehta/quantdesk/internal/server"
	"github.com/karanmehta/quantdesk/internal/state"
	"github.com/karanmehta/quantdesk/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting QuantDesk")

	// The state database carries the capital ledger and audit trail, so it
	// runs the maximum-safety profile. The cache is rebuildable from the
	// broker and trades durability for speed.
	stateDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "state.db"),
		Profile: database.ProfileLedger,
		Name:    "state",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state database")
	}
	defer stateDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	stateStore, err := state.New(stateDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize state store")
	}

	cacheStore, err := cache.New(cacheDB.Conn(), cache.Options{
		SweepInterval: cfg.CacheSweepInterval,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache store")
	}

	tokenManager := auth.New(stateStore, "upstox", cfg.UpstoxAPIKey, cfg.UpstoxRedirectURI, log)
	brokerClient := upstox.NewClient(tokenManager, log)

	marketDataService := marketdata.New(brokerClient, cacheStore, log)
	portfolioService := portfolio.New(brokerClient, cacheStore, stateStore, log)
	ordersService := orders.New(brokerClient, cacheStore, stateStore, log)

	// Off-site backups only when a bucket is configured; local archives are
	// written either way.
	var backupService *reliability.BackupService
	if cfg.Backup != nil {
		var objectStore reliability.ObjectStore
		if cfg.Backup.Enabled {
			s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize object store, backups stay local")
			} else {
				objectStore = s3Client
			}
		}
		backupService = reliability.NewBackupService(
			map[string]*database.DB{"state": stateDB, "cache": cacheDB},
			objectStore,
			cfg.DataDir,
			cfg.Backup.KeepCount,
			log,
		)
	}

	sched := scheduler.New(log)

	sweepJob := cache.NewSweepJob(cacheStore, log)
	sweepSchedule := fmt.Sprintf("@every %s", cfg.CacheSweepInterval)
	if err := sched.AddJob(sweepSchedule, sweepJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache sweep")
	}

	pnlSyncJob := portfolio.NewSyncJob(portfolioService, log)
	// Every minute during market hours (09:15-15:30 IST), Monday to Friday.
	if err := sched.AddJob("0 * 9-15 * * 1-5", pnlSyncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule session P&L sync")
	}

	var backupJob *reliability.BackupJob
	if backupService != nil {
		backupJob = reliability.NewBackupJob(backupService)
		if err := sched.AddJob(cfg.Backup.Schedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backups")
		}
	}

	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		CacheDB:      cacheDB,
		StateDB:      stateDB,
		CacheStore:   cacheStore,
		StateStore:   stateStore,
		TokenManager: tokenManager,
		MarketData:   marketDataService,
		Portfolio:    portfolioService,
		Orders:       ordersService,
		Backup:       backupService,
		Scheduler:    sched,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
	})

	srv.RegisterJob(sweepJob)
	srv.RegisterJob(pnlSyncJob)
	if backupJob != nil {
		srv.RegisterJob(backupJob)
	}

	sched.Start()
	defer sched.Stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flush WAL pages into the main database files before closing.
	for _, db := range []*database.DB{stateDB, cacheDB} {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Msg("WAL checkpoint failed on shutdown")
		}
	}

	log.Info().Msg("Server stopped")
}

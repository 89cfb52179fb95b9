package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stars-service/stars_service/internal/api/handlers"
	"github.com/stars-service/stars_service/internal/api/routes"
	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/domain/services/credit"
	"github.com/stars-service/stars_service/internal/domain/services/escrow"
	"github.com/stars-service/stars_service/internal/domain/services/intake"
	"github.com/stars-service/stars_service/internal/domain/services/reconciliation"
	"github.com/stars-service/stars_service/internal/domain/services/referral"
	"github.com/stars-service/stars_service/internal/domain/services/risk"
	"github.com/stars-service/stars_service/internal/infrastructure/cache"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
	"github.com/stars-service/stars_service/internal/infrastructure/repositories"
	"github.com/stars-service/stars_service/internal/workers/outbox"
	"github.com/stars-service/stars_service/pkg/graceful"
	"github.com/stars-service/stars_service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	// Redis is optional: without it the risk gate falls back to ledger queries
	var redisClient cache.RedisClient
	if client, err := cache.NewRedisClient(&cfg.Redis, log.Zap()); err != nil {
		log.Warn("redis unavailable, risk fast-path disabled", "error", err)
	} else {
		redisClient = client
	}

	// Repositories
	depositRepo := repositories.NewDepositRepository(db)
	auditRepo := repositories.NewWebhookAuditRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db)
	userRepo := repositories.NewUserRepository(db)
	catalogRepo := repositories.NewCatalogRepository(db)
	holdRepo := repositories.NewHoldRepository(db)
	referralRepo := repositories.NewReferralRepository(db)
	outboxRepo := repositories.NewOutboxRepository(db)
	auctionRepo := repositories.NewAuctionRepository(db)

	runner := database.NewSQLRunner(db)

	// Services
	referralCfg := entities.ReferralConfig{
		Enabled:      cfg.Referral.Enabled,
		Percent:      cfg.Referral.Percent,
		ApplyOnTopup: cfg.Referral.ApplyOnTopup,
		ApplyOnEarn:  cfg.Referral.ApplyOnEarn,
	}
	referralSvc := referral.NewService(userRepo, ledgerRepo, referralRepo, referralCfg, log)
	riskGate := risk.NewGate(ledgerRepo, redisClient, cfg.Risk, log)
	creditSvc := credit.NewService(depositRepo, ledgerRepo, userRepo, catalogRepo, outboxRepo, riskGate, referralSvc, runner, log)
	intakeSvc := intake.NewService(depositRepo, auditRepo, catalogRepo, creditSvc, runner, cfg, log)
	escrowSvc := escrow.NewService(holdRepo, userRepo, ledgerRepo, outboxRepo, runner, log)
	auctionSettler := escrow.NewAuctionSettler(auctionRepo, escrowSvc)
	reconSvc := reconciliation.NewService(userRepo, ledgerRepo, depositRepo, escrowSvc, cfg.Payment, log)

	scheduler, err := reconciliation.NewScheduler(reconSvc, cfg.Reconciliation, log)
	if err != nil {
		log.Fatal("failed to build reconciliation scheduler", "error", err)
	}
	scheduler.Start()

	dispatcher := outbox.NewDispatcher(outboxRepo, outbox.NewLogNotifier(log), cfg.Workers, log)
	dispatcher.Start(context.Background())

	// HTTP surface
	router := routes.SetupRoutes(cfg, log, routes.Handlers{
		Core:     handlers.NewCoreHandlers(db, log),
		Webhooks: handlers.NewWebhookHandlers(intakeSvc, log),
		Deposits: handlers.NewDepositHandlers(intakeSvc, creditSvc, catalogRepo, log),
		Account:  handlers.NewAccountHandlers(escrowSvc, creditSvc, log),
		Admin:    handlers.NewAdminHandlers(creditSvc, auctionSettler, log),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, db, log)
	shutdown.Register(shutdownFunc(func(time.Duration) error {
		dispatcher.Stop()
		return nil
	}))
	shutdown.Register(shutdownFunc(func(time.Duration) error {
		scheduler.Stop()
		return nil
	}))
	if redisClient != nil {
		shutdown.Register(shutdownFunc(func(time.Duration) error {
			return redisClient.Close()
		}))
	}
	shutdown.WaitForShutdown()
}

type shutdownFunc func(timeout time.Duration) error

func (f shutdownFunc) Shutdown(timeout time.Duration) error {
	return f(timeout)
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/rxledger/internal/chain"
	"github.com/jwalitptl/rxledger/internal/config"
	"github.com/jwalitptl/rxledger/internal/handler"
	dispenseHandler "github.com/jwalitptl/rxledger/internal/handler/dispense"
	inventoryHandler "github.com/jwalitptl/rxledger/internal/handler/inventory"
	reconciliationHandler "github.com/jwalitptl/rxledger/internal/handler/reconciliation"
	riskHandler "github.com/jwalitptl/rxledger/internal/handler/risk"
	"github.com/jwalitptl/rxledger/internal/middleware"
	"github.com/jwalitptl/rxledger/internal/repository/postgres"
	"github.com/jwalitptl/rxledger/internal/router"
	"github.com/jwalitptl/rxledger/internal/service/dispense"
	"github.com/jwalitptl/rxledger/internal/service/merkle"
	"github.com/jwalitptl/rxledger/internal/service/prescription"
	"github.com/jwalitptl/rxledger/internal/service/reconciler"
	"github.com/jwalitptl/rxledger/internal/service/risk"
	"github.com/jwalitptl/rxledger/internal/service/snapshot"
	"github.com/jwalitptl/rxledger/internal/service/stock"
	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
	"github.com/jwalitptl/rxledger/pkg/security"
	"github.com/jwalitptl/rxledger/pkg/store"

	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.NewLogger(&logger.Config{
		Level:  level,
		Pretty: cfg.Log.Pretty,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	oracle, err := chain.NewHTTPOracle(chain.HTTPConfig{
		BaseURL:     cfg.Chain.GatewayURL,
		Timeout:     cfg.Chain.CallTimeout,
		MaxFailures: cfg.Chain.MaxFailures,
		Cooldown:    cfg.Chain.Cooldown,
	})
	if err != nil {
		log.Fatal(err, "failed to build chain oracle")
	}

	enc, err := security.NewAESEncryptor([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		log.Fatal(err, "invalid encryption key")
	}

	batchRepo := postgres.NewBatchRepository(db)
	prescriptionRepo := postgres.NewPrescriptionRepository(db, enc)
	checkpointRepo := postgres.NewCheckpointRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	m := metrics.NewMetrics("rxledger", "api")
	clk := clock.System()

	// Rapid-dispense history lives in Redis so both api and worker see the
	// same window. Falls back to in-process memory when Redis is down so risk
	// scoring never blocks dispensing.
	riskStore, err := store.NewRedis(context.Background(), cfg.Redis.URL)
	if err != nil {
		log.Error(err, "redis unavailable, using in-memory risk store")
		riskStore = store.NewMemory(time.Minute)
	}

	snapshotSvc := snapshot.NewService(batchRepo)
	merkleSvc := merkle.NewService(snapshotSvc, oracle, log, m, cfg.Chain.CallTimeout)
	stockSvc := stock.NewService(batchRepo, outboxRepo, merkleSvc, clk, log, m)
	statusSvc := prescription.NewService(prescriptionRepo, log)
	reconcilerSvc := reconciler.NewService(prescriptionRepo, checkpointRepo, outboxRepo, statusSvc, oracle, clk, log, m)
	riskSvc := risk.NewService(riskStore, clk, log)
	dispenseSvc := dispense.NewService(statusSvc, stockSvc, merkleSvc, riskSvc, outboxRepo, clk, log, m)

	auth := middleware.NewAuthMiddleware(cfg.Security.JWTSecret)
	ops := handler.NewHandler(db, oracle)

	r := router.NewRouter(auth, ops, router.Config{
		RateLimit: rate.Limit(cfg.Security.RateLimit),
		RateBurst: int(cfg.Security.RateLimit * 2),
	},
		dispenseHandler.NewHandler(dispenseSvc, statusSvc),
		inventoryHandler.NewHandler(stockSvc, merkleSvc),
		reconciliationHandler.NewHandler(reconcilerSvc, checkpointRepo),
		riskHandler.NewHandler(riskSvc),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Best effort: recover prescriptions the chain knows about but the store
	// lost. A gateway outage here must not keep the API down.
	go reconcilerSvc.StartupRecovery(ctx, cfg.Chain.StartupLookback)

	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "forced shutdown")
	}
	log.Info("server stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/rxledger/internal/chain"
	"github.com/jwalitptl/rxledger/internal/config"
	"github.com/jwalitptl/rxledger/internal/repository/postgres"
	"github.com/jwalitptl/rxledger/internal/service/merkle"
	"github.com/jwalitptl/rxledger/internal/service/prescription"
	"github.com/jwalitptl/rxledger/internal/service/reconciler"
	"github.com/jwalitptl/rxledger/internal/service/snapshot"
	"github.com/jwalitptl/rxledger/internal/service/stock"
	internalworker "github.com/jwalitptl/rxledger/internal/worker"
	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/messaging/redis"
	"github.com/jwalitptl/rxledger/pkg/metrics"
	"github.com/jwalitptl/rxledger/pkg/security"
	"github.com/jwalitptl/rxledger/pkg/worker"
)

// workerEnv overrides the shared config for this process only. Deployments
// tune worker cadence without touching the api config.
type workerEnv struct {
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL"`
	OutboxBatchSize   int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxInterval    time.Duration `envconfig:"OUTBOX_INTERVAL"`
	HealthPort        string        `envconfig:"HEALTH_PORT" default:":8081"`
}

func setupHealthCheck(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatal(err, "health check server failed")
		}
	}()
}

func main() {
	bootLog := zerolog.New(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	var env workerEnv
	if err := envconfig.Process("RXLEDGER_WORKER", &env); err != nil {
		bootLog.Fatal().Err(err).Msg("failed to read worker env")
	}
	if env.SweepInterval > 0 {
		cfg.Worker.SweepInterval = env.SweepInterval
	}
	if env.ReconcileInterval > 0 {
		cfg.Worker.ReconcileInterval = env.ReconcileInterval
	}
	if env.OutboxBatchSize > 0 {
		cfg.Worker.OutboxBatchSize = env.OutboxBatchSize
	}
	if env.OutboxInterval > 0 {
		cfg.Worker.OutboxInterval = env.OutboxInterval
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

	broker, err := redis.NewBroker(redis.Config{
		URL:        cfg.Redis.URL,
		MaxRetries: 3,
	}, log.Zerolog())
	if err != nil {
		log.Fatal(err, "failed to create redis broker")
	}
	defer broker.Close()

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

	m := metrics.NewMetrics("rxledger", "worker")
	clk := clock.System()

	snapshotSvc := snapshot.NewService(batchRepo)
	merkleSvc := merkle.NewService(snapshotSvc, oracle, log, m, cfg.Chain.CallTimeout)
	stockSvc := stock.NewService(batchRepo, outboxRepo, merkleSvc, clk, log, m)
	statusSvc := prescription.NewService(prescriptionRepo, log)
	reconcilerSvc := reconciler.NewService(prescriptionRepo, checkpointRepo, outboxRepo, statusSvc, oracle, clk, log, m)

	processor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:    cfg.Worker.OutboxBatchSize,
		PollInterval: cfg.Worker.OutboxInterval,
	}, log, m)
	sweeper := internalworker.NewExpirySweepWorker(stockSvc, statusSvc, prescriptionRepo, clk, cfg.Worker.SweepInterval, log, m)
	poller := internalworker.NewReconcilePoller(reconcilerSvc, cfg.Worker.ReconcileInterval, log)

	setupHealthCheck(env.HealthPort, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down workers")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){processor.Start, sweeper.Start, poller.Start} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(start)
	}
	wg.Wait()
	log.Info("workers stopped")
}

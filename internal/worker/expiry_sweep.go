// Package worker holds the ledger's domain background loops. Each worker is
// a ticker loop owned by the caller's context; per-tick failures are logged
// and the loop keeps running.
package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
	"github.com/jwalitptl/rxledger/internal/service/prescription"
	"github.com/jwalitptl/rxledger/internal/service/stock"
	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
)

// ExpirySweepWorker periodically retires expired state: inventory batches
// past their expiry leave the verifiable inventory, and prescriptions past
// theirs move to the terminal EXPIRED status.
type ExpirySweepWorker struct {
	stock         *stock.Service
	statuses      *prescription.Service
	prescriptions repository.PrescriptionRepository
	clock         clock.Clock
	interval      time.Duration
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

func NewExpirySweepWorker(
	stockSvc *stock.Service,
	statuses *prescription.Service,
	prescriptions repository.PrescriptionRepository,
	clk clock.Clock,
	interval time.Duration,
	log *logger.Logger,
	m *metrics.Metrics,
) *ExpirySweepWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpirySweepWorker{
		stock:         stockSvc,
		statuses:      statuses,
		prescriptions: prescriptions,
		clock:         clk,
		interval:      interval,
		logger:        log,
		metrics:       m,
	}
}

func (w *ExpirySweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting expiry sweep worker", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down expiry sweep worker")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over both kinds of expirable state.
func (w *ExpirySweepWorker) Sweep(ctx context.Context) {
	if _, err := w.stock.SweepExpired(ctx); err != nil {
		w.logger.Error(err, "batch expiry sweep failed")
	}
	if err := w.sweepPrescriptions(ctx); err != nil {
		w.logger.Error(err, "prescription expiry sweep failed")
	}
}

func (w *ExpirySweepWorker) sweepPrescriptions(ctx context.Context) error {
	expired, err := w.prescriptions.ListExpiredUnterminated(ctx, w.clock.Now())
	if err != nil {
		return err
	}

	for _, p := range expired {
		res, err := w.statuses.TransitionStatus(ctx, p.BlockchainID, model.PrescriptionStatusExpired, model.TransitionEffects{})
		if err != nil {
			w.logger.Error(err, "failed to expire prescription", "prescription_id", p.BlockchainID)
			continue
		}
		if res.Applied {
			w.metrics.ExpiredPrescriptions.Inc()
			w.logger.Info("prescription expired", "prescription_id", p.BlockchainID)
		}
	}
	return nil
}
